// Package s3 stores packed datasets in Amazon S3.
//
//	store, err := s3.NewFromDefaultConfig(ctx, "my-bucket", "datasets/")
//
// Record blocks are read with ranged GETs; blobs are written through the
// multipart upload manager. DDBCommitStore adds a DynamoDB-backed CURRENT
// pointer per variant so concurrent packers cannot publish over each other.
package s3
