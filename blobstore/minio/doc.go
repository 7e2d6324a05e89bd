// Package minio stores packed datasets on MinIO or any S3-compatible server
// (Ceph, Garage, SeaweedFS) through the MinIO client.
//
//	store, err := minio.Dial("localhost:9000", "minioadmin", "minioadmin", false, "datasets", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = recordstore.Pack(ctx, store, "kjv", records, recordstore.PackOptions{})
//
// Record blocks are fetched with ranged GETs, so only the block runs a
// scroll position needs are transferred.
package minio
