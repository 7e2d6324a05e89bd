// Package blobstore abstracts the object storage packed datasets live in.
//
// A variant is stored as a few immutable blobs (records file, manifest,
// CURRENT pointer); the record store reads compressed block runs out of them
// with ranged reads.
//
// # Implementations
//
//   - MemoryStore: in-process, for tests and simulation
//   - LocalStore: files under a directory, read through mmap
//   - CachingStore: block cache in front of any BlobStore
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3, with s3.DDBCommitStore for CURRENT pointers
//
// Remote stores should implement ReadRange with a single ranged GET.
package blobstore
