// Package recordstore packs the records of a dataset variant into compressed
// blocks and serves ranged reads of them.
//
// Layout of a variant inside a BlobStore:
//
//	<variant>/records-<n>.bin    framed blocks, see internal/compress
//	<variant>/manifest-<n>.json  block offsets of generation n
//	<variant>/CURRENT            name of the active manifest
//
// A variant without CURRENT is read from <variant>/manifest.json.
//
// Store.FetchRange groups the requested indices by block, joins adjacent
// blocks into one ranged read and reads the runs in parallel.
package recordstore
