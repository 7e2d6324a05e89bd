// Package mmap maps record blobs of a local dataset into memory.
//
// A packed variant is one immutable records file that is read at random
// block offsets as the viewport moves. Mapping it read-only lets the local
// blob store serve those reads straight from the page cache.
//
//	m, err := mmap.Open("kjv/records-1.bin")
//	if err != nil { ... }
//	defer m.Close()
//
//	r, _ := m.Region(off, n) // one compressed block run
//	_ = r.Advise(mmap.AccessWillNeed)
//
// Unix uses mmap(2) and madvise(2); Windows uses MapViewOfFile and treats
// Advise as a no-op.
//
// A Mapping is safe for concurrent reads. Close is idempotent; slices obtained
// from Bytes or a Region must not be used after Close returns.
package mmap
