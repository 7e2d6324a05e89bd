package mmap

import "io"

// Region is a view of part of a Mapping. It reads sequentially from the start
// of the view and does not own the memory.
type Region struct {
	parent *Mapping
	offset int
	size   int
	pos    int
}

// Region returns a view of size bytes at offset. A view running past the end
// of the mapping is truncated.
func (m *Mapping) Region(offset, size int) (*Region, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if offset < 0 || size < 0 || offset > len(m.data) {
		return nil, ErrOutOfBounds
	}
	size = min(size, len(m.data)-offset)
	return &Region{parent: m, offset: offset, size: size}, nil
}

// Bytes returns the bytes of the view, or nil once the parent is closed.
func (r *Region) Bytes() []byte {
	if r.parent.closed.Load() {
		return nil
	}
	return r.parent.data[r.offset : r.offset+r.size]
}

// Len returns the size of the view.
func (r *Region) Len() int { return r.size }

// Read implements io.Reader over the view.
func (r *Region) Read(p []byte) (int, error) {
	if r.parent.closed.Load() {
		return 0, ErrClosed
	}
	if r.pos >= r.size {
		return 0, io.EOF
	}
	n := copy(p, r.parent.data[r.offset+r.pos:r.offset+r.size])
	r.pos += n
	return n, nil
}

// Close implements io.Closer. The parent mapping stays open.
func (r *Region) Close() error { return nil }

// Advise passes an access hint for the view only.
func (r *Region) Advise(pattern AccessPattern) error {
	if r.parent.closed.Load() {
		return ErrClosed
	}
	return osAdvise(r.parent.data[r.offset:r.offset+r.size], pattern)
}
