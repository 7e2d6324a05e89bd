package mmap

import "errors"

// AccessPattern is a paging hint passed to the kernel.
type AccessPattern int

const (
	// AccessDefault clears any previous hint.
	AccessDefault AccessPattern = iota
	// AccessSequential suits a full scan, such as verifying a records file.
	AccessSequential
	// AccessRandom suits block lookups driven by scrolling.
	AccessRandom
	// AccessWillNeed asks for read-ahead of a region about to be decoded.
	AccessWillNeed
	// AccessDontNeed releases pages of a region that scrolled out of reach.
	AccessDontNeed
)

var (
	// ErrClosed is returned when a closed mapping is accessed.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for files whose size cannot be mapped.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrOutOfBounds is returned for a region outside the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
	// ErrInvalidOffset is returned for a negative read offset.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)
