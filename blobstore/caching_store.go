package blobstore

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/rollwin/internal/cache"
)

// DefaultCacheBlockSize is the block size used when none is given.
const DefaultCacheBlockSize = 64 * 1024

// maxParallelRuns bounds concurrent backend reads of one ReadAt.
const maxParallelRuns = 16

// CachingStore wraps a BlobStore with a block cache for reads. Writes pass
// through and invalidate the blocks of the written blob.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
}

// NewCachingStore creates a CachingStore. blockSize defaults to
// DefaultCacheBlockSize when <= 0.
func NewCachingStore(inner BlobStore, c cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultCacheBlockSize
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
	}
}

// Open opens the inner blob and wraps it.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &CachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

// Create invalidates name and passes through.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.invalidate(name)
	return s.inner.Create(ctx, name)
}

// Put invalidates name and passes through.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Delete invalidates name and passes through.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List passes through.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(k cache.BlockKey) bool { return k.Path == name })
}

// CachingBlob reads through the block cache.
type CachingBlob struct {
	inner     Blob
	cache     cache.BlockCache
	name      string
	blockSize int64
}

// Close closes the inner blob. Cached blocks stay.
func (b *CachingBlob) Close() error { return b.inner.Close() }

// Size returns the inner blob size.
func (b *CachingBlob) Size() int64 { return b.inner.Size() }

func (b *CachingBlob) key(blk int64) cache.BlockKey {
	return cache.BlockKey{Path: b.name, Offset: uint64(blk)}
}

// ReadAt fills missing blocks of the request, then copies from the cache.
func (b *CachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	size := b.Size()
	if off < 0 || off >= size {
		return 0, io.EOF
	}

	want := p
	if off+int64(len(want)) > size {
		want = want[:size-off]
	}

	first := off / b.blockSize
	last := (off + int64(len(want)) - 1) / b.blockSize

	blocks, err := b.fill(ctx, first, last)
	if err != nil {
		return 0, err
	}

	read := 0
	for blk := first; blk <= last; blk++ {
		data := blocks[blk-first]
		blkStart := blk * b.blockSize

		from := max(blkStart, off) - blkStart
		dst := max(blkStart, off) - off
		if from >= int64(len(data)) {
			break
		}
		read += copy(want[dst:], data[from:])
	}

	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

type blockRun struct {
	start, count int64
}

// fill returns blocks first..last, reading contiguous runs of missing blocks
// with one backend request each.
func (b *CachingBlob) fill(ctx context.Context, first, last int64) ([][]byte, error) {
	blocks := make([][]byte, last-first+1)

	var runs []blockRun
	for blk := first; blk <= last; blk++ {
		if data, ok := b.cache.Get(ctx, b.key(blk)); ok {
			blocks[blk-first] = data
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].start+runs[n-1].count == blk {
			runs[n-1].count++
			continue
		}
		runs = append(runs, blockRun{start: blk, count: 1})
	}

	if len(runs) == 0 {
		return blocks, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRuns)

	for _, run := range runs {
		g.Go(func() error {
			byteStart := run.start * b.blockSize
			byteLen := min(run.count*b.blockSize, b.Size()-byteStart)
			if byteLen <= 0 {
				return nil
			}

			buf := make([]byte, byteLen)
			n, err := b.inner.ReadAt(gctx, buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]

			for i := int64(0); i < run.count; i++ {
				lo := i * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))

				// Copy so one cached block does not pin the whole run buffer.
				block := append([]byte(nil), buf[lo:hi]...)
				b.cache.Set(gctx, b.key(run.start+i), block)
				// Each goroutine owns a disjoint part of blocks.
				blocks[run.start+i-first] = block
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// ReadRange streams through ReadAt, so the range is served from the cache.
func (b *CachingBlob) ReadRange(ctx context.Context, off, length int64) (ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if off < 0 || off >= b.Size() {
		return nil, io.EOF
	}
	end := min(off+length, b.Size())
	return io.NopCloser(&sectionReader{blob: b, ctx: ctx, off: off, limit: end}), nil
}

type sectionReader struct {
	blob  *CachingBlob
	ctx   context.Context
	off   int64
	limit int64
}

func (r *sectionReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}
