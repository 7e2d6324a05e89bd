package recordstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/rollwin/blobstore"
	"github.com/hupe1980/rollwin/codec"
	"github.com/hupe1980/rollwin/core"
	"github.com/hupe1980/rollwin/internal/compress"
	"github.com/hupe1980/rollwin/internal/loader"
	"github.com/hupe1980/rollwin/resource"
)

// DefaultParallelism bounds the concurrent block-run reads of one FetchRange.
const DefaultParallelism = 8

// Option configures a Store.
type Option func(*Store)

// WithResourceController charges block reads against rc's IO budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(s *Store) {
		s.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCodec sets the codec manifests are decoded with.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithParallelism sets the number of block runs read concurrently.
func WithParallelism(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// Store serves records of packed variants from a BlobStore.
type Store struct {
	blobs       blobstore.BlobStore
	rc          *resource.Controller
	logger      *slog.Logger
	codec       codec.Codec
	parallelism int

	loads     singleflight.Group
	mu        sync.RWMutex
	manifests map[string]*Manifest
	closed    atomic.Bool
}

// New creates a Store reading from blobs.
func New(blobs blobstore.BlobStore, opts ...Option) *Store {
	s := &Store{
		blobs:       blobs,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		codec:       codec.Default,
		parallelism: DefaultParallelism,
		manifests:   make(map[string]*Manifest),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Manifest returns the current manifest of variant. Concurrent callers share
// one load; the result is cached until Refresh.
func (s *Store) Manifest(ctx context.Context, variant string) (*Manifest, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ValidateVariant(variant); err != nil {
		return nil, err
	}

	s.mu.RLock()
	m, ok := s.manifests[variant]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	// The load outlives a cancelled caller so the other waiters still get a result.
	ch := s.loads.DoChan(variant, func() (any, error) {
		m, err := s.loadManifest(context.WithoutCancel(ctx), variant)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.manifests[variant] = m
		s.mu.Unlock()
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Manifest), nil
	}
}

// Refresh drops the cached manifest of variant so the next read follows CURRENT again.
func (s *Store) Refresh(variant string) {
	s.mu.Lock()
	delete(s.manifests, variant)
	s.mu.Unlock()
	s.loads.Forget(variant)
}

func (s *Store) loadManifest(ctx context.Context, variant string) (*Manifest, error) {
	name, err := s.resolve(ctx, variant)
	if err != nil {
		return nil, err
	}

	data, err := blobstore.ReadAll(ctx, s.blobs, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("recordstore: read %s: %w", name, err)
	}

	m := &Manifest{}
	if err := s.codec.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, name, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Variant != variant {
		return nil, fmt.Errorf("%w: %s belongs to variant %q", ErrInvalidManifest, name, m.Variant)
	}

	s.logger.Debug("loaded manifest",
		"variant", variant,
		"manifest", name,
		"generation", m.Generation,
		"records", m.Total,
		"blocks", len(m.Blocks),
	)
	return m, nil
}

// resolve follows CURRENT, falling back to the legacy manifest name.
func (s *Store) resolve(ctx context.Context, variant string) (string, error) {
	ptr, err := blobstore.ReadAll(ctx, s.blobs, CurrentName(variant))
	if errors.Is(err, blobstore.ErrNotFound) {
		return legacyManifestName(variant), nil
	}
	if err != nil {
		return "", fmt.Errorf("recordstore: read %s: %w", CurrentName(variant), err)
	}

	name := strings.TrimSpace(string(ptr))
	if name == "" {
		return "", fmt.Errorf("%w: empty %s", ErrInvalidManifest, CurrentName(variant))
	}
	if !strings.Contains(name, "/") {
		name = variant + "/" + name
	}
	return name, nil
}

// run is a span of adjacent blocks read with one ranged request.
type run struct {
	first, last int
	want        []int
}

// FetchRange returns the records at indices, sorted by index. Indices outside
// the variant are omitted.
func (s *Store) FetchRange(ctx context.Context, variant string, indices []int) ([]core.Record, error) {
	m, err := s.Manifest(ctx, variant)
	if err != nil {
		return nil, err
	}

	runs := plan(m, indices)
	if len(runs) == 0 {
		return nil, nil
	}

	blob, err := s.blobs.Open(ctx, m.RecordsFile)
	if err != nil {
		return nil, fmt.Errorf("recordstore: open %s: %w", m.RecordsFile, err)
	}
	defer blob.Close()

	typ, _ := m.CompressionType()
	results := make([][]core.Record, len(runs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, r := range runs {
		g.Go(func() error {
			recs, err := s.readRun(gctx, blob, m, typ, r)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]core.Record, 0, len(indices))
	for _, recs := range results {
		out = append(out, recs...)
	}

	s.logger.Debug("fetched records",
		"variant", variant,
		"requested", len(indices),
		"returned", len(out),
		"runs", len(runs),
	)
	return out, nil
}

// plan groups the in-range indices by block and joins adjacent blocks.
func plan(m *Manifest, indices []int) []run {
	sorted := slices.Clone(indices)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var runs []run
	for _, idx := range sorted {
		blk := m.BlockOf(idx)
		if blk < 0 {
			continue
		}
		if n := len(runs); n > 0 && blk <= runs[n-1].last+1 {
			runs[n-1].last = blk
			runs[n-1].want = append(runs[n-1].want, idx)
			continue
		}
		runs = append(runs, run{first: blk, last: blk, want: []int{idx}})
	}
	return runs
}

func (s *Store) readRun(ctx context.Context, blob blobstore.Blob, m *Manifest, typ compress.Type, r run) ([]core.Record, error) {
	off := m.Blocks[r.first].Offset
	end := m.Blocks[r.last].Offset + m.Blocks[r.last].Length

	rc, err := blob.ReadRange(ctx, off, end-off)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ErrCorruptBlock{Variant: m.Variant, Block: r.first, Err: err}
	}
	defer rc.Close()

	data := make([]byte, end-off)
	if _, err := io.ReadFull(resource.NewRateLimitedReader(ctx, rc, s.rc), data); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ErrCorruptBlock{Variant: m.Variant, Block: r.first, Err: err}
	}

	out := make([]core.Record, 0, len(r.want))
	want := r.want
	for blk := r.first; blk <= r.last && len(want) > 0; blk++ {
		info := m.Blocks[blk]
		if want[0] >= info.End() {
			continue
		}
		frame := data[info.Offset-off : info.Offset-off+info.Length]
		payload, err := compress.Decode(frame, typ)
		if err != nil {
			return nil, &ErrCorruptBlock{Variant: m.Variant, Block: blk, Err: err}
		}
		out, want, err = decodeBlock(payload, info, want, out)
		if err != nil {
			return nil, &ErrCorruptBlock{Variant: m.Variant, Block: blk, Err: err}
		}
	}
	return out, nil
}

var errShortBlock = errors.New("record extends past block end")

// decodeBlock appends the records of want that fall in info and returns the
// remaining indices.
func decodeBlock(payload []byte, info BlockInfo, want []int, out []core.Record) ([]core.Record, []int, error) {
	pos := 0
	for idx := info.First; idx < info.End() && len(want) > 0; idx++ {
		n, w := binary.Uvarint(payload[pos:])
		if w <= 0 {
			return nil, nil, fmt.Errorf("bad length prefix of record %d", idx)
		}
		pos += w
		if uint64(len(payload)-pos) < n {
			return nil, nil, fmt.Errorf("%w: record %d", errShortBlock, idx)
		}
		if idx == want[0] {
			out = append(out, core.Record{Index: idx, Text: string(payload[pos : pos+int(n)])})
			want = want[1:]
		}
		pos += int(n)
	}
	return out, want, nil
}

// Close drops cached manifests. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	s.mu.Lock()
	clear(s.manifests)
	s.mu.Unlock()
	return nil
}

var _ loader.Fetcher = (*Store)(nil)
