package recordstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/rollwin/blobstore"
	"github.com/hupe1980/rollwin/codec"
	"github.com/hupe1980/rollwin/internal/compress"
)

// DefaultBlockRecords is the number of records per block.
const DefaultBlockRecords = 256

// Compression selects the block body encoding.
type Compression = compress.Type

const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZSTD = compress.ZSTD
)

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(s string) (Compression, error) {
	return compress.ParseType(s)
}

// Writer packs records into framed blocks.
//
// A block body is a sequence of uvarint-length-prefixed records.
type Writer struct {
	w            io.Writer
	typ          compress.Type
	blockRecords int

	raw     []byte
	pending int
	first   int
	offset  int64
	blocks  []BlockInfo
	frame   []byte
	err     error
}

// NewWriter creates a writer emitting blocks of blockRecords records to w.
func NewWriter(w io.Writer, t compress.Type, blockRecords int) *Writer {
	if blockRecords <= 0 {
		blockRecords = DefaultBlockRecords
	}
	return &Writer{w: w, typ: t, blockRecords: blockRecords}
}

// Append adds the next record.
func (w *Writer) Append(text string) error {
	if w.err != nil {
		return w.err
	}
	w.raw = binary.AppendUvarint(w.raw, uint64(len(text)))
	w.raw = append(w.raw, text...)
	w.pending++
	if w.pending == w.blockRecords {
		return w.Flush()
	}
	return nil
}

// Flush writes the partial block, if any.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.pending == 0 {
		return nil
	}

	frame, err := compress.Encode(w.frame[:0], w.raw, w.typ)
	if err != nil {
		w.err = err
		return err
	}
	if _, err := w.w.Write(frame); err != nil {
		w.err = err
		return err
	}

	w.blocks = append(w.blocks, BlockInfo{
		First:  w.first,
		Count:  w.pending,
		Offset: w.offset,
		Length: int64(len(frame)),
	})
	w.first += w.pending
	w.offset += int64(len(frame))
	w.pending = 0
	w.raw = w.raw[:0]
	w.frame = frame
	return nil
}

// Blocks returns the blocks written so far.
func (w *Writer) Blocks() []BlockInfo { return w.blocks }

// Len returns the number of records appended.
func (w *Writer) Len() int { return w.first + w.pending }

// PackOptions configures Pack.
type PackOptions struct {
	Compression  Compression
	BlockRecords int
	// Codec encodes the manifest. Nil uses codec.Default.
	Codec  codec.Codec
	Logger *slog.Logger
	// Generation overrides the next generation number. Zero picks one past
	// the highest existing manifest.
	Generation uint64
}

// Pack writes texts as a new generation of variant and publishes it.
// Record i is texts[i]. CURRENT is updated last, so readers see either the
// previous or the new generation.
func Pack(ctx context.Context, store blobstore.BlobStore, variant string, texts []string, opts PackOptions) (*Manifest, error) {
	if err := ValidateVariant(variant); err != nil {
		return nil, err
	}
	c := opts.Codec
	if c == nil {
		c = codec.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	gen := opts.Generation
	if gen == 0 {
		latest, err := LatestGeneration(ctx, store, variant)
		if err != nil {
			return nil, err
		}
		gen = latest + 1
	}

	recordsName := RecordsName(variant, gen)
	blocks, err := writeRecords(ctx, store, recordsName, texts, opts)
	if err != nil {
		return nil, fmt.Errorf("recordstore: write %s: %w", recordsName, err)
	}

	m := &Manifest{
		Version:     FormatVersion,
		Variant:     variant,
		Generation:  gen,
		Total:       len(texts),
		Compression: opts.Compression.String(),
		Codec:       c.Name(),
		RecordsFile: recordsName,
		Blocks:      blocks,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	data, err := c.Marshal(m)
	if err != nil {
		return nil, err
	}
	manifestName := ManifestName(variant, gen)
	if err := store.Put(ctx, manifestName, data); err != nil {
		return nil, fmt.Errorf("recordstore: write %s: %w", manifestName, err)
	}
	if err := store.Put(ctx, CurrentName(variant), []byte(manifestName)); err != nil {
		return nil, fmt.Errorf("recordstore: publish %s: %w", manifestName, err)
	}

	logger.Info("packed variant",
		"variant", variant,
		"generation", gen,
		"records", m.Total,
		"blocks", len(blocks),
		"bytes", m.Size(),
		"compression", m.Compression,
	)
	return m, nil
}

func writeRecords(ctx context.Context, store blobstore.BlobStore, name string, texts []string, opts PackOptions) (_ []BlockInfo, err error) {
	wb, err := store.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	closed := false
	defer func() {
		if err != nil && !closed {
			err = errors.Join(err, blobstore.Abort(wb))
		}
	}()

	w := NewWriter(wb, opts.Compression, opts.BlockRecords)
	for i, text := range texts {
		if i%w.blockRecords == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := w.Append(text); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	if err := wb.Sync(); err != nil {
		return nil, err
	}
	closed = true
	if err := wb.Close(); err != nil {
		return nil, err
	}
	return w.Blocks(), nil
}

// LatestGeneration returns the highest manifest generation of variant, or 0.
func LatestGeneration(ctx context.Context, store blobstore.BlobStore, variant string) (uint64, error) {
	names, err := store.List(ctx, variant+"/manifest-")
	if err != nil {
		return 0, err
	}
	var latest uint64
	for _, name := range names {
		if n, ok := parseGeneration(name); ok && n > latest {
			latest = n
		}
	}
	return latest, nil
}
