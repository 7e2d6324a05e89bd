package recordstore

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/rollwin/codec"
	"github.com/hupe1980/rollwin/internal/compress"
)

const (
	// CurrentFileName names the pointer to the active manifest of a variant.
	CurrentFileName = "CURRENT"
	// LegacyManifestFileName is read when a variant has no CURRENT pointer.
	LegacyManifestFileName = "manifest.json"
	// FormatVersion is the manifest format written by this package.
	FormatVersion = 1
)

var (
	// ErrNotFound is returned when a variant has no manifest.
	ErrNotFound = errors.New("recordstore: manifest not found")
	// ErrIncompatibleVersion is returned for manifests of an unknown format.
	ErrIncompatibleVersion = errors.New("recordstore: incompatible manifest version")
	// ErrInvalidManifest is returned when block offsets do not describe the records file.
	ErrInvalidManifest = errors.New("recordstore: invalid manifest")
	// ErrInvalidVariant is returned for variant names that cannot be used as a directory.
	ErrInvalidVariant = errors.New("recordstore: invalid variant")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("recordstore: closed")
)

// ErrCorruptBlock reports a block that could not be read or decoded.
type ErrCorruptBlock struct {
	Variant string
	Block   int
	Err     error
}

func (e *ErrCorruptBlock) Error() string {
	return fmt.Sprintf("recordstore: corrupt block %d of %q: %v", e.Block, e.Variant, e.Err)
}

func (e *ErrCorruptBlock) Unwrap() error { return e.Err }

// BlockInfo locates one compressed block inside the records file.
type BlockInfo struct {
	First  int   `json:"first"`
	Count  int   `json:"count"`
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// End returns the index after the last record of the block.
func (b BlockInfo) End() int { return b.First + b.Count }

// Manifest describes one packed generation of a variant.
type Manifest struct {
	Version     int         `json:"version"`
	Variant     string      `json:"variant"`
	Generation  uint64      `json:"generation"`
	Total       int         `json:"total"`
	Compression string      `json:"compression"`
	Codec       string      `json:"codec"`
	RecordsFile string      `json:"records_file"`
	Blocks      []BlockInfo `json:"blocks"`
	CreatedAt   time.Time   `json:"created_at"`
}

// CompressionType parses the Compression field.
func (m *Manifest) CompressionType() (compress.Type, error) {
	return compress.ParseType(m.Compression)
}

// Validate checks that the blocks tile [0, Total) and the records file without gaps.
func (m *Manifest) Validate() error {
	if m.Version != FormatVersion {
		return fmt.Errorf("%w: %d", ErrIncompatibleVersion, m.Version)
	}
	if _, err := m.CompressionType(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.Codec != "" {
		if _, ok := codec.ByName(m.Codec); !ok {
			return fmt.Errorf("%w: unknown codec %q", ErrInvalidManifest, m.Codec)
		}
	}
	if m.Total > 0 && m.RecordsFile == "" {
		return fmt.Errorf("%w: missing records file", ErrInvalidManifest)
	}

	next, off := 0, int64(0)
	for i, b := range m.Blocks {
		if b.First != next || b.Count <= 0 {
			return fmt.Errorf("%w: block %d covers [%d,%d), want start %d", ErrInvalidManifest, i, b.First, b.End(), next)
		}
		if b.Offset != off || b.Length < compress.HeaderSize {
			return fmt.Errorf("%w: block %d at offset %d length %d", ErrInvalidManifest, i, b.Offset, b.Length)
		}
		next = b.End()
		off += b.Length
	}
	if next != m.Total {
		return fmt.Errorf("%w: blocks hold %d records, total is %d", ErrInvalidManifest, next, m.Total)
	}
	return nil
}

// BlockOf returns the block holding index, or -1.
func (m *Manifest) BlockOf(index int) int {
	if index < 0 || index >= m.Total {
		return -1
	}
	i := sort.Search(len(m.Blocks), func(i int) bool { return m.Blocks[i].End() > index })
	if i == len(m.Blocks) {
		return -1
	}
	return i
}

// Size returns the records file size described by the blocks.
func (m *Manifest) Size() int64 {
	if len(m.Blocks) == 0 {
		return 0
	}
	last := m.Blocks[len(m.Blocks)-1]
	return last.Offset + last.Length
}

// ValidateVariant rejects names that are empty, nested or hidden.
func ValidateVariant(variant string) error {
	if variant == "" || strings.ContainsAny(variant, `/\`) || strings.HasPrefix(variant, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidVariant, variant)
	}
	return nil
}

// RecordsName returns the records file of a generation.
func RecordsName(variant string, gen uint64) string {
	return path.Join(variant, fmt.Sprintf("records-%06d.bin", gen))
}

// ManifestName returns the manifest file of a generation.
func ManifestName(variant string, gen uint64) string {
	return path.Join(variant, fmt.Sprintf("manifest-%06d.json", gen))
}

// CurrentName returns the CURRENT pointer of a variant.
func CurrentName(variant string) string {
	return path.Join(variant, CurrentFileName)
}

func legacyManifestName(variant string) string {
	return path.Join(variant, LegacyManifestFileName)
}

// parseGeneration extracts n from "<variant>/manifest-<n>.json".
func parseGeneration(name string) (uint64, bool) {
	base := path.Base(name)
	if !strings.HasPrefix(base, "manifest-") || !strings.HasSuffix(base, ".json") {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(base, "manifest-"), ".json"), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
