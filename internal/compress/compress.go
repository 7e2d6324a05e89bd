// Package compress frames record blocks with an optional LZ4 or ZSTD body.
//
// Every encoded block starts with an 8-byte header:
//
//	[uncompressed size u32 LE][compressed size u32 LE][body]
//
// A compressed size of 0 means the body is stored raw. Encode falls back to a
// raw body when compression saves less than 10%.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type selects the compression algorithm of a records file.
type Type uint8

const (
	// None stores bodies raw.
	None Type = 0
	// LZ4 favours decode speed.
	LZ4 Type = 1
	// ZSTD favours ratio.
	ZSTD Type = 2
)

// HeaderSize is the size of a block header.
const HeaderSize = 8

// rawRatio is the compressed/raw size above which a body is stored raw.
const rawRatio = 0.9

// ErrCorrupt is returned for blocks that cannot be decoded.
var ErrCorrupt = errors.New("compress: corrupt block")

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ParseType parses the name returned by Type.String.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("compress: unknown type %q", s)
	}
}

var (
	zstdEncoders sync.Pool
	zstdDecoders sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoders.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoders.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

// Encode appends the framed block for data to dst.
func Encode(dst, data []byte, t Type) ([]byte, error) {
	var body []byte

	switch t {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		// n == 0 means lz4 found the data incompressible.
		body = buf[:n]
	case ZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		body = enc.EncodeAll(data, nil)
		zstdEncoders.Put(enc)
	default:
		return nil, fmt.Errorf("compress: unknown type %d", t)
	}

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(data)))

	if len(body) == 0 || float64(len(body)) > float64(len(data))*rawRatio {
		dst = append(dst, hdr[:]...)
		return append(dst, data...), nil
	}

	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(body)))
	dst = append(dst, hdr[:]...)
	return append(dst, body...), nil
}

// Sizes returns the header fields of block.
func Sizes(block []byte) (uncompressed, compressed uint32, err error) {
	if len(block) < HeaderSize {
		return 0, 0, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(block))
	}
	return binary.LittleEndian.Uint32(block[0:]), binary.LittleEndian.Uint32(block[4:]), nil
}

// Decode returns the payload of one framed block. Raw bodies are returned
// without copying.
func Decode(block []byte, t Type) ([]byte, error) {
	rawSize, bodySize, err := Sizes(block)
	if err != nil {
		return nil, err
	}

	if bodySize == 0 {
		if uint64(len(block)) < HeaderSize+uint64(rawSize) {
			return nil, fmt.Errorf("%w: raw body truncated", ErrCorrupt)
		}
		return block[HeaderSize : HeaderSize+rawSize], nil
	}

	if uint64(len(block)) < HeaderSize+uint64(bodySize) {
		return nil, fmt.Errorf("%w: compressed body truncated", ErrCorrupt)
	}
	body := block[HeaderSize : HeaderSize+bodySize]
	out := make([]byte, rawSize)

	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint32(n) != rawSize {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return out, nil

	case ZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoders.Put(dec)

		decoded, err := dec.DecodeAll(body, out[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != rawSize {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return decoded, nil

	default:
		return nil, fmt.Errorf("%w: compressed body for type %s", ErrCorrupt, t)
	}
}
