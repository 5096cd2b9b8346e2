// Package compress turns serialized documents into self-describing frames.
//
// The storage class picks the algorithm family: Hot uses LZ4 block
// compression, Archive uses Zstd. Every frame records its algorithm, the
// uncompressed length and a CRC32C of the uncompressed bytes, so Decompress
// never needs to be told how a frame was produced and detects corruption.
//
// Compress and Decompress hold no shared mutable state beyond pooled Zstd
// coders and may be called concurrently.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/arxis/aviladb/internal/hash"
)

// StorageClass selects the compression family for a document.
type StorageClass uint8

const (
	// Hot favours speed (LZ4).
	Hot StorageClass = iota
	// Archive favours ratio (Zstd).
	Archive
)

func (c StorageClass) String() string {
	switch c {
	case Hot:
		return "hot"
	case Archive:
		return "archive"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// ParseStorageClass parses "hot" or "archive".
func ParseStorageClass(s string) (StorageClass, error) {
	switch s {
	case "hot", "":
		return Hot, nil
	case "archive":
		return Archive, nil
	default:
		return Hot, fmt.Errorf("unknown storage class %q", s)
	}
}

// Algorithm identifies the payload encoding inside a frame.
type Algorithm uint8

const (
	// None stores the payload verbatim.
	None Algorithm = 0
	// LZ4 is LZ4 block compression.
	LZ4 Algorithm = 1
	// Zstd is Zstandard compression.
	Zstd Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// Algorithm returns the algorithm family of the class.
func (c StorageClass) Algorithm() Algorithm {
	if c == Archive {
		return Zstd
	}
	return LZ4
}

// ErrCorrupt is returned for any frame that cannot be decoded exactly.
var ErrCorrupt = errors.New("compressed frame corrupt")

const (
	frameMagic      = 0xA7
	HeaderSize      = 10
	incompressRatio = 0.9

	// An LZ4 block never expands by more than this factor.
	lz4MaxRatio = 255

	// zstdPresizeRatio caps the output buffer reserved up front, so a forged
	// RawSize costs nothing until the payload actually decodes.
	zstdPresizeRatio = 16
)

// Header describes a frame without decoding its payload.
type Header struct {
	Algorithm Algorithm
	RawSize   int
	Checksum  uint32
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(math.MaxUint32),
	)
}

// Compress encodes src for the given storage class. If compression does not
// save at least 10%, the payload is stored uncompressed.
func Compress(class StorageClass, src []byte) ([]byte, error) {
	if uint64(len(src)) > math.MaxUint32 {
		return nil, fmt.Errorf("compress: input of %d bytes exceeds frame limit", len(src))
	}

	var (
		payload []byte
		err     error
		algo    = class.Algorithm()
	)
	if len(src) > 0 {
		switch algo {
		case LZ4:
			payload, err = compressLZ4(src)
		case Zstd:
			payload, err = compressZstd(src)
		}
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", algo, err)
		}
	}
	if len(payload) == 0 || float64(len(payload)) > float64(len(src))*incompressRatio {
		algo, payload = None, src
	}

	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = frameMagic
	frame[1] = byte(algo)
	binary.LittleEndian.PutUint32(frame[2:], uint32(len(src)))
	binary.LittleEndian.PutUint32(frame[6:], hash.CRC32C(src))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

func compressLZ4(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, err
	}
	// n == 0 means incompressible.
	return dst[:n], nil
}

func compressZstd(src []byte) ([]byte, error) {
	enc, err := getZstdEncoder()
	if err != nil {
		return nil, err
	}
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(src, nil), nil
}

// Inspect parses the frame header.
func Inspect(frame []byte) (Header, error) {
	if len(frame) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(frame))
	}
	if frame[0] != frameMagic {
		return Header{}, fmt.Errorf("%w: bad magic 0x%02x", ErrCorrupt, frame[0])
	}
	h := Header{
		Algorithm: Algorithm(frame[1]),
		RawSize:   int(binary.LittleEndian.Uint32(frame[2:])),
		Checksum:  binary.LittleEndian.Uint32(frame[6:]),
	}
	if h.Algorithm > Zstd {
		return Header{}, fmt.Errorf("%w: unknown algorithm %d", ErrCorrupt, frame[1])
	}
	return h, nil
}

// Decompress reverses Compress. The returned slice never aliases frame.
func Decompress(frame []byte) ([]byte, error) {
	h, err := Inspect(frame)
	if err != nil {
		return nil, err
	}
	payload := frame[HeaderSize:]

	var out []byte
	switch h.Algorithm {
	case None:
		if len(payload) != h.RawSize {
			return nil, fmt.Errorf("%w: stored length %d, header says %d", ErrCorrupt, len(payload), h.RawSize)
		}
		out = append([]byte(nil), payload...)
	case LZ4:
		if h.RawSize > len(payload)*lz4MaxRatio {
			return nil, fmt.Errorf("%w: lz4 payload of %d bytes cannot hold %d", ErrCorrupt, len(payload), h.RawSize)
		}
		out = make([]byte, h.RawSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrCorrupt, err)
		}
		if n != h.RawSize {
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, header says %d", ErrCorrupt, n, h.RawSize)
		}
	case Zstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		out, err = dec.DecodeAll(payload, make([]byte, 0, min(h.RawSize, len(payload)*zstdPresizeRatio)))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
		}
		if len(out) != h.RawSize {
			return nil, fmt.Errorf("%w: zstd produced %d bytes, header says %d", ErrCorrupt, len(out), h.RawSize)
		}
	}

	if hash.CRC32C(out) != h.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return out, nil
}
