package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	// frameMagic identifies knowcache binary frames (ASCII "KNC1").
	frameMagic = 0x4B4E4331
	// frameVersion is the current frame format version.
	frameVersion = 1

	// frame flags
	flagZstd = 1 << 0
)

var (
	ErrInvalidMagic    = errors.New("codec: invalid magic number")
	ErrInvalidVersion  = errors.New("codec: unsupported frame version")
	ErrChecksum        = errors.New("codec: frame checksum mismatch")
	ErrUnknownCodec    = errors.New("codec: unknown codec name in frame header")
	ErrTruncatedFrame  = errors.New("codec: truncated frame")
	ErrInvalidCompress = errors.New("codec: invalid compressed payload")
)

// Binary is the canonical binary representation of a value: a fixed header
// carrying magic, version, flags, codec name and an xxhash checksum,
// followed by the codec payload. The cache-blob variant additionally
// compresses the payload with zstd.
//
// Frame layout:
//
//	magic(4) version(2) flags(2) nameLen(1) name(n) payloadLen(8) checksum(8) payload
type Binary struct {
	codec    Codec
	compress bool

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewBinary creates a binary frame codec around c (Default if nil).
func NewBinary(c Codec) *Binary {
	if c == nil {
		c = Default
	}
	return &Binary{codec: c}
}

// NewBlob creates the compiled cache-blob variant: the same frame with a
// zstd-compressed payload. Decoding accepts both variants.
func NewBlob(c Codec) (*Binary, error) {
	b := NewBinary(c)
	b.compress = true

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("codec: create zstd encoder: %w", err)
	}
	b.enc = enc
	return b, nil
}

// Extension returns the on-disk extension of this frame variant, matching
// the resolver chain: ".knb" for the compressed blob, ".bin" otherwise.
func (b *Binary) Extension() string {
	if b.compress {
		return ".knb"
	}
	return ".bin"
}

// Encode serializes v into a framed byte slice.
func (b *Binary) Encode(v any) ([]byte, error) {
	payload, err := b.codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal payload: %w", err)
	}

	var flags uint16
	if b.compress {
		flags |= flagZstd
		payload = b.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	}

	name := b.codec.Name()
	if len(name) > 255 {
		return nil, fmt.Errorf("codec: codec name too long: %q", name)
	}

	headerLen := 4 + 2 + 2 + 1 + len(name) + 8 + 8
	out := make([]byte, headerLen+len(payload))

	binary.LittleEndian.PutUint32(out[0:4], frameMagic)
	binary.LittleEndian.PutUint16(out[4:6], frameVersion)
	binary.LittleEndian.PutUint16(out[6:8], flags)
	out[8] = byte(len(name))
	copy(out[9:], name)
	off := 9 + len(name)
	binary.LittleEndian.PutUint64(out[off:off+8], uint64(len(payload)))
	binary.LittleEndian.PutUint64(out[off+8:off+16], xxhash.Sum64(payload))
	copy(out[off+16:], payload)

	return out, nil
}

// Decode parses a framed byte slice into v. The codec is selected from the
// frame header, so frames written with a different default still decode.
func (b *Binary) Decode(data []byte, v any) error {
	if len(data) < 9 {
		return ErrTruncatedFrame
	}
	if binary.LittleEndian.Uint32(data[0:4]) != frameMagic {
		return ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(data[4:6]); ver != frameVersion {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, ver)
	}
	flags := binary.LittleEndian.Uint16(data[6:8])

	nameLen := int(data[8])
	off := 9 + nameLen
	if len(data) < off+16 {
		return ErrTruncatedFrame
	}
	name := string(data[9:off])

	payloadLen := binary.LittleEndian.Uint64(data[off : off+8])
	sum := binary.LittleEndian.Uint64(data[off+8 : off+16])
	payload := data[off+16:]
	if uint64(len(payload)) != payloadLen {
		return ErrTruncatedFrame
	}
	if xxhash.Sum64(payload) != sum {
		return ErrChecksum
	}

	if flags&flagZstd != 0 {
		if b.dec == nil {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return fmt.Errorf("codec: create zstd decoder: %w", err)
			}
			b.dec = dec
		}
		raw, err := b.dec.DecodeAll(payload, nil)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCompress, err)
		}
		payload = raw
	}

	c, ok := ByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	if err := c.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("codec: unmarshal payload: %w", err)
	}
	return nil
}
