package btree

import (
	"bytes"
	"encoding/binary"
)

// KeyComparator orders keys: negative when a < b, zero when equal,
// positive when a > b.
type KeyComparator[K any] func(a, b K) int

// KeyCodec translates keys to and from their fixed-width on-page form.
type KeyCodec[K any] interface {
	// Size is the encoded width in bytes. Every key occupies exactly
	// this many bytes on the page.
	Size() int
	// Encode writes key into dst, which holds at least Size bytes.
	Encode(key K, dst []byte)
	// Decode reads a key from src. The result must not alias src.
	Decode(src []byte) K
}

// Uint64Codec stores uint64 keys as 8 little-endian bytes.
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }

func (Uint64Codec) Encode(key uint64, dst []byte) {
	binary.LittleEndian.PutUint64(dst, key)
}

func (Uint64Codec) Decode(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// CompareUint64 orders uint64 keys numerically.
func CompareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// BytesCodec stores byte-slice keys zero-padded to a fixed width.
// Shorter keys are padded, which means a key may not contain trailing
// zero bytes of its own; longer keys are truncated.
type BytesCodec struct {
	width int
}

// NewBytesCodec creates a codec for keys of the given encoded width.
func NewBytesCodec(width int) BytesCodec {
	return BytesCodec{width: width}
}

func (c BytesCodec) Size() int { return c.width }

func (c BytesCodec) Encode(key []byte, dst []byte) {
	n := copy(dst[:c.width], key)
	for i := n; i < c.width; i++ {
		dst[i] = 0
	}
}

func (c BytesCodec) Decode(src []byte) []byte {
	out := make([]byte, c.width)
	copy(out, src[:c.width])
	return out
}

// CompareBytes orders byte-slice keys lexicographically. Zero padding
// sorts before every other byte, so padded keys keep their natural
// prefix order.
func CompareBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}
