// Package packet implements the wire format every source agrees on: a
// fixed-size header followed by a payload, host-endian, with no
// sentinels or length-prefixes beyond the header's own payload_size field.
package packet

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the compile-time constant size of Header's on-wire form:
// id(4) + sequence(4) + timestamp(8) + payload_size(4) + flags(4).
const HeaderSize = 24

// Flag bits recognised in Header.Flags.
const (
	FlagTestData uint32 = 1 << 0
)

// Header is the fixed layout shared by every source.
type Header struct {
	ID          uint32
	Sequence    uint32
	Timestamp   uint64 // nanoseconds since an unspecified epoch
	PayloadSize uint32
	Flags       uint32
}

// HasFlag reports whether flag is set.
func (h Header) HasFlag(flag uint32) bool { return h.Flags&flag != 0 }

// Encode writes the header's wire form into dst, which must be at least
// HeaderSize bytes.
func (h Header) Encode(dst []byte) error {
	if len(dst) < HeaderSize {
		return fmt.Errorf("packet: header encode buffer too small: %d < %d", len(dst), HeaderSize)
	}
	binary.NativeEndian.PutUint32(dst[0:4], h.ID)
	binary.NativeEndian.PutUint32(dst[4:8], h.Sequence)
	binary.NativeEndian.PutUint64(dst[8:16], h.Timestamp)
	binary.NativeEndian.PutUint32(dst[16:20], h.PayloadSize)
	binary.NativeEndian.PutUint32(dst[20:24], h.Flags)
	return nil
}

// DecodeHeader parses a header from the front of src. src must be at
// least HeaderSize bytes; the caller is responsible for that check
// (sources check it against the undersized-datagram/frame-accumulation
// rule before calling in).
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("packet: header decode buffer too small: %d < %d", len(src), HeaderSize)
	}
	return Header{
		ID:          binary.NativeEndian.Uint32(src[0:4]),
		Sequence:    binary.NativeEndian.Uint32(src[4:8]),
		Timestamp:   binary.NativeEndian.Uint64(src[8:16]),
		PayloadSize: binary.NativeEndian.Uint32(src[16:20]),
		Flags:       binary.NativeEndian.Uint32(src[20:24]),
	}, nil
}
