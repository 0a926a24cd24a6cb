package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/carlink/pkg"
)

// Header constants.
const (
	// HeaderSize is the fixed size of every frame header in bytes.
	HeaderSize = 16

	// Magic is the constant first word of every frame header.
	Magic uint32 = 0x55AA55AA
)

// Header is the decoded frame header preceding every message body.
type Header struct {
	Type   MessageType
	Length uint32
}

// String returns a short description of the header.
func (h Header) String() string {
	return fmt.Sprintf("%s len=%d", h.Type, h.Length)
}

// ParseHeader decodes a 16-byte frame header.
//
// The header layout is four little-endian words: magic, body length,
// message type, and the bitwise complement of the message type. A wrong
// buffer size or a mismatch of either signature word returns an error
// wrapping [pkg.ErrFraming].
func ParseHeader(data []byte) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, want %d", pkg.ErrFraming, len(data), HeaderSize)
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != Magic {
		return Header{}, fmt.Errorf("%w: bad magic 0x%08x", pkg.ErrFraming, magic)
	}
	length := binary.LittleEndian.Uint32(data[4:8])
	typ := binary.LittleEndian.Uint32(data[8:12])
	check := binary.LittleEndian.Uint32(data[12:16])
	if check != ^typ {
		return Header{}, fmt.Errorf("%w: type check 0x%08x does not match type 0x%x", pkg.ErrFraming, check, typ)
	}
	return Header{Type: MessageType(typ), Length: length}, nil
}

// BuildHeader encodes a frame header for a body of the given length.
func BuildHeader(typ MessageType, length int) []byte {
	return AppendHeader(make([]byte, 0, HeaderSize+length), typ, length)
}

// AppendHeader appends the encoded header to dst and returns the extended
// slice.
func AppendHeader(dst []byte, typ MessageType, length int) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, Magic)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(length))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(typ))
	dst = binary.LittleEndian.AppendUint32(dst, ^uint32(typ))
	return dst
}
