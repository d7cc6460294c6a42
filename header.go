package msgframe

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderSize is the serialized size of a MessageHeader on the wire.
const HeaderSize = 8

// byteOrder is the byte order of both header fields.
var byteOrder = binary.LittleEndian

// ErrShortHeader is returned when a header is decoded from anything other
// than exactly HeaderSize bytes.
var ErrShortHeader = errors.New("header must be exactly 8 bytes")

// MessageType identifies the application message kind carried by a frame.
// The set of types is defined by the application.
type MessageType uint32

// MessageHeader is the fixed prefix of every frame.
//
//	bytes [0,4)  Type
//	bytes [4,8)  Length (payload byte count)
type MessageHeader struct {
	Type   MessageType
	Length uint32
}

// DecodeHeader reads a header from exactly HeaderSize bytes.
func DecodeHeader(b []byte) (MessageHeader, error) {
	if len(b) != HeaderSize {
		return MessageHeader{}, errors.Wrapf(ErrShortHeader, "got %d bytes", len(b))
	}
	return MessageHeader{
		Type:   MessageType(byteOrder.Uint32(b[0:4])),
		Length: byteOrder.Uint32(b[4:8]),
	}, nil
}

// Encode returns the wire form of the header.
func (h MessageHeader) Encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	byteOrder.PutUint32(b[0:4], uint32(h.Type))
	byteOrder.PutUint32(b[4:8], h.Length)
	return b
}

// AppendTo appends the wire form of the header to dst.
func (h MessageHeader) AppendTo(dst []byte) []byte {
	dst = byteOrder.AppendUint32(dst, uint32(h.Type))
	return byteOrder.AppendUint32(dst, h.Length)
}

// IsZero reports whether the header is in its unset state.
func (h MessageHeader) IsZero() bool {
	return h == MessageHeader{}
}

// Reset returns the header to its unset state.
func (h *MessageHeader) Reset() {
	*h = MessageHeader{}
}
