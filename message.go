package msgframe

import "github.com/pkg/errors"

// Message is the interface for messages transmitted over the connection.
// NetworkMessage is the implementation produced by the parser; applications
// may send their own types as long as Length matches len(Body).
type Message interface {
	// Type returns the application message kind.
	Type() MessageType
	// Length returns the length of the message body.
	Length() int
	// Body returns the raw payload.
	Body() []byte
}

// NetworkMessage is one complete frame: its header plus an owned payload of
// exactly Header.Length bytes.
type NetworkMessage struct {
	Header  MessageHeader
	Payload []byte
}

// NewNetworkMessage builds an outbound message. The payload is not copied.
func NewNetworkMessage(t MessageType, payload []byte) *NetworkMessage {
	return &NetworkMessage{
		Header:  MessageHeader{Type: t, Length: uint32(len(payload))},
		Payload: payload,
	}
}

// Type returns the message type from the header.
func (m *NetworkMessage) Type() MessageType {
	return m.Header.Type
}

// Length returns the payload length.
func (m *NetworkMessage) Length() int {
	return len(m.Payload)
}

// Body returns the payload.
func (m *NetworkMessage) Body() []byte {
	return m.Payload
}

// EncodeFrame returns the header followed by the payload of msg.
func EncodeFrame(msg Message) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderSize+len(msg.Body())), msg)
}

// AppendFrame appends the frame of msg to dst.
func AppendFrame(dst []byte, msg Message) ([]byte, error) {
	body := msg.Body()
	if msg.Length() != len(body) {
		return dst, errors.Errorf("message length %d does not match body size %d", msg.Length(), len(body))
	}
	if uint64(len(body)) > uint64(^uint32(0)) {
		return dst, errors.Wrapf(ErrMessageTooLarge, "body of %d bytes", len(body))
	}

	h := MessageHeader{Type: msg.Type(), Length: uint32(len(body))}
	dst = h.AppendTo(dst)
	return append(dst, body...), nil
}
