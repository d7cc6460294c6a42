package msgframe

import "github.com/pkg/errors"

// Framing errors. A parser that returned one of these is broken and keeps
// returning it; the stream it was reading has no reliable resync point.
var (
	// ErrMessageTooLarge is returned when a frame length exceeds the configured maximum.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrInvalidState is returned when the parser's offset arithmetic goes inconsistent.
	ErrInvalidState = errors.New("invalid parser state")
	// ErrTruncatedStream is returned when the stream ends in the middle of a frame.
	ErrTruncatedStream = errors.New("stream truncated mid-frame")
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrBufferFull is returned when the send buffer cannot accept more messages.
	ErrBufferFull = errors.New("send buffer full")
)
