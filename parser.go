package msgframe

import (
	"github.com/pkg/errors"
)

// defaultMaxFrameSize is the default maximum payload length of a single frame (1MB).
const defaultMaxFrameSize = 1024 * 1024

// ParserState is the phase of the frame currently being reassembled.
type ParserState int

const (
	// AwaitingHeader means the parser is collecting header bytes.
	AwaitingHeader ParserState = iota
	// AwaitingPayload means a header is decoded and payload bytes are being collected.
	AwaitingPayload
)

func (s ParserState) String() string {
	switch s {
	case AwaitingHeader:
		return "awaiting_header"
	case AwaitingPayload:
		return "awaiting_payload"
	default:
		return "unknown"
	}
}

// Parser reassembles length-prefixed frames from arbitrarily sized chunks
// of a single byte stream.
//
// A Parser holds partial frames between calls and must only be driven by
// one goroutine. Use one Parser per connection.
type Parser struct {
	buffers   bufferPair
	header    MessageHeader
	headerSet bool
	err       error

	maxFrameSize uint32
	logger       Logger
	metrics      *Metrics
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// ParserMaxFrameSizeOption sets the largest payload length the parser accepts.
// A frame announcing more fails the parse with ErrMessageTooLarge.
// Zero keeps the default of 1MB.
func ParserMaxFrameSizeOption(size uint32) ParserOption {
	return func(p *Parser) {
		if size > 0 {
			p.maxFrameSize = size
		}
	}
}

// ParserLoggerOption sets the logger for the parser.
func ParserLoggerOption(logger Logger) ParserOption {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// ParserMetricsOption makes the parser report into m.
func ParserMetricsOption(m *Metrics) ParserOption {
	return func(p *Parser) {
		p.metrics = m
	}
}

// NewParser returns a parser waiting for the first header.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		maxFrameSize: defaultMaxFrameSize,
		logger:       defaultLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.buffers.current().Grow(HeaderSize)
	return p
}

// Parse consumes chunk and appends every frame it completes to messages,
// in arrival order. Bytes of an unfinished frame are kept for the next call.
// messages is never cleared.
//
// It reports whether at least one frame completed during this call. Frames
// that completed before an error are still appended. Once Parse returns an
// error the parser is broken and returns the same error until Reset.
func (p *Parser) Parse(chunk []byte, messages *[]NetworkMessage) (bool, error) {
	if p.err != nil {
		return false, p.err
	}

	p.metrics.observeChunk(len(chunk))

	completed := 0
	parsed := 0
	for parsed < len(chunk) {
		if !p.headerSet {
			n, err := p.readHeader(chunk[parsed:])
			parsed += n
			if err != nil {
				return completed > 0, p.fail(err)
			}
		}

		// A zero length payload completes here even when the header used up the chunk.
		if p.headerSet {
			n, msg, err := p.readPayload(chunk[parsed:])
			parsed += n
			if err != nil {
				return completed > 0, p.fail(err)
			}
			if msg != nil {
				*messages = append(*messages, *msg)
				completed++
			}
		}
	}

	if parsed != len(chunk) {
		return completed > 0, p.fail(errors.Wrapf(ErrInvalidState, "parsed %d of %d bytes", parsed, len(chunk)))
	}
	return completed > 0, nil
}

// readHeader moves up to the missing header bytes from src into the active
// buffer and decodes the header once all eight are present.
func (p *Parser) readHeader(src []byte) (int, error) {
	buf := p.buffers.current()
	need := HeaderSize - buf.Size()
	if need <= 0 || p.buffers.role != headerRole {
		return 0, errors.Wrapf(ErrInvalidState, "header buffer holds %d bytes in %s role", buf.Size(), p.buffers.role)
	}

	n := min(need, len(src))
	buf.Append(src[:n])
	if buf.Size() < HeaderSize {
		return n, nil
	}

	header, err := DecodeHeader(buf.Data())
	if err != nil {
		return n, err
	}
	if header.Length > p.maxFrameSize {
		p.metrics.observeRejected(rejectTooLarge)
		p.logger.Warn("frame rejected", "type", header.Type, "length", header.Length, "max", p.maxFrameSize)
		return n, errors.Wrapf(ErrMessageTooLarge, "frame length %d exceeds maximum %d", header.Length, p.maxFrameSize)
	}

	p.header = header
	p.headerSet = true
	p.buffers.swap()
	p.buffers.current().Grow(int(header.Length))
	p.logger.Debug("frame header decoded", "type", header.Type, "length", header.Length)
	return n, nil
}

// readPayload moves up to the missing payload bytes from src into the
// active buffer and returns the finished message once the payload is full.
func (p *Parser) readPayload(src []byte) (int, *NetworkMessage, error) {
	buf := p.buffers.current()
	need := int(p.header.Length) - buf.Size()
	if need < 0 || p.buffers.role != payloadRole {
		return 0, nil, errors.Wrapf(ErrInvalidState, "payload buffer holds %d of %d bytes in %s role",
			buf.Size(), p.header.Length, p.buffers.role)
	}

	n := min(need, len(src))
	buf.Append(src[:n])
	if buf.Size() < int(p.header.Length) {
		return n, nil, nil
	}

	payload := make([]byte, buf.Size())
	copy(payload, buf.Data())
	msg := &NetworkMessage{Header: p.header, Payload: payload}
	p.metrics.observeFrame(len(payload))

	p.headerSet = false
	p.header.Reset()
	p.buffers.swap()
	return n, msg, nil
}

func (p *Parser) fail(err error) error {
	if errors.Is(err, ErrInvalidState) {
		p.metrics.observeRejected(rejectInvalidState)
		p.logger.Error("parser state corrupted", "error", err)
	}
	p.err = err
	return err
}

// Err returns the error that broke the parser, if any.
func (p *Parser) Err() error {
	return p.err
}

// State returns the phase of the frame in progress.
func (p *Parser) State() ParserState {
	if p.headerSet {
		return AwaitingPayload
	}
	return AwaitingHeader
}

// Header returns the decoded header of the frame in progress.
// The second result is false while the header is still incomplete.
func (p *Parser) Header() (MessageHeader, bool) {
	return p.header, p.headerSet
}

// Buffered returns how many bytes of the frame in progress are held,
// counting a decoded header as HeaderSize bytes.
func (p *Parser) Buffered() int {
	if p.headerSet {
		return HeaderSize + p.buffers.current().Size()
	}
	return p.buffers.current().Size()
}

// Pending reports whether the parser holds part of an unfinished frame.
func (p *Parser) Pending() bool {
	return p.Buffered() > 0
}

// Reset drops any partial frame and clears a previous error.
func (p *Parser) Reset() {
	p.buffers.reset()
	p.header.Reset()
	p.headerSet = false
	p.err = nil
}
