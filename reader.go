package msgframe

import (
	"io"

	"github.com/pkg/errors"
)

// defaultReadBufferSize is the default size of a single read from the transport.
const defaultReadBufferSize = 4096

// Reader returns whole frames from a byte stream.
type Reader struct {
	r      io.Reader
	parser *Parser
	buf    []byte
	queue  []NetworkMessage
	next   int
}

// NewReader returns a Reader that reads from r in 4KB chunks.
func NewReader(r io.Reader, opts ...ParserOption) *Reader {
	return NewReaderSize(r, defaultReadBufferSize, opts...)
}

// NewReaderSize returns a Reader that reads from r at most size bytes at a time.
func NewReaderSize(r io.Reader, size int, opts ...ParserOption) *Reader {
	if size <= 0 {
		size = defaultReadBufferSize
	}
	return &Reader{
		r:      r,
		parser: NewParser(opts...),
		buf:    make([]byte, size),
	}
}

// Next returns the next frame on the stream.
//
// It returns io.EOF when the stream ends on a frame boundary and
// ErrTruncatedStream when it ends inside a frame. Framing errors from the
// parser are returned after all frames completed before them.
func (r *Reader) Next() (*NetworkMessage, error) {
	for {
		if r.next < len(r.queue) {
			msg := r.queue[r.next]
			r.next++
			return &msg, nil
		}
		r.queue = r.queue[:0]
		r.next = 0

		if err := r.parser.Err(); err != nil {
			return nil, err
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			// A parse error is kept by the parser and reported once the queue drains.
			_, _ = r.parser.Parse(r.buf[:n], &r.queue)
		}
		if err == nil {
			continue
		}
		if len(r.queue) > 0 {
			// Deliver what arrived with the error first; the reader sees it again next call.
			r.r = errReader{err: err}
			continue
		}
		if perr := r.parser.Err(); perr != nil {
			return nil, perr
		}
		if errors.Is(err, io.EOF) && r.parser.Pending() {
			r.parser.metrics.observeRejected(rejectTruncated)
			return nil, errors.Wrapf(ErrTruncatedStream, "%d bytes of %s buffered", r.parser.Buffered(), r.parser.State())
		}
		return nil, err
	}
}

// Parser returns the parser driven by r.
func (r *Reader) Parser() *Parser {
	return r.parser
}

// errReader replays a read error once the source has failed.
type errReader struct {
	err error
}

func (e errReader) Read([]byte) (int, error) {
	return 0, e.err
}
