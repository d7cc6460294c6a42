// Package msgframe reassembles length-prefixed messages from a TCP byte
// stream. Each frame is an 8 byte header (type, payload length) followed by
// the payload; Parser rebuilds frames from chunks of any size, and Conn and
// Server wrap it into a small TCP framework.
package msgframe

import (
	"context"
	"io"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Conn is one framed TCP connection.
// Its read loop owns a Parser; its write loop frames outbound messages.
type Conn struct {
	rawConn *net.TCPConn
	parser  *Parser
	readBuf []byte
	inbox   []NetworkMessage
	logger  Logger

	opts options

	sendMsg chan []byte
	closed  atomic.Bool
	cancel  context.CancelFunc
}

// Default configuration values.
const (
	// defaultBufferSize is the default size of the message channel buffer.
	defaultBufferSize = 1
	// defaultHeartbeat is the default heartbeat interval.
	defaultHeartbeat = 30 * time.Second
)

// NewConn creates a new connection wrapper around the given TCP connection.
// Returns ErrInvalidOnMessage if no message handler is set.
func NewConn(conn *net.TCPConn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	err := checkOptions(&opts)
	if err != nil {
		return nil, err
	}

	return newClientConnWithOptions(conn, opts), nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxFrameSize <= 0 {
		opts.maxFrameSize = defaultMaxFrameSize
	}
	if uint64(opts.maxFrameSize) > math.MaxUint32 {
		opts.maxFrameSize = math.MaxUint32
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.heartbeat <= 0 {
		opts.heartbeat = defaultHeartbeat
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// newClientConnWithOptions creates a new Conn with the given options.
func newClientConnWithOptions(c *net.TCPConn, opts options) *Conn {
	return &Conn{
		rawConn: c,
		parser: NewParser(
			ParserMaxFrameSizeOption(uint32(opts.maxFrameSize)),
			ParserLoggerOption(opts.logger),
			ParserMetricsOption(opts.metrics),
		),
		readBuf: make([]byte, opts.readBufferSize),
		logger:  opts.logger,
		opts:    opts,
		sendMsg: make(chan []byte, opts.bufferSize),
	}
}

// Run starts the connection's read and write loops and blocks until one of
// them fails or ctx is canceled. The connection is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "addr", c.Addr())
	c.logger.Debug("connection options", "addr", c.Addr(),
		"buffer_size", c.opts.bufferSize,
		"max_frame_size", c.opts.maxFrameSize,
		"read_buffer_size", c.opts.readBufferSize,
		"heartbeat", c.opts.heartbeat)

	ctx, c.cancel = context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	// Wake a read blocked on the socket once either loop stops.
	group.Go(func() error {
		<-child.Done()
		_ = c.rawConn.SetReadDeadline(time.Now())
		return nil
	})

	err := group.Wait()
	c.closeConn()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Info("connection closed", "addr", c.Addr())
	}

	return err
}

// Close cancels Run and closes the underlying TCP connection.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Write queues a message without blocking.
// It returns ErrBufferFull when the send buffer is full; the message is dropped.
func (c *Conn) Write(message Message) error {
	data, err := c.encode(message)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking queues a message, waiting for buffer space until ctx is done.
func (c *Conn) WriteBlocking(ctx context.Context, message Message) error {
	data, err := c.encode(message)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteTimeout queues a message, waiting at most timeout for buffer space.
// It returns ErrBufferFull when the timeout expires.
func (c *Conn) WriteTimeout(message Message, timeout time.Duration) error {
	data, err := c.encode(message)
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.sendMsg <- data:
		return nil
	case <-timer.C:
		return ErrBufferFull
	}
}

// encode frames message for the wire.
func (c *Conn) encode(message Message) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if message.Length() > c.opts.maxFrameSize {
		return nil, errors.Wrapf(ErrMessageTooLarge, "outbound length %d exceeds maximum %d",
			message.Length(), c.opts.maxFrameSize)
	}
	return EncodeFrame(message)
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// readLoop feeds raw socket reads into the parser and hands every completed
// frame to the message handler.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		// The deadline is set before checking ctx so a cancellation racing
		// with it still interrupts the read.
		_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.heartbeat * 2))
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := c.rawConn.Read(c.readBuf)

		if n > 0 {
			if perr := c.consume(c.readBuf[:n]); perr != nil {
				return perr
			}
		}

		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, io.EOF) {
			if c.parser.Pending() {
				c.opts.metrics.observeRejected(rejectTruncated)
				err = errors.Wrapf(ErrTruncatedStream, "%d bytes of %s buffered",
					c.parser.Buffered(), c.parser.State())
				c.opts.onError(err)
			}
			c.logger.Debug("peer closed", "addr", c.Addr(), "error", err)
			return err
		}

		c.logger.Debug("read error", "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return err
		}
	}
}

// consume parses one chunk and dispatches the frames it completed.
// Frames completed before a framing error are still delivered.
func (c *Conn) consume(chunk []byte) error {
	c.inbox = c.inbox[:0]
	hasMessages, perr := c.parser.Parse(chunk, &c.inbox)

	if hasMessages {
		for i := range c.inbox {
			msg := c.inbox[i]
			if err := c.opts.onMessage(&msg); err != nil {
				return err
			}
		}
	}
	// Drop references to delivered payloads.
	clear(c.inbox)

	if perr != nil {
		c.logger.Warn("framing error", "addr", c.Addr(), "error", perr)
		c.opts.onError(perr)
		return perr
	}
	return nil
}

// writeLoop continuously sends framed messages from the send channel.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return err
			}
		}
	}
}

// write sends data to the connection with a deadline.
// The error is returned only when onError asks to disconnect.
func (c *Conn) write(data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.heartbeat * 2))

	_, err := c.rawConn.Write(data)

	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return err
		}
	}

	return nil
}

// closeConn marks the connection as closed and closes the underlying TCP connection.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	c.rawConn.Close()
}
