package wire

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Send errors.
var (
	// ErrConnClosed is returned by Send after the connection has failed or
	// been closed.
	ErrConnClosed = errors.New("wire: connection closed")

	// ErrSendQueueFull is returned by Send when the peer has stopped
	// draining its outbound queue. The connection is marked dead.
	ErrSendQueueFull = errors.New("wire: send queue full")
)

// sendQueueSize bounds the per-connection outbound queue. A peer that falls
// this far behind is considered dead rather than allowed to exert
// backpressure on the sender.
const sendQueueSize = 128

// Conn owns one upgraded WebSocket transport. Send queues a frame and
// returns immediately; a dedicated writer goroutine performs the socket
// writes, so a slow peer never blocks the caller. Close is idempotent.
type Conn struct {
	id   string
	sock net.Conn
	br   *bufio.Reader

	readTimeout  time.Duration
	writeTimeout time.Duration

	out  chan string
	done chan struct{}

	writeMu   sync.Mutex
	connected atomic.Bool
	closeOnce sync.Once

	logger *slog.Logger
}

// NewConn wraps an already-upgraded transport and starts its writer
// goroutine. br must be the same buffered reader the handshake consumed
// from, so no bytes are lost.
func NewConn(sock net.Conn, br *bufio.Reader, readTimeout, writeTimeout time.Duration, logger *slog.Logger) *Conn {
	id := uuid.NewString()
	c := &Conn{
		id:           id,
		sock:         sock,
		br:           br,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		out:          make(chan string, sendQueueSize),
		done:         make(chan struct{}),
		logger:       logger.With("conn_id", id),
	}
	c.connected.Store(true)
	go c.writeLoop()
	return c
}

// ID returns the opaque connection identifier.
func (c *Conn) ID() string { return c.id }

// IsConnected reports whether the transport is still believed healthy.
func (c *Conn) IsConnected() bool { return c.connected.Load() }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.sock.RemoteAddr().String() }

// Send queues one text frame for delivery and returns without blocking.
// Frames to one connection are delivered in Send order. A full queue means
// the peer stopped draining; the connection is marked dead so its read loop
// can reap it.
func (c *Conn) Send(message string) error {
	if !c.connected.Load() {
		return ErrConnClosed
	}

	select {
	case c.out <- message:
		return nil
	default:
		c.fail()
		return ErrSendQueueFull
	}
}

// writeLoop drains the outbound queue onto the socket.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case message := <-c.out:
			if !c.connected.Load() {
				continue
			}
			if err := c.writeFrame(OpText, []byte(message)); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.fail()
				return
			}
		}
	}
}

// writeFrame performs one socket write under the write lock, which also
// serializes it against pongs and the close frame.
func (c *Conn) writeFrame(op byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_, err := c.sock.Write(Encode(op, payload))
	return err
}

// fail marks the transport dead and releases the socket so blocked reads
// and writes return.
func (c *Conn) fail() {
	if c.connected.Swap(false) {
		c.sock.Close()
	}
}

// Close sends a close frame best-effort, stops the writer, and releases the
// transport. Safe to call multiple times and from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		if c.connected.Swap(false) {
			c.writeFrame(OpClose, nil)
		}
		close(c.done)
		c.sock.Close()
	})
}

// ReadLoop reads frames until a close frame, a decode failure, or ctx
// cancellation. onMessage is invoked on this goroutine for every complete
// text frame; handlers that touch shared state must marshal the work
// elsewhere. The transport is released before ReadLoop returns, so the
// caller can run its disconnect cleanup immediately after.
//
// The read deadline is armed only between frames, as an idle poll that lets
// the loop notice cancellation. Once the first byte of a frame arrives the
// frame is read to completion with no deadline, so a peer that trickles a
// frame slowly can never desync the stream.
func (c *Conn) ReadLoop(ctx context.Context, onMessage func(string)) {
	defer c.Close()

	for {
		c.sock.SetReadDeadline(time.Now().Add(c.readTimeout))

		// Peek consumes nothing, so a timeout here leaves the stream
		// intact for the next poll.
		if _, err := c.br.Peek(1); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if ctx.Err() == nil && c.connected.Load() {
				c.logger.Debug("read loop ended", "error", err)
			}
			return
		}

		c.sock.SetReadDeadline(time.Time{})
		frame, err := ReadFrame(c.br)
		if err != nil {
			if ctx.Err() == nil && c.connected.Load() {
				c.logger.Debug("read loop ended", "error", err)
			}
			return
		}

		if !frame.Fin {
			// Fragmented messages are not part of this protocol.
			c.logger.Warn("fragmented frame from peer, closing")
			return
		}

		switch frame.Op {
		case OpText:
			onMessage(string(frame.Payload))

		case OpPing:
			c.writePong(frame.Payload)

		case OpClose:
			return

		default:
			// Binary and pong frames carry nothing for us.
		}
	}
}

func (c *Conn) writePong(payload []byte) {
	if !c.connected.Load() {
		return
	}
	if err := c.writeFrame(OpPong, payload); err != nil {
		c.fail()
	}
}
