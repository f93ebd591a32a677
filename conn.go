package lowka

import (
	"io"
	"net"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"github.com/pkg/errors"
)

// connection is the C6 component: a single TCP stream to the current
// partition leader, reopened on forced refresh, leader change, or any I/O
// failure observed by the sender.
type connection struct {
	addr string
	conn net.Conn

	dialTimeout time.Duration
	readTimeout time.Duration
	sendBufHint int

	// breaker guards reconnect attempts against a leader that is
	// persistently unreachable, so a broker outage does not cause the
	// sender to redial on every single retry (§4.5).
	breaker *breaker.Breaker
}

func newConnection(dialTimeout, readTimeout time.Duration, sendBufHint int) *connection {
	return &connection{
		dialTimeout: dialTimeout,
		readTimeout: readTimeout,
		sendBufHint: sendBufHint,
		breaker:     breaker.New(3, 1, 10*time.Second),
	}
}

func (c *connection) isOpen() bool { return c.conn != nil }

// dial opens a fresh TCP connection to addr, replacing any existing one.
func (c *connection) dial(addr string) error {
	return c.breaker.Run(func() error {
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}

		conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
		if err != nil {
			return errors.Wrapf(ErrSocketIO, "dialing %s: %s", addr, err)
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetWriteBuffer(c.sendBufHint)
		}

		c.conn = conn
		c.addr = addr
		return nil
	})
}

func (c *connection) close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.addr = ""
	return err
}

// write sends the full request buffer, treating any error as ErrSocketIO.
func (c *connection) write(b []byte) error {
	if c.conn == nil {
		return errors.WithStack(ErrSocketIO)
	}
	if _, err := c.conn.Write(b); err != nil {
		return errors.Wrapf(ErrSocketIO, "writing request: %s", err)
	}
	return nil
}

// readFull reads exactly len(b) bytes, looping until the buffer is
// satisfied or the connection reports EOF/error (§9, "in.read return
// values are not checked for short reads" - this is the corrected version).
func (c *connection) readFull(b []byte) error {
	if c.conn == nil {
		return errors.WithStack(ErrSocketIO)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	if _, err := io.ReadFull(c.conn, b); err != nil {
		return errors.Wrapf(ErrSocketIO, "reading response: %s", err)
	}
	return nil
}
