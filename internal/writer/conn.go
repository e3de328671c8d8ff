package writer

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// lineConn writes newline terminated lines to a TCP or UDP endpoint. It dials lazily
// and redials after a failed write.
type lineConn struct {
	network string
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func newLineConn(network, host, port string, timeout time.Duration) *lineConn {
	return &lineConn{network: network, addr: net.JoinHostPort(host, port), timeout: timeout}
}

// send writes lines in one write for TCP and one datagram per line for UDP.
func (c *lineConn) send(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := net.DialTimeout(c.network, c.addr, c.timeout)
		if err != nil {
			return fmt.Errorf("dial %s %s: %w", c.network, c.addr, err)
		}
		c.conn = conn
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return c.fail(err)
	}

	if c.network == "udp" {
		for _, l := range lines {
			if _, err := c.conn.Write([]byte(l)); err != nil {
				return c.fail(err)
			}
		}
		return nil
	}
	if _, err := c.conn.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *lineConn) fail(err error) error {
	_ = c.conn.Close()
	c.conn = nil
	return fmt.Errorf("write %s %s: %w", c.network, c.addr, err)
}

func (c *lineConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
