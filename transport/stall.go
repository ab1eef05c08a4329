package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

const maxWriteChunk = 32 << 10

// stallConn aborts transfers that stay below a minimum byte rate for a
// whole window. Every Read and Write arms a deadline one window ahead, so
// a connection that goes completely silent fails as well.
type stallConn struct {
	net.Conn
	window  time.Duration
	minRate int64 // bytes per second
	now     func() time.Time

	start time.Time
	bytes int64
}

func newStallConn(c net.Conn, window time.Duration, minRate int64) *stallConn {
	s := &stallConn{Conn: c, window: window, minRate: minRate, now: time.Now}
	s.reset()
	return s
}

// reset starts a new measurement window. It is called at the start of
// every exchange so idle time between requests does not count.
func (s *stallConn) reset() {
	s.start = s.now()
	s.bytes = 0
}

func (s *stallConn) account(n int) error {
	s.bytes += int64(n)
	elapsed := s.now().Sub(s.start)
	if elapsed < s.window {
		return nil
	}
	if float64(s.bytes) < float64(s.minRate)*elapsed.Seconds() {
		return fmt.Errorf("%w: %d bytes in %s", ErrTooSlow, s.bytes, elapsed.Round(time.Millisecond))
	}
	s.reset()
	return nil
}

func (s *stallConn) stalled(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: no data for %s", ErrTooSlow, s.window)
	}
	return err
}

func (s *stallConn) Read(p []byte) (int, error) {
	if err := s.Conn.SetReadDeadline(s.now().Add(s.window)); err != nil {
		return 0, err
	}
	n, err := s.Conn.Read(p)
	if aerr := s.account(n); aerr != nil {
		return n, aerr
	}
	if err != nil {
		return n, s.stalled(err)
	}
	return n, nil
}

// Write sends p in chunks of at most maxWriteChunk bytes and arms a fresh
// deadline for each chunk.
func (s *stallConn) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxWriteChunk {
			chunk = chunk[:maxWriteChunk]
		}
		if err := s.Conn.SetWriteDeadline(s.now().Add(s.window)); err != nil {
			return written, err
		}
		n, err := s.Conn.Write(chunk)
		written += n
		if aerr := s.account(n); aerr != nil {
			return written, aerr
		}
		if err != nil {
			return written, s.stalled(err)
		}
		p = p[n:]
	}
	return written, nil
}
