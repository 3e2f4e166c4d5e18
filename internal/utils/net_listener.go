package utils

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	tcpKeepAlivePeriod = time.Minute
	tfoQueueLen        = 256
)

// Listener tunes accepted client connections. A connection which cannot
// be tuned is closed and the listener keeps accepting: http.Server stops
// serving on any non-temporary Accept error.
type Listener struct {
	net.Listener

	tune func(*net.TCPConn) error
}

func (l Listener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err //nolint: wrapcheck
		}

		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			return conn, nil
		}

		if err := l.tune(tcpConn); err != nil {
			conn.Close()

			continue
		}

		return conn, nil
	}
}

func tuneConn(conn *net.TCPConn) error {
	if err := conn.SetNoDelay(true); err != nil {
		return fmt.Errorf("cannot set TCP_NODELAY: %w", err)
	}

	if err := conn.SetKeepAlivePeriod(tcpKeepAlivePeriod); err != nil {
		return fmt.Errorf("cannot set time period of TCP keepalive probes: %w", err)
	}

	return nil
}

// NewListener creates a TCP listener with SO_REUSEADDR and, optionally,
// TCP Fast Open. TFO is best effort: a kernel without it gets a plain
// listener.
func NewListener(bindTo string, enableTFO bool) (net.Listener, error) {
	lc := net.ListenConfig{
		KeepAlive: tcpKeepAlivePeriod,
		Control:   listenerControl(enableTFO),
	}

	base, err := lc.Listen(context.Background(), "tcp", bindTo)
	if err != nil {
		return nil, fmt.Errorf("cannot build a base listener: %w", err)
	}

	return Listener{
		Listener: base,
		tune:     tuneConn,
	}, nil
}
