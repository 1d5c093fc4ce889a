// Package probe implements TCP readiness probing. A successful connect is
// the only signal; no protocol bytes are exchanged.
package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds how long WaitPort keeps trying.
	DefaultTimeout = 5 * time.Second

	// DefaultInterval paces connect attempts so a refusing port is not
	// hammered in a tight loop.
	DefaultInterval = 100 * time.Millisecond
)

// PortOpen reports whether something is accepting connections on host:port.
func PortOpen(host string, port int, dialTimeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitPort blocks until host:port accepts a TCP connection or timeout
// elapses. Attempts are paced at DefaultInterval. The context cancels the
// wait early.
func WaitPort(ctx context.Context, host string, port int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	limiter := rate.NewLimiter(rate.Every(DefaultInterval), 1)
	dialer := net.Dialer{Timeout: DefaultInterval}

	var lastErr error
	for {
		if err := limiter.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return fmt.Errorf("port %s not open after %v: %w", addr, timeout, lastErr)
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
	}
}
