package check

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/hamed0406/waitprobe/internal/probe"
)

// TCP returns a check that is true once addr ("host:port") accepts a
// connection. The connection is closed immediately.
func TCP(addr string, dialTimeout time.Duration) probe.CheckFunc {
	return func(ctx context.Context) (any, error) {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, probe.Tagged(probe.TagInvalid, err)
		}
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, probe.Tagged(netTag(err), err)
		}
		_ = conn.Close()
		return true, nil
	}
}

// netTag classifies a dial or transport error.
func netTag(err error) probe.Tag {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return probe.TagTimeout
	case errors.As(err, &dnsErr):
		if dnsErr.IsNotFound {
			return probe.TagNotFound
		}
		return probe.TagTemporary
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return probe.TagUnavailable
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return probe.TagPermission
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return probe.TagTimeout
	}
	return probe.TagUnavailable
}
