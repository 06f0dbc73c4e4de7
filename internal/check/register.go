// Package check holds the conditions a probe waits for: a TCP port that
// accepts connections, an HTTP endpoint that answers, a name that resolves.
// Every check tags its errors so a probe can decide what to retry.
package check

import (
	"context"
	"time"

	"github.com/hamed0406/waitprobe/internal/probe"
	"github.com/hamed0406/waitprobe/internal/worker"
)

// Names under which Register adds the checks, and the argument keys they read.
const (
	NameTCP  = "tcp"
	NameHTTP = "http"
	NameDNS  = "dns"

	ArgTarget  = "target"
	ArgTimeout = "timeout"
)

const defaultAttemptTimeout = 5 * time.Second

// Register adds the built-in checks to reg so they can run in a worker process.
func Register(reg *worker.Registry) {
	reg.Register(NameTCP, func(ctx context.Context, args map[string]string) (any, error) {
		return TCP(args[ArgTarget], argTimeout(args))(ctx)
	})
	reg.Register(NameHTTP, func(ctx context.Context, args map[string]string) (any, error) {
		return HTTP(args[ArgTarget], argTimeout(args))(ctx)
	})
	reg.Register(NameDNS, func(ctx context.Context, args map[string]string) (any, error) {
		return DNS(args[ArgTarget], argTimeout(args))(ctx)
	})
}

// ByName returns the in-process check for a built-in name.
func ByName(name, target string, timeout time.Duration) (probe.CheckFunc, bool) {
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	switch name {
	case NameTCP:
		return TCP(target, timeout), true
	case NameHTTP:
		return HTTP(target, timeout), true
	case NameDNS:
		return DNS(target, timeout), true
	}
	return nil, false
}

// Args builds the worker arguments for a built-in check.
func Args(target string, timeout time.Duration) map[string]string {
	args := map[string]string{ArgTarget: target}
	if timeout > 0 {
		args[ArgTimeout] = timeout.String()
	}
	return args
}

func argTimeout(args map[string]string) time.Duration {
	if d, err := time.ParseDuration(args[ArgTimeout]); err == nil && d > 0 {
		return d
	}
	return defaultAttemptTimeout
}
