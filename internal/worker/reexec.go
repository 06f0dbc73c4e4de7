package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/hamed0406/waitprobe/internal/probe"
)

// Environment of a re-executed worker.
const (
	EnvCheck = "WAITPROBE_WORKER_CHECK"
	EnvArgs  = "WAITPROBE_WORKER_ARGS"
)

// maxEnvelope caps what the parent reads from a worker's result pipe.
const maxEnvelope = 1 << 20

// Func is a check that can run in a re-executed worker. It receives its
// arguments as strings because they cross a process boundary.
type Func func(ctx context.Context, args map[string]string) (any, error)

// Registry maps names to checks that can run isolated in a child process.
// The child is the current executable started again with EnvCheck set; its
// main must call IsWorker and Serve before doing anything else.
type Registry struct {
	// Executable is the binary to start; empty means os.Executable().
	Executable string
	// Stderr receives the worker's stderr; nil discards it.
	Stderr io.Writer

	mu     sync.RWMutex
	checks map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Func)}
}

// Register adds fn under name, replacing any previous entry.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.checks[name] = fn
	r.mu.Unlock()
}

func (r *Registry) lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.checks[name]
	return fn, ok
}

// Names lists the registered checks in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.checks))
	for n := range r.checks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Invoker returns an invoker running the named check with args in a fresh
// child process per attempt.
func (r *Registry) Invoker(name string, args map[string]string) (*ReexecInvoker, error) {
	if _, ok := r.lookup(name); !ok {
		return nil, fmt.Errorf("check %q is not registered", name)
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args for %q: %w", name, err)
	}
	return &ReexecInvoker{registry: r, name: name, args: string(encoded)}, nil
}

// ReexecInvoker starts the current binary as a worker for one check.
type ReexecInvoker struct {
	registry *Registry
	name     string
	args     string
}

func (ri *ReexecInvoker) Start(_ context.Context, id probe.AttemptID, out *probe.Channel) (probe.Worker, error) {
	exe := ri.registry.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}
	rd, wr, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("result pipe: %w", err)
	}

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(),
		EnvCheck+"="+ri.name,
		EnvArgs+"="+ri.args,
		EnvAttempt+"="+id.String(),
	)
	cmd.Stderr = ri.registry.Stderr
	cmd.WaitDelay = waitDelay
	attachResultPipe(cmd, wr)
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = rd.Close()
		_ = wr.Close()
		return nil, err
	}
	// Only the child holds the write end now, so EOF means it is gone.
	_ = wr.Close()

	var (
		env    envelope
		posted bool
	)
	p := newProcess(cmd)
	go p.reap(
		func() {
			defer rd.Close()
			data, err := io.ReadAll(io.LimitReader(rd, maxEnvelope))
			if err != nil || len(data) == 0 {
				return
			}
			if json.Unmarshal(data, &env) == nil && env.Attempt == id.String() {
				posted = true
			}
		},
		func(error) {
			if posted {
				out.Post(env.result())
			}
		},
	)
	return p, nil
}

// IsWorker reports whether this process was started as a worker.
func IsWorker() bool { return os.Getenv(EnvCheck) != "" }

// Serve runs the check named in the environment and writes its envelope to
// the result pipe. It returns the process exit code. A check that panics or
// exits on its own writes nothing, which the parent reports as ErrNoResult.
func (r *Registry) Serve(ctx context.Context) int {
	name := os.Getenv(EnvCheck)
	env := envelope{Attempt: os.Getenv(EnvAttempt)}

	fn, ok := r.lookup(name)
	var args map[string]string
	switch {
	case !ok:
		env.Error = &envError{Tag: probe.TagInvalid, Message: fmt.Sprintf("check %q is not registered", name)}
	case json.Unmarshal([]byte(os.Getenv(EnvArgs)), &args) != nil:
		env.Error = &envError{Tag: probe.TagInvalid, Message: "malformed worker arguments"}
	default:
		v, err := fn(ctx, args)
		env.set(v, err)
	}

	f := openResultPipe()
	defer f.Close()
	if err := json.NewEncoder(f).Encode(env); err != nil {
		fmt.Fprintln(os.Stderr, "waitprobe worker:", err)
		return 1
	}
	return 0
}

type envelope struct {
	Attempt string          `json:"attempt"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   *envError       `json:"error,omitempty"`
}

type envError struct {
	Tag     probe.Tag `json:"tag,omitempty"`
	Message string    `json:"message"`
}

func (e *envelope) set(v any, err error) {
	if err != nil {
		msg := err.Error()
		var ce *probe.CheckError
		if errors.As(err, &ce) && ce.Err != nil {
			msg = ce.Err.Error()
		}
		e.Error = &envError{Tag: probe.TagOf(err), Message: msg}
		return
	}
	raw, merr := json.Marshal(v)
	if merr != nil {
		e.Error = &envError{Tag: probe.TagInvalid, Message: "encode result: " + merr.Error()}
		return
	}
	e.Value = raw
}

func (e *envelope) result() probe.Result {
	if e.Error != nil {
		err := errors.New(e.Error.Message)
		if e.Error.Tag != "" {
			err = probe.Tagged(e.Error.Tag, err)
		}
		return probe.Result{Err: err}
	}
	return probe.Result{Value: Value(e.Value)}
}

// Value is a JSON encoded result from a worker process. The probe decodes
// it into the type of its expected value.
type Value json.RawMessage

func (v Value) Decode(target any) error { return json.Unmarshal(v, target) }

func (v Value) String() string { return string(v) }
