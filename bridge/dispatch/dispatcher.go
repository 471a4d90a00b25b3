// Package dispatch spawns the child process for a validated request and captures its outcome.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/guseggert/execbridge/bridge/charset"
	"github.com/guseggert/execbridge/bridge/protocol"
	"go.uber.org/zap"
)

const defaultWaitDelay = 2 * time.Second

// Dispatcher runs one child process per request. It holds no per-request state and is safe for concurrent use.
type Dispatcher struct {
	Log *zap.SugaredLogger
	// Verbose logs every resolved invocation before it is spawned.
	Verbose  bool
	Resolver Resolver
	Charset  *charset.Negotiator
	// Environ returns the base environment that request overrides are overlaid on.
	Environ func() []string
	// WaitDelay bounds how long output pipes are drained after the process exits or is killed,
	// in case descendants that escaped the kill still hold them open.
	WaitDelay time.Duration
}

func NewDispatcher(log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		Log:       log,
		Resolver:  DefaultResolver(),
		Charset:   charset.Default(),
		Environ:   os.Environ,
		WaitDelay: defaultWaitDelay,
	}
}

// Outcome is a process that ran. ExitCode is meaningless when TimedOut is set.
type Outcome struct {
	ExitCode int
	TimedOut bool
	Stdout   string
	Stderr   string
	Duration time.Duration
}

func (o *Outcome) Result() *protocol.ExecutionResult {
	ms := o.Duration.Milliseconds()
	if o.TimedOut {
		return protocol.TimedOut(o.Stdout, o.Stderr, ms)
	}
	return protocol.Completed(o.ExitCode, o.Stdout, o.Stderr, ms)
}

// Dispatch resolves, spawns, and waits for the process described by req.
// A returned error is always a *protocol.Error, and means no outcome exists.
// Cancelling ctx kills the process tree.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.ExecutionRequest) (*Outcome, error) {
	start := time.Now()

	inv, err := InvocationFor(req)
	if err != nil {
		return nil, err
	}
	env := mergeEnv(d.Environ(), req.Env)
	inv = d.Resolver.Resolve(inv, env)

	cmd := inv.command(env)
	cmd.Env = env
	cmd.Dir = req.Cwd
	cmd.WaitDelay = d.WaitDelay
	if req.Stdin != nil {
		b, err := d.Charset.Encode(*req.Stdin)
		if err != nil {
			return nil, protocol.Errorf(protocol.KindProtocol, "'stdin' cannot be encoded: %w", err)
		}
		cmd.Stdin = bytes.NewReader(b)
	}
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	if d.Verbose {
		cwd := req.Cwd
		if cwd == "" {
			cwd, _ = os.Getwd()
		}
		name, args := inv.words()
		d.Log.Infow("executing", "Command", inv.String(), "Cmd", name, "Args", args, "Shell", inv.Shell, "Cwd", cwd)
	}

	if err := cmd.Start(); err != nil {
		return nil, startError(err)
	}
	d.Log.Debugf("process %d started", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if timeout := req.TimeoutDuration(); timeout > 0 {
		timer := time.NewTimer(timeout - time.Since(start))
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-done:
		elapsed := time.Since(start)
		if cmd.ProcessState == nil {
			return nil, protocol.Errorf(protocol.KindDispatch, "failed to execute command: %w", err)
		}
		if err != nil && !isExitError(err) {
			d.Log.Debugf("unexpected wait error: %s", err)
		}
		return &Outcome{
			ExitCode: exitCode(cmd.ProcessState),
			Stdout:   d.Charset.Decode(stdout.Bytes()),
			Stderr:   d.Charset.Decode(stderr.Bytes()),
			Duration: elapsed,
		}, nil
	case <-timeoutC:
		elapsed := time.Since(start)
		d.kill(cmd)
		<-done
		d.Log.Debugf("process %d timed out after %s", cmd.Process.Pid, elapsed)
		return &Outcome{
			TimedOut: true,
			Stdout:   d.Charset.Decode(stdout.Bytes()),
			Stderr:   d.Charset.Decode(stderr.Bytes()),
			Duration: elapsed,
		}, nil
	case <-ctx.Done():
		d.kill(cmd)
		<-done
		return nil, protocol.Errorf(protocol.KindDispatch, "execution canceled: %w", ctx.Err())
	}
}

func (d *Dispatcher) kill(cmd *exec.Cmd) {
	if err := killProcessTree(cmd); err != nil {
		d.Log.Debugf("error killing process %d: %s", cmd.Process.Pid, err)
	}
}

func startError(err error) error {
	switch {
	case isNotFound(err):
		return protocol.Errorf(protocol.KindDispatch, "command not found: %w", err)
	case errors.Is(err, fs.ErrPermission):
		return protocol.Errorf(protocol.KindDispatch, "permission denied: %w", err)
	default:
		return protocol.Errorf(protocol.KindDispatch, "failed to execute command: %w", err)
	}
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay)
}

// syncBuffer is written by exec's copy goroutines and read once the process is gone.
type syncBuffer struct {
	mut sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mut.Lock()
	defer b.mut.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
