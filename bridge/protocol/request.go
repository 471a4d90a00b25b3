package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

const (
	ExecutePath     = "/execute"
	HealthPath      = "/health"
	AuthHeader      = "X-Auth-Token"
	RequestIDHeader = "X-Request-Id"

	DefaultHost = "127.0.0.1"
	DefaultPort = 8765
)

// Command is either a single command line or an argument vector.
// The zero value is an empty line and is not a valid command.
type Command struct {
	line   string
	argv   []string
	vector bool
}

// Line returns a command that is a single line of text.
func Line(line string) Command {
	return Command{line: line}
}

// Vector returns a command that is an argument vector.
func Vector(argv ...string) Command {
	return Command{argv: append([]string(nil), argv...), vector: true}
}

func (c Command) IsVector() bool { return c.vector }

func (c Command) Line() string { return c.line }

// Argv returns a copy of the argument vector, or nil for a line command.
func (c Command) Argv() []string {
	if !c.vector {
		return nil
	}
	return append([]string(nil), c.argv...)
}

func (c Command) String() string {
	if c.vector {
		return fmt.Sprintf("%q", c.argv)
	}
	return c.line
}

func (c Command) MarshalJSON() ([]byte, error) {
	if c.vector {
		argv := c.argv
		if argv == nil {
			argv = []string{}
		}
		return json.Marshal(argv)
	}
	return json.Marshal(c.line)
}

func (c *Command) UnmarshalJSON(b []byte) error {
	v, err := decodeValue(b)
	if err != nil {
		return err
	}
	cmd, perr := commandFromValue(v)
	if perr != nil {
		return perr
	}
	*c = cmd
	return nil
}

// ExecutionRequest describes one child process to run on the server host.
type ExecutionRequest struct {
	Command Command `json:"command"`
	// Shell overrides the default execution mode, which is shell for a line and direct for a vector.
	Shell *bool `json:"shell,omitempty"`
	Cwd   string `json:"cwd,omitempty"`
	// Env is overlaid on the server's environment.
	Env map[string]string `json:"env,omitempty"`
	// Timeout is in seconds. Zero means no limit.
	Timeout float64 `json:"timeout,omitempty"`
	// Stdin is nil when no input should be connected at all.
	Stdin *string `json:"stdin,omitempty"`
}

// ShellMode reports whether the command runs through the host shell.
func (r *ExecutionRequest) ShellMode() bool {
	if r.Shell != nil {
		return *r.Shell
	}
	return !r.Command.IsVector()
}

// MaxTimeout is the longest limit a request can ask for.
const MaxTimeout = time.Duration(math.MaxInt64)

// TimeoutDuration converts Timeout to a Duration. Zero means no limit, so any positive timeout
// is at least one nanosecond, and timeouts past MaxTimeout are capped at it.
func (r *ExecutionRequest) TimeoutDuration() time.Duration {
	if !(r.Timeout > 0) {
		return 0
	}
	ns := r.Timeout * float64(time.Second)
	switch {
	case ns >= float64(MaxTimeout):
		return MaxTimeout
	case ns < 1:
		return time.Nanosecond
	}
	return time.Duration(ns)
}

// Validate checks the structural invariants of the request that can be checked without touching the host.
func (r *ExecutionRequest) Validate() error {
	if r.Command.IsVector() {
		if len(r.Command.argv) == 0 {
			return Errorf(KindProtocol, "'command' must not be empty")
		}
		if r.Shell != nil && *r.Shell {
			return Errorf(KindProtocol, "list commands require shell=false")
		}
	} else if r.Command.line == "" {
		return Errorf(KindProtocol, "missing 'command' field")
	} else if strings.TrimSpace(r.Command.line) == "" {
		return Errorf(KindProtocol, "'command' must not be empty")
	}
	if math.IsNaN(r.Timeout) || math.IsInf(r.Timeout, 0) {
		return Errorf(KindProtocol, "'timeout' must be a number")
	}
	if r.Timeout < 0 {
		return Errorf(KindProtocol, "'timeout' must be greater than zero")
	}
	return nil
}

// ParseRequest decodes and validates a request body.
// Every returned error is an *Error, and a nil error means the request is safe to dispatch:
// the working directory, if any, has been expanded and exists.
func ParseRequest(body io.Reader) (*ExecutionRequest, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, Errorf(KindProtocol, "invalid json payload: %w", err)
	}
	if fields == nil {
		return nil, Errorf(KindProtocol, "request body must be a JSON object")
	}

	req := &ExecutionRequest{}

	raw, ok := field(fields, "command")
	if !ok {
		return nil, Errorf(KindProtocol, "missing 'command' field")
	}
	v, err := decodeValue(raw)
	if err != nil {
		return nil, Errorf(KindProtocol, "invalid 'command' field: %w", err)
	}
	cmd, perr := commandFromValue(v)
	if perr != nil {
		return nil, perr
	}
	req.Command = cmd

	if raw, ok := field(fields, "shell"); ok {
		var shell bool
		if err := json.Unmarshal(raw, &shell); err != nil {
			return nil, Errorf(KindProtocol, "'shell' must be a boolean")
		}
		req.Shell = &shell
	}
	if req.Command.IsVector() && req.ShellMode() {
		return nil, Errorf(KindProtocol, "list commands require shell=false")
	}

	if raw, ok := field(fields, "cwd"); ok {
		var cwd string
		if err := json.Unmarshal(raw, &cwd); err != nil {
			return nil, Errorf(KindProtocol, "'cwd' must be a string")
		}
		if cwd != "" {
			dir, err := ResolveDir(cwd)
			if err != nil {
				return nil, err
			}
			req.Cwd = dir
		}
	}

	if raw, ok := field(fields, "env"); ok {
		env, err := envFromRaw(raw)
		if err != nil {
			return nil, err
		}
		req.Env = env
	}

	if raw, ok := field(fields, "timeout"); ok {
		timeout, err := timeoutFromRaw(raw)
		if err != nil {
			return nil, err
		}
		req.Timeout = timeout
	}

	if raw, ok := field(fields, "stdin"); ok {
		var stdin string
		if err := json.Unmarshal(raw, &stdin); err != nil {
			return nil, Errorf(KindProtocol, "'stdin' must be a string")
		}
		req.Stdin = &stdin
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// ResolveDir expands a leading ~ and checks that the result is an existing directory.
func ResolveDir(dir string) (string, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return "", Errorf(KindResolution, "working directory '%s' cannot be expanded: %w", dir, err)
	}
	info, err := os.Stat(expanded)
	if err != nil || !info.IsDir() {
		return "", Errorf(KindResolution, "working directory '%s' does not exist", expanded)
	}
	return expanded, nil
}

// field returns the raw value for key, treating an explicit null as absent.
func field(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func commandFromValue(v any) (Command, *Error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return Command{}, Errorf(KindProtocol, "'command' must not be empty")
		}
		return Line(t), nil
	case []any:
		if len(t) == 0 {
			return Command{}, Errorf(KindProtocol, "'command' must not be empty")
		}
		argv := make([]string, 0, len(t))
		for i, el := range t {
			s, ok := scalarText(el)
			if !ok {
				return Command{}, Errorf(KindProtocol, "'command' item %d must be a string", i)
			}
			argv = append(argv, s)
		}
		return Vector(argv...), nil
	default:
		return Command{}, Errorf(KindProtocol, "'command' must be a string or list")
	}
}

// scalarText renders strings, numbers, and booleans as text. Other values are refused.
func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func envFromRaw(raw json.RawMessage) (map[string]string, *Error) {
	v, err := decodeValue(raw)
	if err != nil {
		return nil, Errorf(KindProtocol, "'env' must be an object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, Errorf(KindProtocol, "'env' must be an object")
	}
	env := make(map[string]string, len(obj))
	for k, val := range obj {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return nil, Errorf(KindProtocol, "'env' key %q is not a valid variable name", k)
		}
		s, ok := scalarText(val)
		if !ok {
			return nil, Errorf(KindProtocol, "'env' value for %q must be a string", k)
		}
		env[k] = s
	}
	return env, nil
}

func timeoutFromRaw(raw json.RawMessage) (float64, *Error) {
	v, err := decodeValue(raw)
	if err != nil {
		return 0, Errorf(KindProtocol, "'timeout' must be a number")
	}
	var f float64
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, Errorf(KindProtocol, "'timeout' must be a number")
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, Errorf(KindProtocol, "'timeout' must be a number")
	}
	if f <= 0 {
		return 0, Errorf(KindProtocol, "'timeout' must be greater than zero")
	}
	return f, nil
}
