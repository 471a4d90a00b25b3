package dispatch

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/guseggert/execbridge/bridge/protocol"
	"github.com/guseggert/execbridge/bridge/quote"
	"github.com/mattn/go-shellwords"
)

// Invocation is exactly how a child process will be launched: either a line handed to the host shell, or a vector executed directly.
type Invocation struct {
	Argv  []string
	Line  string
	Shell bool
}

func (i Invocation) String() string {
	if i.Shell {
		return i.Line
	}
	return fmt.Sprintf("%q", i.Argv)
}

// words splits the invocation into program and arguments for logging.
// Shell lines are split as shell words; a line that cannot be split is reported whole as the program.
func (i Invocation) words() (string, []string) {
	argv := i.Argv
	if i.Shell {
		var err error
		argv, err = shellwords.Parse(i.Line)
		if err != nil || len(argv) == 0 {
			return i.Line, nil
		}
	}
	if len(argv) == 0 {
		return "", nil
	}
	return argv[0], argv[1:]
}

// InvocationFor normalizes the command shape of a request.
// A line that must run without a shell is split into words with the host's command-line rules.
func InvocationFor(req *protocol.ExecutionRequest) (Invocation, error) {
	cmd := req.Command
	if req.ShellMode() {
		return Invocation{Line: cmd.Line(), Shell: true}, nil
	}
	if cmd.IsVector() {
		return Invocation{Argv: cmd.Argv()}, nil
	}
	argv, err := splitLine(cmd.Line())
	if err != nil {
		return Invocation{}, protocol.Errorf(protocol.KindProtocol, "cannot split command line: %w", err)
	}
	if len(argv) == 0 {
		return Invocation{}, protocol.Errorf(protocol.KindProtocol, "'command' must not be empty")
	}
	return Invocation{Argv: argv}, nil
}

// Resolver decides the final invocation once the child environment is known.
type Resolver interface {
	Resolve(inv Invocation, env []string) Invocation
}

// Passthrough is the resolver for hosts that can execute every file type directly.
type Passthrough struct{}

func (Passthrough) Resolve(inv Invocation, env []string) Invocation { return inv }

// ScriptResolver resolves the program of a direct invocation on the child's PATH.
// Programs whose extension is in Extensions cannot be executed without their interpreter shell,
// so those invocations are re-quoted into a single line and switched to shell mode.
// Anything else keeps direct mode with the absolute program path substituted.
// If the program cannot be found, the invocation is returned unchanged and the spawn reports the failure.
type ScriptResolver struct {
	// Extensions are lower case and include the dot, e.g. ".bat".
	Extensions []string
	// Quote joins the resolved vector into a line. Defaults to quote.Windows.
	Quote func(args []string) string
	// LookPath defaults to searching PATH from env.
	LookPath func(file string, env []string) (string, error)
}

func (r *ScriptResolver) Resolve(inv Invocation, env []string) Invocation {
	if inv.Shell || len(inv.Argv) == 0 {
		return inv
	}
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = LookPath
	}
	path, err := lookPath(inv.Argv[0], env)
	if err != nil {
		return inv
	}
	argv := append([]string{path}, inv.Argv[1:]...)

	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range r.Extensions {
		if ext == e {
			q := r.Quote
			if q == nil {
				q = quote.Windows
			}
			return Invocation{Line: q(argv), Shell: true}
		}
	}
	return Invocation{Argv: argv}
}

// command builds the exec.Cmd for inv. Direct programs named without a directory are looked up on the child's PATH,
// falling back to exec's lookup on the server's own PATH.
func (i Invocation) command(env []string) *exec.Cmd {
	if i.Shell {
		return shellCommand(i.Line)
	}
	cmd := exec.Command(i.Argv[0], i.Argv[1:]...)
	if !strings.ContainsAny(i.Argv[0], `/\`) {
		if path, err := LookPath(i.Argv[0], env); err == nil {
			cmd.Path = path
			cmd.Err = nil
		}
	}
	return cmd
}
