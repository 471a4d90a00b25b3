package bridge

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/guseggert/execbridge/bridge/protocol"
)

// FailureExitCode is used when there is no remote exit code to propagate.
const FailureExitCode = 1

// Replay writes the result of Execute to the caller's streams as if the process had run locally,
// and returns the code the caller should exit with.
// Output that arrived with a failure, such as the partial output of a timed out process, is still written.
// Diagnostics go to stderr after any replayed output.
func Replay(res *protocol.ExecutionResult, err error, stdout, stderr io.Writer, showMeta bool) int {
	if err != nil {
		var remote *RemoteError
		var transport *TransportError
		switch {
		case errors.As(err, &remote):
			if remote.Result != nil {
				io.WriteString(stdout, remote.Result.Stdout)
				io.WriteString(stderr, remote.Result.Stderr)
			}
			fmt.Fprintf(stderr, "Command bridge error (%d): %s\n", remote.StatusCode, remote.Message)
			if showMeta && remote.Result != nil {
				writeMeta(stderr, nil, remote.Result.DurationMS)
			}
		case errors.As(err, &transport):
			fmt.Fprintf(stderr, "Command bridge transport error: %s\n", transport)
		default:
			fmt.Fprintf(stderr, "Command bridge error: %s\n", err)
		}
		return FailureExitCode
	}

	io.WriteString(stdout, res.Stdout)
	io.WriteString(stderr, res.Stderr)

	if showMeta {
		writeMeta(stderr, res.ExitCode, res.DurationMS)
	}
	if res.ExitCode == nil {
		return FailureExitCode
	}
	return *res.ExitCode
}

func writeMeta(w io.Writer, exitCode *int, durationMS int64) {
	parts := []string{"exit_code=none"}
	if exitCode != nil {
		parts[0] = fmt.Sprintf("exit_code=%d", *exitCode)
	}
	parts = append(parts, fmt.Sprintf("duration_ms=%d", durationMS))
	fmt.Fprintf(w, "[command-bridge] %s\n", strings.Join(parts, " "))
}
