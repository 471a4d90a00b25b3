package protocol

// TimeoutError is the error value of a timeout response.
const TimeoutError = "timeout"

// ExecutionResult is the response body of an execution.
// ExitCode is only set when the process ran to completion.
type ExecutionResult struct {
	ExitCode   *int   `json:"exit_code,omitempty"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Completed is the result of a process that exited on its own.
func Completed(exitCode int, stdout, stderr string, durationMS int64) *ExecutionResult {
	return &ExecutionResult{
		ExitCode:   &exitCode,
		Stdout:     stdout,
		Stderr:     stderr,
		DurationMS: durationMS,
	}
}

// TimedOut is the result of a process killed at its deadline. It has no exit code.
func TimedOut(stdout, stderr string, durationMS int64) *ExecutionResult {
	return &ExecutionResult{
		Stdout:     stdout,
		Stderr:     stderr,
		DurationMS: durationMS,
		Error:      TimeoutError,
	}
}

// TimedOut reports whether r is a timeout result.
func (r *ExecutionResult) TimedOut() bool {
	return r.ExitCode == nil && r.Error == TimeoutError
}

// ErrorResponse is the body of every response that carries no process output.
type ErrorResponse struct {
	Error string `json:"error"`
}
