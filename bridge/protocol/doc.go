/*
Package protocol defines the wire protocol spoken between the bridge client and the bridge server.

Every execution is a single HTTP round trip:

1. The client POSTs a JSON ExecutionRequest to ExecutePath, optionally carrying the shared secret in the AuthHeader header.
2. The server checks the secret, validates the request, runs exactly one child process, and waits for it to exit or time out.
3. The server answers with a JSON body whose shape depends on the outcome:
  - 200: {exit_code, stdout, stderr, duration_ms}
  - 504: {error: "timeout", stdout, stderr, duration_ms}, with whatever output was captured before the process was killed
  - 400/401: {error} for malformed, unauthorized, or unresolvable requests; nothing was spawned
  - 500: {error} when the process could not be started at all

The "command" field is either a string, which runs through the host shell by default, or an array of strings, which is executed directly.
An array combined with "shell": true is refused instead of being re-joined into a line.

There is no session state, no streaming, and no retry. A lost round trip is a failed invocation.
*/
package protocol
