//go:build !windows

package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guseggert/execbridge/bridge/protocol"
	inet "github.com/guseggert/execbridge/internal/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startServer runs a server on an ephemeral loopback port and returns a client for it.
func startServer(t *testing.T, serverOpts []Option, clientOpts ...ClientOption) *Client {
	t.Helper()
	logger := zaptest.NewLogger(t)

	l, port, err := inet.ListenLoopback()
	require.NoError(t, err)

	s, err := NewServer(append([]Option{WithLogger(logger), WithVerbose(true)}, serverOpts...)...)
	require.NoError(t, err)

	go s.Serve(l)
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})

	client, err := NewClient(logger.Sugar(), "127.0.0.1", port, clientOpts...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForServer(ctx))
	return client
}

func strPtr(s string) *string { return &s }

func TestExecute(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, nil)

	cases := []struct {
		name      string
		req       protocol.ExecutionRequest
		expCode   int
		expStdout string
		expStderr string
	}{
		{
			name:      "vector echo",
			req:       protocol.ExecutionRequest{Command: protocol.Vector("echo", "hi")},
			expStdout: "hi\n",
		},
		{
			name:    "shell exit code",
			req:     protocol.ExecutionRequest{Command: protocol.Line("exit 3")},
			expCode: 3,
		},
		{
			name:      "stdout and stderr",
			req:       protocol.ExecutionRequest{Command: protocol.Line("printf foo; printf bar 1>&2; exit 1")},
			expCode:   1,
			expStdout: "foo",
			expStderr: "bar",
		},
		{
			name:      "stdin round trip",
			req:       protocol.ExecutionRequest{Command: protocol.Vector("cat"), Stdin: strPtr("line one\nline twö\n")},
			expStdout: "line one\nline twö\n",
		},
		{
			name:      "env overlay",
			req:       protocol.ExecutionRequest{Command: protocol.Line(`printf "%s" "$BRIDGE_TEST_VAR"`), Env: map[string]string{"BRIDGE_TEST_VAR": "set"}},
			expStdout: "set",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := client.Execute(ctx, &c.req)
			require.NoError(t, err)
			require.NotNil(t, res.ExitCode)
			assert.Equal(t, c.expCode, *res.ExitCode)
			assert.Equal(t, c.expStdout, res.Stdout)
			assert.Equal(t, c.expStderr, res.Stderr)
			assert.Empty(t, res.Error)
			assert.GreaterOrEqual(t, res.DurationMS, int64(0))
		})
	}
}

func TestExecuteWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), nil, 0o644))

	client := startServer(t, nil)
	res, err := client.Execute(context.Background(), &protocol.ExecutionRequest{
		Command: protocol.Vector("ls"),
		Cwd:     dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "marker\n", res.Stdout)
}

func TestExecuteTimeout(t *testing.T) {
	client := startServer(t, nil)

	res, err := client.Execute(context.Background(), &protocol.ExecutionRequest{
		Command: protocol.Line("echo started; sleep 5"),
		Timeout: 0.01,
	})
	assert.Nil(t, res)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusGatewayTimeout, remote.StatusCode)
	assert.True(t, remote.TimedOut())
	assert.Equal(t, protocol.TimeoutError, remote.Message)
	require.NotNil(t, remote.Result)
	assert.Nil(t, remote.Result.ExitCode)
	assert.GreaterOrEqual(t, remote.Result.DurationMS, int64(10))
	assert.Less(t, remote.Result.DurationMS, int64(1000))
}

func TestExecuteRejections(t *testing.T) {
	client := startServer(t, nil)

	cases := []struct {
		name      string
		req       protocol.ExecutionRequest
		expStatus int
		expMsg    string
	}{
		{
			name:      "missing working directory",
			req:       protocol.ExecutionRequest{Command: protocol.Vector("ls"), Cwd: "/definitely/not/a/dir"},
			expStatus: http.StatusBadRequest,
			expMsg:    "working directory '/definitely/not/a/dir' does not exist",
		},
		{
			name:      "command not found",
			req:       protocol.ExecutionRequest{Command: protocol.Vector("definitely-not-a-real-command-4f2a")},
			expStatus: http.StatusInternalServerError,
			expMsg:    "command not found",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := client.Execute(context.Background(), &c.req)
			var remote *RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, c.expStatus, remote.StatusCode)
			assert.Contains(t, remote.Message, c.expMsg)
			assert.False(t, remote.TimedOut())
			require.NotNil(t, remote.Result)
			assert.Nil(t, remote.Result.ExitCode)
		})
	}
}

func TestClientValidatesBeforeSending(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	t.Cleanup(ts.Close)

	client := newTestClient(t, ts)
	yes := true
	_, err := client.Execute(context.Background(), &protocol.ExecutionRequest{Command: protocol.Vector("ls"), Shell: &yes})
	require.Error(t, err)
	assert.Equal(t, protocol.KindProtocol, protocol.KindOf(err))
	assert.EqualValues(t, 0, atomic.LoadInt32(&hits))
}

func TestAuth(t *testing.T) {
	cases := []struct {
		name        string
		serverToken string
		clientToken string
		expAuthz    bool
	}{
		{name: "no token configured, none sent", expAuthz: true},
		{name: "no token configured, one sent", clientToken: "whatever", expAuthz: true},
		{name: "token configured, correct", serverToken: "s3cret", clientToken: "s3cret", expAuthz: true},
		{name: "token configured, none sent", serverToken: "s3cret"},
		{name: "token configured, wrong", serverToken: "s3cret", clientToken: "s3cre"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			client := startServer(t, []Option{WithToken(c.serverToken)}, WithClientToken(c.clientToken))

			res, err := client.Execute(context.Background(), &protocol.ExecutionRequest{Command: protocol.Vector("true")})
			if c.expAuthz {
				require.NoError(t, err)
				assert.Equal(t, 0, *res.ExitCode)
				return
			}
			var remote *RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, http.StatusUnauthorized, remote.StatusCode)
			assert.Equal(t, "unauthorized", remote.Message)
		})
	}
}

func postRaw(t *testing.T, url, body string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m), string(b))
	return resp, m
}

func newTestHandlerServer(t *testing.T, opts ...Option) *httptest.Server {
	s, err := NewServer(append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestRawProtocol(t *testing.T) {
	ts := newTestHandlerServer(t)

	cases := []struct {
		name      string
		body      string
		expStatus int
		expBody   map[string]any
	}{
		{
			name:      "success shape",
			body:      `{"command": ["echo", "hi"]}`,
			expStatus: http.StatusOK,
			expBody:   map[string]any{"exit_code": float64(0), "stdout": "hi\n", "stderr": ""},
		},
		{
			name:      "invalid json",
			body:      `{"command": `,
			expStatus: http.StatusBadRequest,
		},
		{
			name:      "vector with shell",
			body:      `{"command": ["echo", "hi"], "shell": true}`,
			expStatus: http.StatusBadRequest,
			expBody:   map[string]any{"error": "list commands require shell=false"},
		},
		{
			name:      "missing command",
			body:      `{"shell": true}`,
			expStatus: http.StatusBadRequest,
			expBody:   map[string]any{"error": "missing 'command' field"},
		},
		{
			name:      "bad timeout",
			body:      `{"command": "true", "timeout": -1}`,
			expStatus: http.StatusBadRequest,
			expBody:   map[string]any{"error": "'timeout' must be greater than zero"},
		},
		{
			name:      "timeout shape",
			body:      `{"command": "sleep 5", "timeout": 0.05}`,
			expStatus: http.StatusGatewayTimeout,
			expBody:   map[string]any{"error": "timeout", "stdout": "", "stderr": ""},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp, body := postRaw(t, ts.URL+protocol.ExecutePath, c.body, nil)
			assert.Equal(t, c.expStatus, resp.StatusCode)
			assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
			assert.NotEmpty(t, resp.Header.Get(protocol.RequestIDHeader))
			for k, v := range c.expBody {
				assert.Equal(t, v, body[k], k)
			}
			switch c.expStatus {
			case http.StatusOK:
				assert.Contains(t, body, "duration_ms")
				assert.NotContains(t, body, "error")
			case http.StatusGatewayTimeout:
				assert.Contains(t, body, "duration_ms")
				assert.NotContains(t, body, "exit_code")
			default:
				assert.Contains(t, body, "error")
				assert.Len(t, body, 1)
			}
		})
	}
}

func TestUnauthorizedBeforeParsing(t *testing.T) {
	ts := newTestHandlerServer(t, WithToken("s3cret"))

	for _, body := range []string{`not json at all`, `{"command": ["echo"], "shell": true}`, `{"command": "true"}`} {
		resp, m := postRaw(t, ts.URL+protocol.ExecutePath, body, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "unauthorized", m["error"])

		resp, _ = postRaw(t, ts.URL+protocol.ExecutePath, body, http.Header{protocol.AuthHeader: {"wrong"}})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, m := postRaw(t, ts.URL+protocol.ExecutePath, `{"command": "exit 4"}`, http.Header{protocol.AuthHeader: {"s3cret"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), m["exit_code"])
}

func TestRoutes(t *testing.T) {
	ts := newTestHandlerServer(t, WithToken("s3cret"))

	resp, err := http.Get(ts.URL + protocol.HealthPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + protocol.ExecutePath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, m := postRaw(t, ts.URL+"/nope", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", m["error"])
}

func TestConcurrentExecutions(t *testing.T) {
	client := startServer(t, nil)

	const n = 8
	errs := make(chan error, n)
	start := time.Now()
	for i := 0; i < n; i++ {
		go func() {
			res, err := client.Execute(context.Background(), &protocol.ExecutionRequest{Command: protocol.Line("sleep 0.5; echo done")})
			if err == nil && res.Stdout != "done\n" {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	assert.Less(t, time.Since(start), 4*time.Second)
}
