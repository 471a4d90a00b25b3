package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/guseggert/execbridge/bridge/protocol"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Client sends execution requests to a bridge server. Executions are never retried.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	token                    string
	requestTimeout           time.Duration
	waitInterval             time.Duration
	customizeRetryableClient func(*retryablehttp.Client)
}

type ClientOption func(c *Client)

// WithClientToken sets the shared secret sent with every execution.
func WithClientToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithRequestTimeout bounds the whole HTTP round trip, including the time the remote process runs.
// Zero means no limit.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("bridge_client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func NewClient(log *zap.SugaredLogger, host string, port int, opts ...ClientOption) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("missing host")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range", port)
	}
	c := &Client{
		Logger:         log.Named("bridge_client"),
		baseURL:        "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		requestTimeout: 30 * time.Second,
		waitInterval:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{
		Timeout: c.requestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	}
	// An execution has side effects on the server, so a failed round trip is final.
	retryClient.RetryMax = 0
	retryClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		return false, err
	}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	return c, nil
}

// TransportError means no usable response was received: the server was unreachable, or it answered with something that is not the protocol.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-200 protocol response. Result holds any output that came with it, which is the case for timeouts.
type RemoteError struct {
	StatusCode int
	Message    string
	Result     *protocol.ExecutionResult
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge returned status %d: %s", e.StatusCode, e.Message)
}

// TimedOut reports whether the remote process was killed at its deadline.
func (e *RemoteError) TimedOut() bool {
	return e.StatusCode == http.StatusGatewayTimeout && e.Result != nil && e.Result.TimedOut()
}

func (c *Client) prepReq(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		r.Header.Set(protocol.AuthHeader, c.token)
	}
}

// Execute runs req on the server. A completed process returns its result even when the exit code is non-zero.
// Anything else is a *RemoteError, a *TransportError, or a *protocol.Error for a request that was invalid before sending.
func (c *Client) Execute(ctx context.Context, req *protocol.ExecutionRequest) (*protocol.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+protocol.ExecutePath, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.prepReq(httpReq)

	c.Logger.Debugw("sending execution", "Command", req.Command.String(), "Shell", req.ShellMode())
	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "reaching command bridge server", Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Op: "reading response", Err: err}
	}
	c.Logger.Debugw("got response", "Status", httpResp.StatusCode, "RequestID", httpResp.Header.Get(protocol.RequestIDHeader))

	var res protocol.ExecutionResult
	decodeErr := json.Unmarshal(body, &res)

	if httpResp.StatusCode != http.StatusOK {
		remote := &RemoteError{StatusCode: httpResp.StatusCode}
		if decodeErr == nil {
			remote.Message = res.Error
			remote.Result = &res
		}
		if remote.Message == "" {
			remote.Message = strings.TrimSpace(string(body))
		}
		if remote.Message == "" {
			remote.Message = http.StatusText(httpResp.StatusCode)
		}
		return nil, remote
	}
	if decodeErr != nil {
		return nil, &TransportError{Op: "invalid JSON response from server", Err: decodeErr}
	}
	return &res, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+protocol.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status code %d", resp.StatusCode)
	}
	return nil
}

// WaitForServer polls Health until it succeeds or ctx is done.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.Health(ctx)
			if err == nil {
				c.Logger.Debug("health check succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got health check error: %s", err)
		}
	}
}
