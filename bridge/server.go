// Package bridge implements the bridge server, which runs one child process per HTTP request,
// and the client that replays those executions as if they had run locally.
package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/execbridge/bridge/dispatch"
	"github.com/guseggert/execbridge/bridge/protocol"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Server is the HTTP bridge server. Each request runs one child process on this host.
// Configuration is fixed at construction and shared read-only by all requests.
type Server struct {
	logger *zap.SugaredLogger

	listenAddr string
	token      string
	verbose    bool

	dispatcher *dispatch.Dispatcher
	httpServer *http.Server
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithToken requires every execution request to carry token in the protocol.AuthHeader header.
// An empty token disables authentication.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithVerbose enables access logging and logs every invocation before it is spawned.
func WithVerbose(verbose bool) Option {
	return func(s *Server) {
		s.verbose = verbose
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("bridge_server").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithDispatcher replaces the default dispatcher, e.g. to change the resolver or the output charsets.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(s *Server) {
		s.dispatcher = d
	}
}

// NewServer constructs a bridge server.
func NewServer(opts ...Option) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		logger:     logger.Named("bridge_server").Sugar(),
		listenAddr: net.JoinHostPort(protocol.DefaultHost, fmt.Sprint(protocol.DefaultPort)),
	}
	for _, o := range opts {
		o(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = dispatch.NewDispatcher(s.logger.Named("dispatcher"))
	}
	s.dispatcher.Verbose = s.verbose
	s.httpServer = &http.Server{Handler: s.Handler()}
	return s, nil
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.POST(protocol.ExecutePath, s.execute)
	router.GET(protocol.HealthPath, s.health)
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "not found"})
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, protocol.ErrorResponse{Error: "method not allowed"})
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		s.logger.Errorw("panic handling request", "Path", r.URL.Path, "Panic", v)
		s.writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: fmt.Sprintf("internal error: %v", v)})
	}

	return s.withRequestID(router)
}

// Run listens on the configured address and serves until Stop is called.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	if s.token == "" {
		s.logger.Warnw("no token configured, accepting unauthenticated requests", "Addr", l.Addr().String())
	} else {
		s.logger.Infow("listening", "Addr", l.Addr().String(), "TokenRequired", true)
	}
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight executions until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Stop() error {
	return s.httpServer.Close()
}

type requestIDKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(protocol.RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
		if !s.verbose {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Infow("request",
			"RequestID", id,
			"Remote", r.RemoteAddr,
			"Method", r.Method,
			"Path", r.URL.Path,
			"Status", rec.status,
			"Duration", time.Since(start),
		)
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

// authorized reports whether the request carries the configured token. Without a token everything is authorized.
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	got := r.Header.Get(protocol.AuthHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

// execute authenticates, validates, and dispatches one request.
// The body is not read at all when authentication fails.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	log := s.logger.With("RequestID", requestID(r.Context()))

	if !s.authorized(r) {
		log.Debug("rejecting unauthorized request")
		s.writeError(w, protocol.Errorf(protocol.KindAuth, "unauthorized"))
		return
	}

	req, err := protocol.ParseRequest(r.Body)
	if err != nil {
		log.Debugf("rejecting request: %s", err)
		s.writeError(w, err)
		return
	}

	outcome, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		log.Debugf("dispatch failed: %s", err)
		s.writeError(w, err)
		return
	}

	res := outcome.Result()
	status := http.StatusOK
	if outcome.TimedOut {
		status = protocol.KindTimeout.HTTPStatus()
	}
	log.Debugw("execution finished", "ExitCode", outcome.ExitCode, "TimedOut", outcome.TimedOut, "DurationMS", res.DurationMS)
	s.writeJSON(w, status, res)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, protocol.KindOf(err).HTTPStatus(), protocol.ErrorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Errorf("error marshaling response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(b); err != nil {
		s.logger.Debugf("error writing response: %s", err)
	}
}
