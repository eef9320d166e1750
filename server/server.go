// Package server exposes bridge operations over websocket and HTTP.
//
// Routes:
//
//	GET  /ws             websocket; one JSON Request per text frame, one Response per request
//	POST /v1/call        one Request in the body, the Response as the reply
//	GET  /v1/operations  operation catalogue
//	GET  /healthz        memory tier status
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-bridge/core"
	"github.com/becomeliminal/nim-bridge/tools"
)

// MaxRequestBytes bounds a single request body or websocket frame.
const MaxRequestBytes = 1 << 20

// DefaultMaxInFlight bounds concurrent requests per websocket connection.
// Reading pauses while the bound is reached.
const DefaultMaxInFlight = 32

// Handler runs bridge operations. *bridge.Bridge implements it.
type Handler interface {
	Handle(ctx context.Context, req core.Request) core.Response
	Operations() []core.OperationDefinition
}

// Server serves a Handler over HTTP.
type Server struct {
	handler     Handler
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	mux         *http.ServeMux
	maxInFlight int
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithCheckOrigin overrides the websocket origin check. The default
// accepts same-origin requests only.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// WithMaxInFlight sets the per-connection websocket request bound.
// Non-positive values keep DefaultMaxInFlight.
func WithMaxInFlight(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxInFlight = n
		}
	}
}

// New creates a server for h.
func New(h Handler, opts ...Option) *Server {
	s := &Server{
		handler: h,
		logger:  slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		mux:         http.NewServeMux(),
		maxInFlight: DefaultMaxInFlight,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	s.mux.HandleFunc("GET /ws", s.handleWebsocket)
	s.mux.HandleFunc("POST /v1/call", s.handleCall)
	s.mux.HandleFunc("GET /v1/operations", s.handleOperations)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	// No WriteTimeout: it would also cut long-lived websocket connections.
	httpServer := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", lis.Addr().String())
		errCh <- httpServer.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("", core.Invalidf("read body: %v", err)))
		return
	}
	if len(body) > MaxRequestBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("", core.Invalidf("request exceeds %d bytes", MaxRequestBytes)))
		return
	}

	var req core.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("", core.Invalidf("decode request: %v", err)))
		return
	}

	resp := s.handler.Handle(r.Context(), req)
	writeJSON(w, statusFor(resp), resp)
}

func (s *Server) handleOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": s.handler.Operations()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.handler.Handle(r.Context(), core.Request{Op: tools.OpMemoryStatus})
	if !resp.OK {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "memory": resp.Result})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxRequestBytes)

	remote := conn.RemoteAddr().String()
	s.logger.Info("websocket connected", "remote", remote)

	var (
		writeMu sync.Mutex
		pending sync.WaitGroup
		slots   = make(chan struct{}, s.maxInFlight)
	)
	reply := func(resp core.Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Debug("websocket write failed", "remote", remote, "error", err)
		}
	}

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "remote", remote, "error", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			reply(errorResponse("", core.Invalidf("expected a text frame")))
			continue
		}

		var req core.Request
		if err := json.Unmarshal(data, &req); err != nil {
			reply(errorResponse("", core.Invalidf("decode request: %v", err)))
			continue
		}

		// Requests run concurrently; callers match replies by id.
		slots <- struct{}{}
		pending.Add(1)
		go func() {
			defer func() {
				<-slots
				pending.Done()
			}()
			reply(s.handler.Handle(ctx, req))
		}()
	}

	pending.Wait()
	s.logger.Info("websocket disconnected", "remote", remote)
}

func errorResponse(id string, err error) core.Response {
	return core.Response{ID: id, Error: core.NewErrorBody(err)}
}

// statusFor maps a response to its HTTP status code.
func statusFor(resp core.Response) int {
	if resp.OK || resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
