package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"escrowledger/core"
	"escrowledger/observability/metrics"
	"escrowledger/rpc/middleware"
	"escrowledger/rpc/modules"
)

const (
	// ScopeWrite is required on bearer tokens for signed methods when JWT auth
	// is enabled.
	ScopeWrite = "escrow:write"

	defaultMaxBodyBytes = 1 << 20
	defaultEventBuffer  = 128
	shutdownGrace       = 10 * time.Second
)

// ServerConfig tunes the HTTP surface. Zero values select defaults.
type ServerConfig struct {
	ListenAddress     string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxBodyBytes      int64
	EventBuffer       int
	Auth              middleware.AuthConfig
	RateLimit         middleware.RateLimit
	CORS              middleware.CORSConfig
	LogRequests       bool
}

// Server exposes the ledger over JSON-RPC 2.0, streams committed events over
// websocket and serves health and metrics endpoints.
type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	metrics *metrics.EscrowMetrics

	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability

	escrow   *modules.EscrowModule
	admin    *modules.AdminModule
	accounts *modules.AccountModule
	audit    *modules.AuditModule
	methods  map[string]method

	handler http.Handler
}

// NewServer wires the RPC modules to node. store may be nil when the event
// archive is disabled.
func NewServer(node *core.Node, store modules.EventStore, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if node == nil {
		return nil, errors.New("rpc: node required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Auth.Enabled && len(cfg.Auth.HMACSecret) == 0 {
		return nil, errors.New("rpc: JWT auth enabled without a secret")
	}
	s := &Server{
		node:     node,
		cfg:      cfg,
		logger:   logger.With("component", "rpc"),
		metrics:  metrics.Escrow(),
		auth:     middleware.NewAuthenticator(cfg.Auth, logger),
		limiter:  middleware.NewRateLimiter(map[string]middleware.RateLimit{"rpc": cfg.RateLimit, "ws": cfg.RateLimit}, logger),
		obs:      middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "escrowd", LogRequests: cfg.LogRequests, Enabled: true}, logger),
		escrow:   modules.NewEscrowModule(node),
		admin:    modules.NewAdminModule(node),
		accounts: modules.NewAccountModule(node),
		audit:    modules.NewAuditModule(store),
	}
	s.methods = s.methodTable()
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.CORS(s.cfg.CORS))

	router.With(
		s.obs.Middleware("rpc"),
		s.limiter.Middleware("rpc"),
		s.auth.Middleware(),
	).Post("/", s.handle)
	router.With(
		s.obs.Middleware("ws"),
		s.limiter.Middleware("ws"),
		s.auth.Middleware(),
	).Get("/ws/events", s.handleEventsWS)

	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, s.obs.Registry()}
	router.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	router.Get("/healthz", s.handleHealth)

	return otelhttp.NewHandler(router, "escrowd.http")
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", s.cfg.ListenAddress, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln and shuts down gracefully when ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		s.logger.Info("json-rpc server stopped")
		return nil
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "at most one parameter object expected", nil)
		return
	}
	var raw json.RawMessage
	if len(req.Params) == 1 {
		raw = req.Params[0]
	}

	start := time.Now()
	result, modErr := s.dispatch(r, req.Method, m, raw)
	if modErr != nil {
		s.metrics.ObserveRPC(req.Method, modErr, time.Since(start))
		if modErr.HTTPStatus >= http.StatusInternalServerError {
			s.logger.Error("rpc call failed", "method", req.Method, "error", modErr.Message, "data", modErr.Data,
				"request_id", middleware.RequestIDFromContext(r.Context()))
		}
		writeModuleError(w, req.ID, modErr)
		return
	}
	s.metrics.ObserveRPC(req.Method, nil, time.Since(start))
	writeResult(w, req.ID, result)
}

func (s *Server) dispatch(r *http.Request, name string, m method, raw json.RawMessage) (interface{}, *modules.ModuleError) {
	if !m.signed {
		return m.read(r.Context(), raw)
	}
	if s.auth.Enabled() {
		scopes, _ := middleware.ScopesFromContext(r.Context())
		if !middleware.HasScopes(scopes, []string{ScopeWrite}) {
			return nil, &modules.ModuleError{HTTPStatus: http.StatusForbidden, Code: codeUnauthorized, Message: "token lacks " + ScopeWrite + " scope"}
		}
	}
	if len(raw) == 0 {
		return nil, &modules.ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "signed envelope required"}
	}
	caller, args, modErr := s.openEnvelope(name, raw)
	if modErr != nil {
		return nil, modErr
	}
	return m.write(r.Context(), caller, args)
}

type healthResponse struct {
	Status string `json:"status"`
	Height uint64 `json:"height"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	height, err := s.node.Height()
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "unavailable"})
		return
	}
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Height: height})
}
