// Package coordinator serves the relay registry over HTTP.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"relayctl/internal/api"
	"relayctl/internal/config"
	"relayctl/internal/model"
	"relayctl/internal/registry"
	"relayctl/internal/store"
	"relayctl/internal/token"
)

const shutdownTimeout = 5 * time.Second

// Server provides the coordinator HTTP API.
type Server struct {
	cfg     config.CoordinatorConfig
	tokens  *token.Service
	reg     registry.Registry
	ttl     time.Duration
	clock   clock.Clock
	log     *zap.Logger
	limiter *rate.Limiter
	metrics *serverMetrics
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry replaces the default in-memory registry.
func WithRegistry(reg registry.Registry) Option {
	return func(s *Server) { s.reg = reg }
}

// WithClock sets the clock used for tokens, liveness and throttling.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer constructs a coordinator server from cfg.
func NewServer(cfg config.CoordinatorConfig, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		clock:   clock.New(),
		log:     zap.NewNop(),
		ttl:     registry.DefaultTTL,
		metrics: newServerMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reg == nil {
		s.reg = registry.NewMemory()
	}
	if cfg.NodeTTLSec > 0 {
		s.ttl = time.Duration(cfg.NodeTTLSec) * time.Second
	}

	tokenOpts := []token.Option{token.WithClock(s.clock)}
	if cfg.TokenMaxAgeSec > 0 {
		tokenOpts = append(tokenOpts, token.WithMaxAge(time.Duration(cfg.TokenMaxAgeSec)*time.Second))
	}
	tokens, err := token.NewService(cfg.Secret, tokenOpts...)
	if err != nil {
		return nil, err
	}
	s.tokens = tokens

	if cfg.VerifyRatePerSec > 0 {
		burst := cfg.VerifyBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.VerifyRatePerSec), burst)
	}
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/verification", s.handleVerification)
	mux.HandleFunc("/relay_list", s.authenticated(s.handleRelayList))
	mux.HandleFunc("/update_node", s.authenticated(s.handleUpdateNode))
	mux.HandleFunc("/clash_file", s.authenticated(s.handleClashFile))
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve restores the snapshot, serves on ln until ctx ends, then shuts down
// and writes the snapshot back.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	n, err := s.RestoreSnapshot(ctx)
	if err != nil {
		ln.Close()
		return err
	}
	if n > 0 {
		s.log.Info("snapshot restored", zap.Int("nodes", n), zap.String("path", s.cfg.SnapshotPath))
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	s.log.Info("coordinator listening", zap.String("addr", ln.Addr().String()))

	var serveErr error
	select {
	case serveErr = <-errCh:
		s.log.Error("serve failed", zap.Error(serveErr))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serveErr == nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown", zap.Error(err))
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("serve", zap.Error(err))
		}
	}

	// Saved on every exit path, including a failed listener.
	err = multierr.Append(serveErr, s.SaveSnapshot(shutdownCtx))
	if err != nil {
		return err
	}
	s.log.Info("coordinator stopped")
	return nil
}

// RunSnapshots writes the snapshot every interval until ctx ends. Failed
// writes are logged and retried on the next tick.
func (s *Server) RunSnapshots(ctx context.Context, every time.Duration) error {
	if s.cfg.SnapshotPath == "" || every <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := s.clock.Ticker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.SaveSnapshot(ctx); err != nil {
				s.metrics.snapshotFailures.Inc()
				s.log.Warn("periodic snapshot", zap.Error(err))
			}
		}
	}
}

// RestoreSnapshot re-upserts the records stored at snapshot_path with their
// stored last_seen. It returns how many records were replayed.
func (s *Server) RestoreSnapshot(ctx context.Context) (int, error) {
	if s.cfg.SnapshotPath == "" {
		return 0, nil
	}
	snap, err := store.LoadSnapshot(s.cfg.SnapshotPath)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	recs := snap.Records()
	for _, r := range recs {
		if err := s.reg.Upsert(ctx, r.NodeID, r.IP, r.Port, r.LastSeen); err != nil {
			return 0, fmt.Errorf("restore %s: %w", r.NodeID, err)
		}
	}
	return len(recs), nil
}

// SaveSnapshot writes the live registry to snapshot_path when configured.
func (s *Server) SaveSnapshot(ctx context.Context) error {
	if s.cfg.SnapshotPath == "" {
		return nil
	}
	recs, err := s.listActive(ctx)
	if err != nil {
		return fmt.Errorf("snapshot registry: %w", err)
	}
	snap := &store.Snapshot{UpdatedAt: s.clock.Now().UTC(), Nodes: store.FromRecords(recs)}
	if err := store.SaveSnapshot(s.cfg.SnapshotPath, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.log.Info("snapshot saved", zap.Int("nodes", len(recs)), zap.String("path", s.cfg.SnapshotPath))
	return nil
}

func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.limiter != nil && !s.limiter.AllowN(s.clock.Now(), 1) {
		s.metrics.verifications.WithLabelValues("throttled").Inc()
		writeJSONError(w, http.StatusTooManyRequests, "too many verification attempts")
		return
	}

	var req api.VerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.metrics.verifications.WithLabelValues("bad_request").Inc()
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	tok, err := s.tokens.Issue(req.Password)
	if err != nil {
		s.metrics.verifications.WithLabelValues("invalid_password").Inc()
		s.log.Info("verification rejected", zap.String("remote", r.RemoteAddr))
		writeJSONError(w, http.StatusBadRequest, "invalid password")
		return
	}
	s.metrics.verifications.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, api.VerificationResponse{SessionKey: tok})
}

func (s *Server) handleRelayList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	recs, err := s.listActive(r.Context())
	if err != nil {
		s.log.Error("list relays", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	list := make(api.RelayList, len(recs))
	for _, rec := range recs {
		list[rec.NodeID] = api.RelayInfo{IP: rec.IP, Port: rec.Port, LastSeen: rec.LastSeen.UTC()}
	}
	writeJSON(w, http.StatusOK, api.RelayListResponse{RelayList: list})
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.UpdateNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NodeID == "" {
		writeJSONError(w, http.StatusBadRequest, "node_id is required")
		return
	}
	if _, err := netip.ParseAddr(req.IP); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid ip %q", req.IP))
		return
	}
	if req.Port < 1 || req.Port > 65535 {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("port %d out of range", req.Port))
		return
	}

	if err := s.reg.Upsert(r.Context(), req.NodeID, req.IP, req.Port, s.clock.Now()); err != nil {
		s.log.Error("update node", zap.String("node_id", req.NodeID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.heartbeats.Inc()
	s.log.Debug("heartbeat", zap.String("node_id", req.NodeID), zap.String("ip", req.IP), zap.Int("port", req.Port))
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: "Node updated successfully"})
}

func (s *Server) handleClashFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.ClashFilePath == "" {
		writeJSONError(w, http.StatusNotFound, "clash file not found")
		return
	}

	data, err := os.ReadFile(s.cfg.ClashFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSONError(w, http.StatusNotFound, "clash file not found")
			return
		}
		s.log.Error("read clash file", zap.String("path", s.cfg.ClashFilePath), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "clash file unreadable")
		return
	}
	writeJSON(w, http.StatusOK, api.ClashFileResponse{ClashFile: string(data)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticated rejects requests without a valid session cookie with 403.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw string
		if c, err := r.Cookie(api.SessionCookie); err == nil {
			raw = c.Value
		}
		if _, err := s.tokens.Validate(raw); err != nil {
			kind := token.KindOf(err)
			s.metrics.authRejections.WithLabelValues(kind.String()).Inc()
			s.log.Debug("session rejected", zap.String("path", r.URL.Path), zap.Stringer("reason", kind), zap.Error(err))
			writeJSONError(w, http.StatusForbidden, rejectionMessage(kind))
			return
		}
		next(w, r)
	}
}

func rejectionMessage(kind token.Kind) string {
	switch kind {
	case token.MissingToken:
		return "session key is missing"
	case token.Expired:
		return "session expired"
	default:
		return "invalid session"
	}
}

func (s *Server) listActive(ctx context.Context) ([]model.NodeRecord, error) {
	recs, err := s.reg.ListActive(ctx, s.clock.Now(), s.ttl)
	if err != nil {
		return nil, err
	}
	s.metrics.activeNodes.Set(float64(len(recs)))
	return recs, nil
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
