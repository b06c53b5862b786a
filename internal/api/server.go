// Package api is the HTTP boundary of the gateway. Handlers decode requests,
// run them through the admission chain and map RelayError kinds to statuses;
// no policy decisions live here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"key-chat/relay-gateway/internal/config"
	"key-chat/relay-gateway/internal/gateway"
	"key-chat/relay-gateway/internal/ledger"
	"key-chat/relay-gateway/internal/metrics"
	"key-chat/relay-gateway/internal/platform/ratelimiter"
	"key-chat/relay-gateway/internal/store"
)

const maxRequestBody = 10 << 20

// Deps bundles everything the server serves. The caller owns construction so
// tests can swap in memory-backed pieces.
type Deps struct {
	Verifier  *gateway.Verifier
	Quota     *ratelimiter.WindowLimiter
	Spending  *gateway.SpendingGuard
	Relay     *gateway.Relay
	Inbox     *gateway.InboxReader
	Blocklist *gateway.Blocklist
	Usernames *gateway.Usernames
	Avatars   *gateway.Avatars
	Groups    *gateway.Groups
	Ledger    ledger.Ledger
	Store     store.Store

	FeePayerAddress string
	Metrics         *metrics.Metrics
	Registry        *prometheus.Registry
	Log             *slog.Logger
}

type Server struct {
	httpServer  *http.Server
	deps        Deps
	network     string
	quotaPolicy string
	httpLimiter *ratelimiter.MapLimiter
	log         *slog.Logger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		deps:        deps,
		network:     cfg.Network,
		quotaPolicy: fmt.Sprintf("%d msg per %s", deps.Quota.Points(), deps.Quota.Window()),
		log:         deps.Log,
	}
	if cfg.HTTPRateEnabled {
		s.httpLimiter = ratelimiter.New(cfg.HTTPRateRPS, cfg.HTTPRateBurst, 10*time.Minute)
	}
	s.httpServer = &http.Server{
		Addr: cfg.ListenAddr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.admit(w, r) {
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
			mux.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/relay", s.handleRelay)
	mux.HandleFunc("GET /api/inbox/{pubkey}", s.handleInbox)

	mux.HandleFunc("POST /api/block", s.handleBlock)
	mux.HandleFunc("DELETE /api/block", s.handleUnblock)
	mux.HandleFunc("GET /api/block/check", s.handleBlockCheck)
	mux.HandleFunc("GET /api/block/list/{pubkey}", s.handleBlockList)

	mux.HandleFunc("GET /api/username/{name}/check", s.handleUsernameCheck)
	mux.HandleFunc("GET /api/username/{name}", s.handleUsernameLookup)
	mux.HandleFunc("POST /api/username/register", s.handleUsernameRegister)
	mux.HandleFunc("POST /api/username/release", s.handleUsernameRelease)

	mux.HandleFunc("POST /api/profile/avatar", s.handleAvatarSet)
	mux.HandleFunc("GET /api/profile/{username}/avatar", s.handleAvatarGet)
	mux.HandleFunc("DELETE /api/profile/{username}/avatar", s.handleAvatarDelete)

	mux.HandleFunc("POST /api/groups/create", s.handleGroupCreate)
	mux.HandleFunc("POST /api/groups/invite", s.handleGroupInvite)
	mux.HandleFunc("POST /api/groups/leave", s.handleGroupLeave)
	mux.HandleFunc("GET /api/groups/user/{pubkey}", s.handleUserGroups)
	mux.HandleFunc("GET /api/groups/{id}", s.handleGroupGet)

	if deps.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler exposes the full middleware chain for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()
	s.log.Info("gateway listening", "addr", s.httpServer.Addr, "network", s.network)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// admit applies CORS and the coarse per-origin limiter before routing.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) bool {
	if !s.applyCORS(w, r) {
		return false
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	if !s.httpLimiter.Allow(clientIP(r), time.Now()) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !isAllowedOrigin(origin) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
	return true
}

func isAllowedOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.TrimSpace(u.Hostname()) {
	case "":
		return false
	default:
		return true
	}
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Kind           gateway.Kind `json:"kind"`
	Message        string       `json:"message"`
	Hint           string       `json:"hint,omitempty"`
	RetryAfterMs   int64        `json:"retryAfterMs,omitempty"`
	OutcomeUnknown bool         `json:"outcomeUnknown,omitempty"`
}

// writeError maps RelayError kinds onto statuses; anything unrecognized is a
// 500 with no internals leaked.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var relayErr *gateway.RelayError
	if !errors.As(err, &relayErr) {
		s.log.Error("unclassified handler failure", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": errorBody{Kind: "internal_error", Message: "internal error"},
		})
		return
	}

	status := http.StatusInternalServerError
	switch relayErr.Kind {
	case gateway.KindAuthentication:
		status = http.StatusUnauthorized
	case gateway.KindBlocked:
		status = http.StatusForbidden
	case gateway.KindRateLimit, gateway.KindSpendingCap:
		status = http.StatusTooManyRequests
	case gateway.KindPayloadTooBig:
		status = http.StatusRequestEntityTooLarge
	case gateway.KindLedger:
		status = http.StatusBadGateway
	case gateway.KindStore:
		status = http.StatusServiceUnavailable
	case gateway.KindNotFound:
		status = http.StatusNotFound
	case gateway.KindInvalidRequest, gateway.KindDecryption:
		status = http.StatusBadRequest
	}
	if relayErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(relayErr.RetryAfter.Seconds()+1)))
	}
	writeJSON(w, status, map[string]any{"error": errorBody{
		Kind:           relayErr.Kind,
		Message:        relayErr.Message,
		Hint:           relayErr.Hint,
		RetryAfterMs:   relayErr.RetryAfter.Milliseconds(),
		OutcomeUnknown: relayErr.OutcomeUnknown,
	}})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &gateway.RelayError{Kind: gateway.KindInvalidRequest, Message: "malformed JSON body"}
	}
	return nil
}
