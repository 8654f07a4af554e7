package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zapbi/zapbi/internal/telemetry"
)

var tracer = telemetry.Tracer("github.com/zapbi/zapbi/internal/gateway")

// Server receives webhook events and hands them to the orchestrator.
type Server struct {
	host         string
	port         int
	webhookToken string

	mu           sync.RWMutex
	orchestrator *Orchestrator

	rateLimiter *RateLimiter

	httpServer *http.Server
	mux        *http.ServeMux
}

type ServerConfig struct {
	Host               string
	Port               int
	WebhookToken       string
	RateLimitPerMinute int
	Orchestrator       *Orchestrator
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		webhookToken: cfg.WebhookToken,
		orchestrator: cfg.Orchestrator,
		rateLimiter:  NewRateLimiter(cfg.RateLimitPerMinute, 5),
	}
}

// SetOrchestrator swaps the turn pipeline, used by config hot reload.
func (s *Server) SetOrchestrator(o *Orchestrator) {
	s.mu.Lock()
	s.orchestrator = o
	s.mu.Unlock()
}

func (s *Server) currentOrchestrator() *Orchestrator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orchestrator
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/webhook", s.handleWebhook)
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleWebhook processes one gateway event. The response is always 200 with
// a status field; error statuses would only make the gateway retry a turn
// that already failed for a non-transient reason.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.webhookToken != "" {
		got := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookToken)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var env webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ev, noop := normalize(&env)
	if ev == nil {
		slog.Debug("webhook no-op", "event", env.Event, "reason", noop)
		writeStatus(w, noop)
		return
	}

	if !s.rateLimiter.Allow(ev.Phone) {
		slog.Warn("rate limited", "phone", ev.Phone)
		writeStatus(w, "rate_limited")
		return
	}

	ctx, span := tracer.Start(r.Context(), "webhook.turn")
	defer span.End()

	status, err := s.currentOrchestrator().HandleTurn(ctx, ev)
	if err != nil {
		slog.Error("turn failed", "phone", ev.Phone, "status", status, "error", err)
		writeStatus(w, statusFailed)
		return
	}
	writeStatus(w, status)
}

func writeStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
