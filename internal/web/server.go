// Package web exposes the editor bridge: a small HTTP command protocol for
// editor integrations plus a WebSocket stream of coordination events.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"conclave/internal/bus"
	"conclave/internal/config"
	"conclave/internal/session"
	"conclave/internal/store"
)

// SessionRunner drives a coordination session to a terminal state.
// *session.Controller satisfies it.
type SessionRunner interface {
	Run(ctx context.Context, prompt string) (*session.Session, error)
	AgentIDs() []string
}

type Server struct {
	store     *store.Store
	bus       *bus.Bus
	nats      *bus.Client
	runner    SessionRunner
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

func NewServer(st *store.Store, b *bus.Bus, runner SessionRunner, cfg config.WebConfig, version string) *Server {
	return &Server{
		store:     st,
		bus:       b,
		runner:    runner,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

// Handler builds the full route table wrapped in CORS + auth middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteSession)

	mux.HandleFunc("GET /api/prompts", s.listPrompts)
	mux.HandleFunc("POST /api/prompts", s.createPrompt)
	mux.HandleFunc("DELETE /api/prompts/{id}", s.deletePrompt)

	mux.HandleFunc("GET /api/secrets", s.listSecrets)

	mux.HandleFunc("GET /api/status", s.getStatus)

	return s.withMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.subscribeEvents()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("editor bridge listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.cfg.Auth != "" && !s.checkAuth(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkAuth accepts a bearer token or the basic-auth password matching the
// configured auth value.
func (s *Server) checkAuth(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Auth)) == 1
	}
	if _, pass, ok := r.BasicAuth(); ok {
		return subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth)) == 1
	}
	return false
}

// subscribeEvents forwards every bus event to connected WebSocket clients.
func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	client, err := bus.NewClient(s.bus)
	if err != nil {
		slog.Error("bridge nats client failed", "error", err)
		return
	}
	s.nats = client

	_, _ = client.Subscribe(bus.TopicEventsAll, func(msg *nats.Msg) {
		if !json.Valid(msg.Data) {
			slog.Warn("invalid event payload on bus", "topic", msg.Subject)
			return
		}
		s.hub.Broadcast(msg.Data)
	})
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
