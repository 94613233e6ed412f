package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Server wires every handler onto one HTTP listener.
type Server struct {
	cfg      *Config
	registry *SessionRegistry
	intake   *Intake
	bridge   *Bridge
	operator *OperatorHub

	httpServer *http.Server
	startedAt  time.Time
}

func NewServer(cfg *Config, registry *SessionRegistry, intake *Intake, bridge *Bridge, operator *OperatorHub) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  registry,
		intake:    intake,
		bridge:    bridge,
		operator:  operator,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/incoming-call", s.intake.HandleIncomingCall)
	mux.HandleFunc("/validate-number", s.intake.HandleValidateNumber)
	mux.HandleFunc("/confirm-number", s.intake.HandleConfirmNumber)
	mux.HandleFunc("/media-stream/", s.bridge.HandleMediaStream)
	mux.HandleFunc("/user", s.operator.HandleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	return s
}

// Handler exposes the route table.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	log.Printf("[Server] Listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown tears down every live session and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[Server] Shutting down")
	s.registry.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"activeSessions":  s.registry.ActiveSessions(),
		"pendingSessions": s.registry.PendingSessions(),
		"uptimeSeconds":   int(time.Since(s.startedAt).Seconds()),
	})
}
