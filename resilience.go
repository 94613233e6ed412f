package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// ResilienceManager restores dropped AI sockets and sweeps abandoned
// sessions on a fixed cadence.
type ResilienceManager struct {
	cfg      *Config
	registry *SessionRegistry
	dialer   RealtimeDialer
	orch     *Orchestrator
	pump     func(*CallSession, *websocket.Conn)
}

func NewResilienceManager(cfg *Config, registry *SessionRegistry, dialer RealtimeDialer, orch *Orchestrator) *ResilienceManager {
	return &ResilienceManager{cfg: cfg, registry: registry, dialer: dialer, orch: orch}
}

// SetPump wires in the bridge's realtime reader, started against each
// reconnected socket.
func (m *ResilienceManager) SetPump(pump func(*CallSession, *websocket.Conn)) {
	m.pump = pump
}

// Reconnect opens a fresh AI socket with the same credentials, swaps it into
// the existing session and re-runs orchestration. Session id, transcript and
// stream correlation id all survive the swap.
func (m *ResilienceManager) Reconnect(s *CallSession) error {
	select {
	case <-s.Done():
		return fmt.Errorf("reconnect session %s: session already closed", s.ID)
	default:
	}

	log.Printf("[Resilience] Reconnecting realtime socket for session %s", s.ID)

	conn, err := m.dialer.Dial()
	if err != nil {
		return fmt.Errorf("reconnect session %s: %w", s.ID, err)
	}

	s.AttachRealtime(conn)
	if m.pump != nil {
		m.pump(s, conn)
	}

	go func() {
		if err := m.orch.Initialize(context.Background(), s); err != nil {
			log.Printf("[Resilience] Re-orchestration failed for session %s: %v", s.ID, err)
		}
	}()

	return nil
}

// StartSweeper runs the abandoned-session sweep until stop is closed.
func (m *ResilienceManager) StartSweeper(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.registry.Sweep(time.Now(), m.cfg.PendingTTL)
			}
		}
	}()
}
