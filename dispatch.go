package main

import (
	"context"
	"log"
)

// Reconnector restores a session's AI socket after an upstream drop.
type Reconnector interface {
	Reconnect(s *CallSession) error
}

// Dispatcher handles tool invocations issued by the AI mid-call.
type Dispatcher struct {
	cfg       *Config
	orch      *Orchestrator
	backend   Backend
	reconnect Reconnector
}

func NewDispatcher(cfg *Config, orch *Orchestrator, backend Backend, reconnect Reconnector) *Dispatcher {
	return &Dispatcher{cfg: cfg, orch: orch, backend: backend, reconnect: reconnect}
}

// Dispatch routes one function-call event to its handler. Handlers run on
// their own goroutines so the realtime pump is never blocked.
func (d *Dispatcher) Dispatch(s *CallSession, ev realtimeEvent) {
	switch ev.Name {
	case "transfer_to_live_agent":
		log.Printf("[Dispatch] Session %s: transfer to live agent requested", s.ID)
		go d.handleTransfer(s, ev)
	case "replace_sensor":
		log.Printf("[Dispatch] Session %s: sensor replacement requested", s.ID)
		go d.handleReplaceSensor(s, ev)
	default:
		log.Printf("[Dispatch] Session %s: unknown tool %q", s.ID, ev.Name)
	}
}

// handleTransfer waits out the grace period, acknowledges the function call
// and re-orients the script to the live-agent persona.
func (d *Dispatcher) handleTransfer(s *CallSession, ev realtimeEvent) {
	if !s.Wait(d.cfg.TransferGrace) {
		return // session ended during the grace period
	}

	if err := d.acknowledge(s, ev); err != nil {
		log.Printf("[Dispatch] Transfer ack failed for session %s: %v", s.ID, err)
		return
	}

	if err := d.orch.TransferToLiveAgent(s); err != nil {
		log.Printf("[Dispatch] Live-agent handoff failed for session %s: %v", s.ID, err)
	}
}

// handleReplaceSensor notifies the replacement workflow and tells the caller
// a follow-up text message will collect shipping details. A failed notify or
// a closed AI socket triggers a reconnect instead.
func (d *Dispatcher) handleReplaceSensor(s *CallSession, ev realtimeEvent) {
	if err := d.backend.RequestReplacementInfo(context.Background(), s.PhoneNumber); err != nil {
		log.Printf("[Dispatch] Replacement notify failed for session %s: %v", s.ID, err)
		d.tryReconnect(s)
		return
	}

	if !s.RealtimeOpen() {
		log.Printf("[Dispatch] Realtime socket closed at replace_sensor dispatch for session %s", s.ID)
		d.tryReconnect(s)
		return
	}

	line := `Tell the user "In order to process your replacement, I will send you a text message ` +
		`where you can provide us with your full name, email address, and shipping address. ` +
		`Please reply to the message with the requested details in one message, and we'll take it from there!"`
	if err := d.orch.SpeakLine(s, line); err != nil {
		log.Printf("[Dispatch] Replacement line failed for session %s: %v", s.ID, err)
	}

	if err := d.acknowledge(s, ev); err != nil {
		log.Printf("[Dispatch] Replacement ack failed for session %s: %v", s.ID, err)
	}
}

// acknowledge emits the function-result frame for a completed tool call.
func (d *Dispatcher) acknowledge(s *CallSession, ev realtimeEvent) error {
	return s.WriteRealtime(conversationItemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: ev.CallID,
			Output: ev.Arguments,
		},
	})
}

func (d *Dispatcher) tryReconnect(s *CallSession) {
	if err := d.reconnect.Reconnect(s); err != nil {
		log.Printf("[Dispatch] Reconnect failed for session %s: %v", s.ID, err)
	}
}
