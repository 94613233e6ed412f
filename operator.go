package main

import (
	"log"
	"net/http"
)

// operatorEvent is an out-of-band update pushed into a live session,
// located by the phone number's fingerprint.
type operatorEvent struct {
	Event       string `json:"event"`
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name,omitempty"`
}

// OperatorHub accepts the operator-facing WebSocket and injects externally
// triggered conversation updates into confirmed sessions.
type OperatorHub struct {
	registry  *SessionRegistry
	orch      *Orchestrator
	reconnect Reconnector
}

func NewOperatorHub(registry *SessionRegistry, orch *Orchestrator, reconnect Reconnector) *OperatorHub {
	return &OperatorHub{registry: registry, orch: orch, reconnect: reconnect}
}

// HandleWebSocket handles the /user channel.
func (h *OperatorHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Operator] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[Operator] Channel connected")

	for {
		var ev operatorEvent
		if err := conn.ReadJSON(&ev); err != nil {
			log.Printf("[Operator] Channel closed: %v", err)
			return
		}
		h.handleEvent(ev)
	}
}

func (h *OperatorHub) handleEvent(ev operatorEvent) {
	if ev.PhoneNumber == "" {
		log.Printf("[Operator] Dropping %q event with no phone number", ev.Event)
		return
	}

	session, ok := h.registry.Session(Fingerprint(ev.PhoneNumber))
	if !ok {
		log.Printf("[Operator] No active session for phone number %s", ev.PhoneNumber)
		return
	}

	if !session.RealtimeOpen() {
		log.Printf("[Operator] Realtime socket closed for session %s, reconnecting", session.ID)
		if err := h.reconnect.Reconnect(session); err != nil {
			log.Printf("[Operator] Reconnect failed for session %s: %v", session.ID, err)
		}
		return
	}

	var err error
	switch ev.Event {
	case "user_login":
		err = h.orch.OnUserLogin(session, ev.Name)
	case "user_consent":
		log.Printf("[Operator] Consent received for session %s", session.ID)
		err = h.orch.OnUserConsent(session)
	case "user_send_sms":
		log.Printf("[Operator] Texted details received for session %s", session.ID)
		err = h.orch.OnUserSendSMS(session)
	default:
		log.Printf("[Operator] Unknown event type %q", ev.Event)
		return
	}

	if err != nil {
		log.Printf("[Operator] Failed to handle %s for session %s: %v", ev.Event, session.ID, err)
		if !session.RealtimeOpen() {
			if rerr := h.reconnect.Reconnect(session); rerr != nil {
				log.Printf("[Operator] Reconnect failed for session %s: %v", session.ID, rerr)
			}
		}
	}
}
