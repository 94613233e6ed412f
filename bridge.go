package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow Twilio connections
	},
}

// Telephony media-stream frames.
type mediaStreamMsg struct {
	Event string `json:"event"`
	Start *struct {
		StreamSid string `json:"streamSid"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// Bridge pairs a confirmed session's telephony media stream with an AI
// realtime socket and relays audio and events between them.
type Bridge struct {
	cfg      *Config
	registry *SessionRegistry
	orch     *Orchestrator
	dispatch *Dispatcher
	dialer   RealtimeDialer
	backend  Backend
}

func NewBridge(cfg *Config, registry *SessionRegistry, orch *Orchestrator, dispatch *Dispatcher, dialer RealtimeDialer, backend Backend) *Bridge {
	return &Bridge{
		cfg:      cfg,
		registry: registry,
		orch:     orch,
		dispatch: dispatch,
		dialer:   dialer,
		backend:  backend,
	}
}

// HandleMediaStream handles the session-scoped media-stream WebSocket.
func (b *Bridge) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/media-stream/")
	session, ok := b.registry.Session(sessionID)
	if !ok || !session.Validated {
		log.Printf("[Bridge] Rejecting media stream for unknown session %q", sessionID)
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Bridge] WebSocket upgrade failed: %v", err)
		return
	}

	log.Printf("[Bridge] Media stream connected for session %s", session.ID)

	session.AttachTransport(conn)
	conn.SetPongHandler(func(string) error {
		session.MarkTransportAlive(true)
		return nil
	})

	aiConn, err := b.dialer.Dial()
	if err != nil {
		log.Printf("[Bridge] Failed to open realtime socket for session %s: %v", session.ID, err)
		b.teardown(session)
		return
	}
	session.AttachRealtime(aiConn)

	go b.pumpRealtime(session, aiConn)
	go b.superviseTransport(session, conn)
	go b.initialize(session)

	b.pumpTransport(session, conn)
	b.teardown(session)
}

// initialize notifies the backend that the call is live, then runs the
// orchestrator against the fresh AI socket.
func (b *Bridge) initialize(session *CallSession) {
	ctx := context.Background()

	if err := b.backend.SendMessage(ctx, session.PhoneNumber); err != nil {
		log.Printf("[Bridge] Phone-number notify failed for session %s: %v", session.ID, err)
		b.teardown(session)
		return
	}

	if err := b.orch.Initialize(ctx, session); err != nil {
		// The orchestrator already surfaced the failure to the caller.
		log.Printf("[Bridge] Orchestration failed for session %s: %v", session.ID, err)
	}
}

// pumpTransport consumes the telephony socket until it closes or the stream
// stops. Media frames are forwarded to the AI socket only while it is open;
// otherwise they are dropped without error.
func (b *Bridge) pumpTransport(session *CallSession, conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if session.TransportAlive() {
				log.Printf("[Bridge] Transport read error for session %s: %v", session.ID, err)
			}
			return
		}

		var msg mediaStreamMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[Bridge] Failed to parse transport frame for session %s: %v", session.ID, err)
			continue
		}

		switch msg.Event {
		case "connected":
			log.Printf("[Bridge] Transport protocol connected for session %s", session.ID)

		case "start":
			if msg.Start == nil {
				continue
			}
			session.SetStreamSID(msg.Start.StreamSid)
			log.Printf("[Bridge] Stream started for session %s (streamSid=%s)", session.ID, msg.Start.StreamSid)

		case "media":
			if msg.Media == nil {
				continue
			}
			err := session.WriteRealtime(audioAppend{
				Type:  "input_audio_buffer.append",
				Audio: msg.Media.Payload,
			})
			if err != nil && !errors.Is(err, errRealtimeClosed) {
				log.Printf("[Bridge] Failed to forward audio for session %s: %v", session.ID, err)
			}

		case "stop":
			log.Printf("[Bridge] Stream stopped for session %s", session.ID)
			return
		}
	}
}

// pumpRealtime consumes the AI socket and forwards its events to the
// transport and the dispatcher. If the AI socket drops while the transport
// is still alive, the session is retained for a reconnect.
func (b *Bridge) pumpRealtime(session *CallSession, conn *websocket.Conn) {
	defer func() {
		if !session.DetachRealtime(conn) {
			return // a reconnect already swapped this socket out
		}
		log.Printf("[Bridge] Realtime socket closed for session %s", session.ID)
		if !session.TransportAlive() {
			b.registry.DeleteSession(session.ID)
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if session.RealtimeOpen() {
				log.Printf("[Bridge] Realtime read error for session %s: %v", session.ID, err)
			}
			return
		}

		var ev realtimeEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Printf("[Bridge] Failed to parse realtime event for session %s: %v", session.ID, err)
			continue
		}

		switch ev.Type {
		case "response.audio.delta":
			if ev.Delta == "" {
				continue
			}
			err := session.WriteTransport(outboundMedia{
				Event:     "media",
				StreamSid: session.StreamSID(),
				Media:     mediaPayload{Payload: ev.Delta},
			})
			if err != nil && !errors.Is(err, errTransportClosed) {
				log.Printf("[Bridge] Failed to forward audio delta for session %s: %v", session.ID, err)
			}

		case "response.function_call_arguments.done":
			b.dispatch.Dispatch(session, ev)

		case "conversation.item.input_audio_transcription.completed":
			if ev.Transcript != "" {
				session.AppendTranscript("user", ev.Transcript)
			}

		case "response.audio_transcript.done":
			if ev.Transcript != "" {
				session.AppendTranscript("assistant", ev.Transcript)
			}
		}
	}
}

// superviseTransport pings the telephony socket on a fixed interval. A
// missed pong marks the transport dead and forces full teardown.
func (b *Bridge) superviseTransport(session *CallSession, conn *websocket.Conn) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-session.Done():
			return
		case <-ticker.C:
			if !session.TransportAlive() {
				log.Printf("[Bridge] Transport missed pong for session %s, tearing down", session.ID)
				b.teardown(session)
				return
			}
			session.MarkTransportAlive(false)
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Printf("[Bridge] Transport ping failed for session %s, tearing down", session.ID)
				b.teardown(session)
				return
			}
		}
	}
}

// teardown runs when the transport is gone: the AI socket is closed and the
// session deleted, in that order. The converse never happens: an AI-socket
// drop with a live transport leaves the session in place.
func (b *Bridge) teardown(session *CallSession) {
	session.Close()
	b.registry.DeleteSession(session.ID)
}

// StartRealtimePump begins consuming a freshly attached AI socket. Used by
// the reconnect procedure.
func (b *Bridge) StartRealtimePump(session *CallSession, conn *websocket.Conn) {
	go b.pumpRealtime(session, conn)
}
