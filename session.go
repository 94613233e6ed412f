package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var nonDigits = regexp.MustCompile(`\D`)

// Fingerprint derives the stable session id for a phone number. The same
// number always maps to the same id, which is how reconnects and operator
// events find their session.
func Fingerprint(phoneNumber string) string {
	clean := nonDigits.ReplaceAllString(phoneNumber, "")
	sum := sha256.Sum256([]byte(clean))
	return hex.EncodeToString(sum[:])
}

// PendingVerification tracks a caller mid-IVR, before their mobile number is
// confirmed. Keyed by the fingerprint of the number they dialed from. The
// registry hands the same pointer to every webhook for that caller, so the
// mutable fields are guarded.
type PendingVerification struct {
	CallerNumber string
	CreatedAt    time.Time

	mu              sync.Mutex
	candidateNumber string
	attempts        int
	validated       bool
}

// RecordAttempt bumps the entry-attempt counter and returns the new count.
func (p *PendingVerification) RecordAttempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	return p.attempts
}

// SetCandidate stores a carrier-checked candidate number and marks the entry
// validated, awaiting spoken confirmation.
func (p *PendingVerification) SetCandidate(number string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidateNumber = number
	p.validated = true
}

// Candidate returns the stored candidate number and whether the entry has
// passed validation yet.
func (p *PendingVerification) Candidate() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.candidateNumber, p.validated
}

// TranscriptEntry is one spoken turn captured during a call.
type TranscriptEntry struct {
	Speaker string // "user" or "assistant"
	Text    string
}

var errRealtimeClosed = errors.New("realtime socket not open")
var errTransportClosed = errors.New("telephony transport not open")

// CallSession is one confirmed caller. The registry owns its lifetime; the
// bridge swaps socket handles on it but never deletes it.
type CallSession struct {
	ID           string
	CallerNumber string
	PhoneNumber  string
	Validated    bool
	CreatedAt    time.Time

	mu             sync.Mutex
	streamSID      string
	transcript     []TranscriptEntry
	aiConn         *websocket.Conn
	aiOpen         bool
	transportConn  *websocket.Conn
	transportAlive bool
	lastActive     time.Time
	closed         bool
	done           chan struct{}
}

// NewCallSession creates a session for a validated phone number.
func NewCallSession(callerNumber, phoneNumber string) *CallSession {
	now := time.Now()
	return &CallSession{
		ID:           Fingerprint(phoneNumber),
		CallerNumber: callerNumber,
		PhoneNumber:  phoneNumber,
		Validated:    true,
		CreatedAt:    now,
		lastActive:   now,
		done:         make(chan struct{}),
	}
}

// AttachTransport installs the telephony media-stream socket.
func (s *CallSession) AttachTransport(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transportConn = conn
	s.transportAlive = true
	s.lastActive = time.Now()
}

// AttachRealtime swaps in an AI realtime socket, closing any previous one.
// Session id, transcript and stream correlation id are untouched. A socket
// attached after teardown is closed immediately so a reconnect racing
// teardown cannot resurrect the session.
func (s *CallSession) AttachRealtime(conn *websocket.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	prev := s.aiConn
	s.aiConn = conn
	s.aiOpen = conn != nil
	s.lastActive = time.Now()
	s.mu.Unlock()

	if prev != nil && prev != conn {
		prev.Close()
	}
}

// DetachRealtime marks the AI socket closed. Reports whether conn was still
// the session's current socket; a stale reader exiting after a reconnect
// swap must not flip state for the replacement.
func (s *CallSession) DetachRealtime(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aiConn != conn {
		return false
	}
	s.aiOpen = false
	return true
}

// RealtimeOpen reports whether an AI socket is currently attached and open.
func (s *CallSession) RealtimeOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aiOpen
}

// WriteRealtime sends one JSON control frame to the AI socket. Writes are
// serialized under the session lock so frames from the transport pump and
// the orchestrator never interleave.
func (s *CallSession) WriteRealtime(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.aiOpen || s.aiConn == nil {
		return errRealtimeClosed
	}
	s.lastActive = time.Now()
	return s.aiConn.WriteJSON(v)
}

// WriteTransport sends one JSON frame to the telephony socket.
func (s *CallSession) WriteTransport(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transportConn == nil || s.closed {
		return errTransportClosed
	}
	s.lastActive = time.Now()
	return s.transportConn.WriteJSON(v)
}

// SetStreamSID stores the correlation id from the transport's start event.
func (s *CallSession) SetStreamSID(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamSID = sid
}

// StreamSID returns the stored transport stream correlation id.
func (s *CallSession) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// MarkTransportAlive records the result of a liveness probe round.
func (s *CallSession) MarkTransportAlive(alive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transportAlive = alive
}

// TransportAlive reports whether the telephony socket answered its last probe.
func (s *CallSession) TransportAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transportAlive
}

// AppendTranscript records one spoken turn.
func (s *CallSession) AppendTranscript(speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, TranscriptEntry{Speaker: speaker, Text: text})
}

// Transcript returns a copy of the accumulated transcript.
func (s *CallSession) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Wait blocks for d or until the session is torn down. Reports false when
// the session ended first, so deferred actions can bail out instead of
// firing against a dead call.
func (s *CallSession) Wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.done:
		return false
	}
}

// Done is closed when the session is torn down.
func (s *CallSession) Done() <-chan struct{} {
	return s.done
}

// Close tears the session down: AI socket first, then the transport. Safe to
// call more than once.
func (s *CallSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	aiConn := s.aiConn
	transportConn := s.transportConn
	s.aiOpen = false
	s.transportAlive = false
	close(s.done)
	s.mu.Unlock()

	if aiConn != nil {
		aiConn.Close()
	}
	if transportConn != nil {
		transportConn.Close()
	}
}

// sweepEligible reports whether the sweep may remove a confirmed session:
// AI socket closed and transport not alive.
func (s *CallSession) sweepEligible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.aiOpen && !s.transportAlive
}

// SessionRegistry is the in-memory store of pending and confirmed call
// sessions, keyed by phone-number fingerprint. Entirely volatile.
type SessionRegistry struct {
	pending   sync.Map // fingerprint -> *PendingVerification
	confirmed sync.Map // fingerprint -> *CallSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{}
}

// PutPending upserts a mid-IVR entry.
func (r *SessionRegistry) PutPending(id string, p *PendingVerification) {
	r.pending.Store(id, p)
}

// Pending looks up a mid-IVR entry by fingerprint.
func (r *SessionRegistry) Pending(id string) (*PendingVerification, bool) {
	val, ok := r.pending.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*PendingVerification), true
}

// DeletePending removes a mid-IVR entry.
func (r *SessionRegistry) DeletePending(id string) {
	r.pending.Delete(id)
}

// PutSession upserts a confirmed session.
func (r *SessionRegistry) PutSession(s *CallSession) {
	r.confirmed.Store(s.ID, s)
}

// Session looks up a confirmed session by fingerprint.
func (r *SessionRegistry) Session(id string) (*CallSession, bool) {
	val, ok := r.confirmed.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*CallSession), true
}

// DeleteSession removes a confirmed session and tears it down.
func (r *SessionRegistry) DeleteSession(id string) {
	if val, ok := r.confirmed.LoadAndDelete(id); ok {
		val.(*CallSession).Close()
	}
}

// ActiveSessions counts confirmed sessions.
func (r *SessionRegistry) ActiveSessions() int {
	n := 0
	r.confirmed.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// PendingSessions counts mid-IVR entries.
func (r *SessionRegistry) PendingSessions() int {
	n := 0
	r.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep removes abandoned state: confirmed sessions whose AI socket is
// closed with no live transport, and pending entries older than maxPendingAge.
func (r *SessionRegistry) Sweep(now time.Time, maxPendingAge time.Duration) {
	r.confirmed.Range(func(key, value any) bool {
		session := value.(*CallSession)
		if session.sweepEligible() {
			log.Printf("[Registry] Sweeping abandoned session %s", session.ID)
			r.confirmed.Delete(key)
			session.Close()
		}
		return true
	})

	r.pending.Range(func(key, value any) bool {
		p := value.(*PendingVerification)
		if now.Sub(p.CreatedAt) > maxPendingAge {
			log.Printf("[Registry] Sweeping expired pending entry for %s", p.CallerNumber)
			r.pending.Delete(key)
		}
		return true
	})
}

// CloseAll tears down every confirmed session. Used on shutdown.
func (r *SessionRegistry) CloseAll() {
	r.confirmed.Range(func(key, value any) bool {
		value.(*CallSession).Close()
		r.confirmed.Delete(key)
		return true
	})
	r.pending.Range(func(key, _ any) bool {
		r.pending.Delete(key)
		return true
	})
}
