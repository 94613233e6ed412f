package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testConfig() *Config {
	return &Config{
		Port:          0,
		OpenAIAPIKey:  "test-key",
		RealtimeModel: "test-realtime-model",
		Voice:         "alloy",
		SettleDelay:   10 * time.Millisecond,
		ResetPause:    5 * time.Millisecond,
		TransferGrace: 20 * time.Millisecond,
		PingInterval:  50 * time.Millisecond,
		SweepInterval: time.Hour,
		PendingTTL:    2 * time.Hour,
	}
}

// fakeAIServer stands in for the AI realtime endpoint: it accepts socket
// upgrades and records every JSON frame it receives.
type fakeAIServer struct {
	srv    *httptest.Server
	frames chan map[string]any
	conns  chan *websocket.Conn
}

func newFakeAIServer(t *testing.T) *fakeAIServer {
	t.Helper()
	f := &fakeAIServer{
		frames: make(chan map[string]any, 128),
		conns:  make(chan *websocket.Conn, 8),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		for {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			f.frames <- frame
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAIServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// serverConn returns the server side of the most recent dial.
func (f *fakeAIServer) serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for realtime dial")
		return nil
	}
}

// nextFrame returns the next recorded frame, failing the test on timeout.
func (f *fakeAIServer) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case frame := <-f.frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for realtime frame")
		return nil
	}
}

// noFrame asserts that nothing arrives within d.
func (f *fakeAIServer) noFrame(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case frame := <-f.frames:
		t.Fatalf("unexpected realtime frame: %v", frame)
	case <-time.After(d):
	}
}

type fakeDialer struct {
	url string

	mu    sync.Mutex
	fail  bool
	dials int
}

func (d *fakeDialer) Dial() (*websocket.Conn, error) {
	d.mu.Lock()
	d.dials++
	fail := d.fail
	d.mu.Unlock()
	if fail {
		return nil, errors.New("dial refused")
	}
	conn, _, err := websocket.DefaultDialer.Dial(d.url, nil)
	return conn, err
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeCarrier struct {
	landlines map[string]bool
	err       error
}

func (c *fakeCarrier) IsLandline(ctx context.Context, phoneNumber string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.landlines[phoneNumber], nil
}

type fakeBackend struct {
	mu sync.Mutex

	profiles  map[string]*Profile
	lookupErr error

	loginErr       error
	replacementErr error
	sendMessageErr error

	logins       []string
	messages     []string
	replacements []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{profiles: make(map[string]*Profile)}
}

func (b *fakeBackend) LookupProfile(ctx context.Context, phoneNumber string) (*Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lookupErr != nil {
		return nil, b.lookupErr
	}
	if p, ok := b.profiles[phoneNumber]; ok {
		return p, nil
	}
	return &Profile{PhoneNumber: phoneNumber}, nil
}

func (b *fakeBackend) Login(ctx context.Context, phoneNumber, email, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logins = append(b.logins, phoneNumber)
	return b.loginErr
}

func (b *fakeBackend) SendMessage(ctx context.Context, phoneNumber string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, phoneNumber)
	return b.sendMessageErr
}

func (b *fakeBackend) RequestReplacementInfo(ctx context.Context, phoneNumber string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replacements = append(b.replacements, phoneNumber)
	return b.replacementErr
}

func (b *fakeBackend) replacementCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.replacements...)
}

func (b *fakeBackend) loginCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.logins...)
}

type fakeReconnector struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeReconnector) Reconnect(s *CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *fakeReconnector) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// newAttachedSession creates a confirmed session whose AI socket is wired to
// the fake realtime server.
func newAttachedSession(t *testing.T, ai *fakeAIServer, phoneNumber string) *CallSession {
	t.Helper()
	s := NewCallSession(phoneNumber, phoneNumber)
	conn, err := (&fakeDialer{url: ai.wsURL()}).Dial()
	if err != nil {
		t.Fatalf("dial fake realtime server: %v", err)
	}
	s.AttachRealtime(conn)
	t.Cleanup(s.Close)
	return s
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func frameType(frame map[string]any) string {
	typ, _ := frame["type"].(string)
	return typ
}

func sessionField(frame map[string]any, key string) any {
	session, _ := frame["session"].(map[string]any)
	return session[key]
}
