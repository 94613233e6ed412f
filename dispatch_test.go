package main

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDispatchTransferAcksAfterGrace(t *testing.T) {
	ai := newFakeAIServer(t)
	cfg := testConfig()
	orch := NewOrchestrator(cfg, newFakeBackend(), Scripts{LiveAgent: "LIVE AGENT SCRIPT"})
	d := NewDispatcher(cfg, orch, newFakeBackend(), &fakeReconnector{})
	s := newAttachedSession(t, ai, "+15550001111")

	start := time.Now()
	d.Dispatch(s, realtimeEvent{
		Type:      "response.function_call_arguments.done",
		Name:      "transfer_to_live_agent",
		CallID:    "call_1",
		Arguments: "{}",
	})

	ack := ai.nextFrame(t)
	if elapsed := time.Since(start); elapsed < cfg.TransferGrace {
		t.Errorf("ack arrived after %v, before the %v grace period", elapsed, cfg.TransferGrace)
	}
	item, _ := ack["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call_1" {
		t.Fatalf("ack item = %v", item)
	}

	reset := ai.nextFrame(t)
	if sessionField(reset, "instructions") != resetInstructions {
		t.Fatal("transfer must reset context after the ack")
	}
	line := ai.nextFrame(t)
	if !strings.Contains(itemText(line), "human agent") {
		t.Errorf("handoff line = %q", itemText(line))
	}
	ai.nextFrame(t) // response.create
	ai.nextFrame(t) // tools
	script := ai.nextFrame(t)
	instructions, _ := sessionField(script, "instructions").(string)
	if !strings.Contains(instructions, "LIVE AGENT SCRIPT") {
		t.Errorf("durable script = %q", instructions)
	}
}

func TestDispatchTransferAbortsIfSessionEnds(t *testing.T) {
	ai := newFakeAIServer(t)
	cfg := testConfig()
	cfg.TransferGrace = 100 * time.Millisecond
	orch := NewOrchestrator(cfg, newFakeBackend(), Scripts{})
	d := NewDispatcher(cfg, orch, newFakeBackend(), &fakeReconnector{})
	s := newAttachedSession(t, ai, "+15550001111")

	d.Dispatch(s, realtimeEvent{Name: "transfer_to_live_agent", CallID: "call_1"})
	time.Sleep(10 * time.Millisecond)
	s.Close()

	ai.noFrame(t, 2*cfg.TransferGrace)
}

func TestDispatchReplaceSensor(t *testing.T) {
	ai := newFakeAIServer(t)
	cfg := testConfig()
	backend := newFakeBackend()
	orch := NewOrchestrator(cfg, backend, Scripts{})
	reconnect := &fakeReconnector{}
	d := NewDispatcher(cfg, orch, backend, reconnect)
	s := newAttachedSession(t, ai, "+15550001111")

	d.Dispatch(s, realtimeEvent{Name: "replace_sensor", CallID: "call_2", Arguments: "{}"})

	line := ai.nextFrame(t)
	if !strings.Contains(itemText(line), "text message") {
		t.Errorf("replacement line = %q", itemText(line))
	}
	ai.nextFrame(t) // response.create
	ack := ai.nextFrame(t)
	item, _ := ack["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call_2" {
		t.Fatalf("ack item = %v", item)
	}

	if got := backend.replacementCalls(); len(got) != 1 || got[0] != "+15550001111" {
		t.Errorf("replacement calls = %v", got)
	}
	if reconnect.callCount() != 0 {
		t.Error("successful dispatch must not reconnect")
	}
}

func TestDispatchReplaceSensorNotifyFailureReconnects(t *testing.T) {
	ai := newFakeAIServer(t)
	cfg := testConfig()
	backend := newFakeBackend()
	backend.replacementErr = errors.New("workflow down")
	orch := NewOrchestrator(cfg, backend, Scripts{})
	reconnect := &fakeReconnector{}
	d := NewDispatcher(cfg, orch, backend, reconnect)
	s := newAttachedSession(t, ai, "+15550001111")

	d.Dispatch(s, realtimeEvent{Name: "replace_sensor", CallID: "call_2"})

	eventually(t, time.Second, func() bool { return reconnect.callCount() == 1 },
		"notify failure should trigger a reconnect")
	ai.noFrame(t, 50*time.Millisecond)
}

func TestDispatchReplaceSensorClosedSocketReconnects(t *testing.T) {
	ai := newFakeAIServer(t)
	cfg := testConfig()
	backend := newFakeBackend()
	orch := NewOrchestrator(cfg, backend, Scripts{})
	reconnect := &fakeReconnector{}
	d := NewDispatcher(cfg, orch, backend, reconnect)
	s := newAttachedSession(t, ai, "+15550001111")

	s.mu.Lock()
	current := s.aiConn
	s.mu.Unlock()
	s.DetachRealtime(current)

	d.Dispatch(s, realtimeEvent{Name: "replace_sensor", CallID: "call_2"})

	eventually(t, time.Second, func() bool { return reconnect.callCount() == 1 },
		"closed socket should trigger a reconnect")
}

func TestDispatchUnknownToolIgnored(t *testing.T) {
	ai := newFakeAIServer(t)
	cfg := testConfig()
	d := NewDispatcher(cfg, NewOrchestrator(cfg, newFakeBackend(), Scripts{}), newFakeBackend(), &fakeReconnector{})
	s := newAttachedSession(t, ai, "+15550001111")

	d.Dispatch(s, realtimeEvent{Name: "open_pod_bay_doors", CallID: "call_3"})

	ai.noFrame(t, 50*time.Millisecond)
}
