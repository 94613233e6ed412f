package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	scripts, err := LoadScripts(context.Background(), NewDocPromptStore(), cfg)
	if err != nil {
		log.Fatalf("Failed to fetch instruction scripts: %v", err)
	}

	registry := NewSessionRegistry()
	carrier := NewTwilioCarrierLookup(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	backend := NewBackendClient(cfg.BackendBaseURL)
	dialer := &OpenAIRealtimeDialer{APIKey: cfg.OpenAIAPIKey, Model: cfg.RealtimeModel}

	orch := NewOrchestrator(cfg, backend, scripts)
	resilience := NewResilienceManager(cfg, registry, dialer, orch)
	dispatcher := NewDispatcher(cfg, orch, backend, resilience)
	bridge := NewBridge(cfg, registry, orch, dispatcher, dialer, backend)
	resilience.SetPump(bridge.StartRealtimePump)

	intake := NewIntake(cfg, registry, carrier)
	operator := NewOperatorHub(registry, orch, resilience)
	server := NewServer(cfg, registry, intake, bridge, operator)

	stopSweep := make(chan struct{})
	resilience.StartSweeper(stopSweep)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %v, starting graceful shutdown...", sig)

	close(stopSweep)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	log.Println("Server shut down gracefully")
}
