package main

import (
	"context"
	"fmt"
	"log"
)

// Scripts are the long-form instruction texts pushed to the AI socket,
// fetched from the document store at startup.
type Scripts struct {
	System    string // default script, pushed to callers who have not consented
	Consent   string // script for callers who already consented
	LiveAgent string // script for the live-agent persona after a transfer
}

// LoadScripts fetches all instruction documents.
func LoadScripts(ctx context.Context, store PromptStore, cfg *Config) (Scripts, error) {
	system, err := store.Fetch(ctx, cfg.SystemPromptDocID)
	if err != nil {
		return Scripts{}, fmt.Errorf("system script: %w", err)
	}
	consent, err := store.Fetch(ctx, cfg.ConsentPromptDocID)
	if err != nil {
		return Scripts{}, fmt.Errorf("consent script: %w", err)
	}
	liveAgent, err := store.Fetch(ctx, cfg.LiveAgentPromptDocID)
	if err != nil {
		return Scripts{}, fmt.Errorf("live agent script: %w", err)
	}
	return Scripts{System: system, Consent: consent, LiveAgent: liveAgent}, nil
}

// Orchestrator scripts the AI side of a call. Every (re)initialization is a
// two-phase push: a context reset plus one canned spoken line immediately,
// then the durable script after a settle delay so the full instruction text
// never races the in-flight turn detector.
type Orchestrator struct {
	cfg     *Config
	backend Backend
	scripts Scripts
}

func NewOrchestrator(cfg *Config, backend Backend, scripts Scripts) *Orchestrator {
	return &Orchestrator{cfg: cfg, backend: backend, scripts: scripts}
}

// ResetContext instructs the AI to discard all prior instructions, then
// pauses briefly so the reset lands before anything else is pushed.
func (o *Orchestrator) ResetContext(s *CallSession) error {
	temp := 1.0
	frame := sessionUpdate{
		Type: "session.update",
		Session: realtimeSession{
			TurnDetection:           &turnDetection{Type: "server_vad"},
			InputAudioFormat:        "g711_ulaw",
			OutputAudioFormat:       "g711_ulaw",
			Model:                   o.cfg.RealtimeModel,
			MaxResponseOutputTokens: "inf",
			Voice:                   o.cfg.Voice,
			Instructions:            resetInstructions,
			Temperature:             &temp,
			InputAudioTranscription: &transcriptionConfig{Model: "whisper-1"},
			ToolChoice:              "auto",
		},
	}
	if err := s.WriteRealtime(frame); err != nil {
		return err
	}

	s.Wait(o.cfg.ResetPause)
	return nil
}

// SpeakLine injects one system-authored line and asks for a spoken response.
func (o *Orchestrator) SpeakLine(s *CallSession, text string) error {
	item := conversationItemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "system",
			Content: []itemContent{{Type: "input_text", Text: text}},
		},
	}
	if err := s.WriteRealtime(item); err != nil {
		return err
	}
	return s.WriteRealtime(responseCreate{
		Type:     "response.create",
		Response: responseParams{Modalities: []string{"audio", "text"}},
	})
}

// PushScript makes instructions the authoritative script for the session.
func (o *Orchestrator) PushScript(s *CallSession, instructions string) error {
	temp := 1.0
	frame := sessionUpdate{
		Type: "session.update",
		Session: realtimeSession{
			TurnDetection:           &turnDetection{Type: "server_vad"},
			InputAudioFormat:        "g711_ulaw",
			OutputAudioFormat:       "g711_ulaw",
			Voice:                   o.cfg.Voice,
			Instructions:            fmt.Sprintf("<prompt> %s </prompt>", instructions),
			Temperature:             &temp,
			InputAudioTranscription: &transcriptionConfig{Model: "whisper-1"},
			ToolChoice:              "auto",
		},
	}
	return s.WriteRealtime(frame)
}

// PushTools registers the tool definitions on the session.
func (o *Orchestrator) PushTools(s *CallSession) error {
	frame := sessionUpdate{
		Type: "session.update",
		Session: realtimeSession{
			Tools:      liveAgentTools(),
			ToolChoice: "auto",
		},
	}
	return s.WriteRealtime(frame)
}

// settleAndPush waits out the settle delay, then pushes tools and, when
// instructions is non-empty, the durable script. Aborts silently if the
// session was torn down or the AI socket dropped while waiting.
func (o *Orchestrator) settleAndPush(s *CallSession, instructions string) {
	if !s.Wait(o.cfg.SettleDelay) {
		return
	}
	if !s.RealtimeOpen() {
		return
	}
	if err := o.PushTools(s); err != nil {
		log.Printf("[Orchestrator] Failed to push tools for session %s: %v", s.ID, err)
		return
	}
	if instructions == "" {
		return
	}
	if err := o.PushScript(s, instructions); err != nil {
		log.Printf("[Orchestrator] Failed to push script for session %s: %v", s.ID, err)
	}
}

// Initialize scripts a freshly attached AI socket: profile lookup, context
// reset, then the branch-appropriate canned line and durable script.
func (o *Orchestrator) Initialize(ctx context.Context, s *CallSession) error {
	profile, err := o.backend.LookupProfile(ctx, s.PhoneNumber)
	if err != nil {
		log.Printf("[Orchestrator] Profile lookup failed for session %s: %v", s.ID, err)
		o.speakError(s, "There was an error connecting to the service. Please try again.")
		return err
	}

	if err := o.ResetContext(s); err != nil {
		return err
	}

	switch {
	case profile.HasConsented && !profile.IsLoggedIn:
		log.Printf("[Orchestrator] Session %s: caller has consented", s.ID)
		if err := o.SpeakLine(s, `Tell the user "Hello! Thank you for your previous consent. How can I help you today?"`); err != nil {
			return err
		}
		o.settleAndPush(s, o.scripts.Consent)

	case profile.IsLoggedIn:
		log.Printf("[Orchestrator] Session %s: caller is logged in", s.ID)
		if err := o.SpeakLine(s, `Tell the user "Please hold a second logging you in."`); err != nil {
			return err
		}
		if err := o.backend.Login(ctx, profile.PhoneNumber, profile.Email, profile.Password); err != nil {
			log.Printf("[Orchestrator] Login failed for session %s: %v", s.ID, err)
			o.speakError(s, "There was an error connecting to the service. Please try again.")
			return err
		}
		// Tools are still registered even though this branch has no script.
		o.settleAndPush(s, "")

	default:
		log.Printf("[Orchestrator] Session %s: requesting consent", s.ID)
		if err := o.SpeakLine(s, `Tell the user "Hello! This is the voice bot. To proceed, please provide your consent by clicking the link sent to you in the message"`); err != nil {
			return err
		}
		o.settleAndPush(s, o.scripts.System)
	}

	return nil
}

// TransferToLiveAgent re-orients the session to the live-agent persona.
// Called by the dispatcher after the grace period and the function-result
// acknowledgment.
func (o *Orchestrator) TransferToLiveAgent(s *CallSession) error {
	if err := o.ResetContext(s); err != nil {
		return err
	}
	if err := o.SpeakLine(s, "Tell the user Hi, This is the human agent experience. For now, this is only a demo, and the full version will include live agent support."); err != nil {
		return err
	}
	o.settleAndPush(s, o.scripts.LiveAgent)
	return nil
}

// OnUserLogin rescripts a session after an out-of-band login event.
func (o *Orchestrator) OnUserLogin(s *CallSession, userName string) error {
	if userName == "" {
		userName = "User"
	}
	if err := o.ResetContext(s); err != nil {
		return err
	}
	if err := o.SpeakLine(s, fmt.Sprintf(`Tell the user this "Hello %s how can i help you"`, userName)); err != nil {
		return err
	}
	o.settleAndPush(s, o.scripts.Consent)
	return nil
}

// OnUserConsent rescripts a session after the caller grants consent.
func (o *Orchestrator) OnUserConsent(s *CallSession) error {
	if err := o.ResetContext(s); err != nil {
		return err
	}
	if err := o.SpeakLine(s, `Tell the user "Thank you for providing consent. How can I help you today?"`); err != nil {
		return err
	}
	o.settleAndPush(s, o.scripts.Consent)
	return nil
}

// OnUserSendSMS acknowledges that the caller's texted details were stored.
func (o *Orchestrator) OnUserSendSMS(s *CallSession) error {
	if err := o.ResetContext(s); err != nil {
		return err
	}
	return o.SpeakLine(s, `Tell the user "We stored your information. Our team will contact you soon. How else can I help you?"`)
}

// speakError surfaces an upstream failure to the caller as a spoken line.
func (o *Orchestrator) speakError(s *CallSession, message string) {
	if err := o.PushScript(s, message); err != nil {
		log.Printf("[Orchestrator] Failed to push error script for session %s: %v", s.ID, err)
		return
	}
	if err := o.SpeakLine(s, fmt.Sprintf(`Tell the user: "%s"`, message)); err != nil {
		log.Printf("[Orchestrator] Failed to speak error for session %s: %v", s.ID, err)
	}
}
