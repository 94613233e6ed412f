package main

import (
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var validNumber = regexp.MustCompile(`^[0-9]{10,}$`)

const connectGreeting = "Thank you. Connecting you to the assistant now."

// formatPhoneNumber normalizes a dialed number to +digits form.
func formatPhoneNumber(raw string) string {
	return "+" + nonDigits.ReplaceAllString(raw, "")
}

// Intake drives the IVR flow that turns an inbound call into a confirmed
// session: landline detection, mobile-number entry and spoken confirmation.
type Intake struct {
	cfg      *Config
	registry *SessionRegistry
	carrier  CarrierLookup
}

func NewIntake(cfg *Config, registry *SessionRegistry, carrier CarrierLookup) *Intake {
	return &Intake{cfg: cfg, registry: registry, carrier: carrier}
}

// HandleIncomingCall answers the initial webhook. Mobile callers are
// confirmed immediately and bridged; landline callers enter number entry.
func (i *Intake) HandleIncomingCall(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	caller := formatPhoneNumber(r.FormValue("From"))
	id := Fingerprint(caller)

	log.Printf("[Intake] New call from %s", caller)

	landline, err := i.carrier.IsLandline(r.Context(), caller)
	if err != nil {
		// Indeterminate carrier type: treat the caller as mobile rather
		// than trapping them in the IVR.
		log.Printf("[Intake] Carrier lookup failed for %s: %v", caller, err)
		landline = false
	}

	if landline {
		i.registry.PutPending(id, &PendingVerification{
			CallerNumber: caller,
			CreatedAt:    time.Now(),
		})
		writeDirective(w, promptDirective(
			"Please type your mobile number using your phone's keypad, followed by the pound key.",
			"/validate-number", InputDigits))
		return
	}

	session := NewCallSession(caller, caller)
	i.registry.PutSession(session)
	writeDirective(w, connectDirective(connectGreeting, i.streamURL(r, session.ID)))
}

// HandleValidateNumber processes the keyed-in candidate number.
func (i *Intake) HandleValidateNumber(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	caller := formatPhoneNumber(r.FormValue("From"))
	id := Fingerprint(caller)

	pending, ok := i.registry.Pending(id)
	if !ok {
		writeDirective(w, terminalDirective("An error occurred. Please call back."))
		return
	}

	attempts := pending.RecordAttempt()

	if i.cfg.MaxEntryAttempts > 0 && attempts > i.cfg.MaxEntryAttempts {
		log.Printf("[Intake] Caller %s exceeded %d entry attempts", caller, i.cfg.MaxEntryAttempts)
		i.registry.DeletePending(id)
		writeDirective(w, terminalDirective("Too many attempts. Please call back to try again."))
		return
	}

	digits := nonDigits.ReplaceAllString(r.FormValue("Digits"), "")
	if !validNumber.MatchString(digits) {
		writeDirective(w, promptDirective(
			"The number you entered isn't valid. Please try again.",
			"/validate-number", InputDigits))
		return
	}

	landline, err := i.carrier.IsLandline(r.Context(), "+"+digits)
	if err != nil {
		log.Printf("[Intake] Carrier lookup failed for candidate %s: %v", digits, err)
		writeDirective(w, promptDirective(
			"An error occurred. Please try again.",
			"/validate-number", InputDigits))
		return
	}
	if landline {
		writeDirective(w, promptDirective(
			"Please provide a mobile number, not a landline.",
			"/validate-number", InputDigits))
		return
	}

	pending.SetCandidate("+" + digits)

	readback := strings.Join(strings.Split(digits, ""), ", ")
	writeDirective(w, promptDirective(
		"You entered, "+readback+". Is that correct? Say yes or no.",
		"/confirm-number", InputSpeech))
}

// HandleConfirmNumber matches the caller's spoken confirmation. "yes"
// promotes the candidate to a confirmed session; "no" restarts entry;
// anything else re-prompts.
func (i *Intake) HandleConfirmNumber(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	caller := formatPhoneNumber(r.FormValue("From"))
	id := Fingerprint(caller)

	pending, ok := i.registry.Pending(id)
	if !ok {
		writeDirective(w, terminalDirective("An error occurred. Please call back."))
		return
	}
	candidate, validated := pending.Candidate()
	if !validated || candidate == "" {
		writeDirective(w, terminalDirective("An error occurred. Please call back."))
		return
	}

	confirmation := strings.ToLower(r.FormValue("SpeechResult"))

	switch {
	case strings.Contains(confirmation, "yes"):
		session := NewCallSession(pending.CallerNumber, candidate)
		i.registry.PutSession(session)
		i.registry.DeletePending(id)
		log.Printf("[Intake] Session %s confirmed for %s", session.ID, candidate)
		writeDirective(w, connectDirective(connectGreeting, i.streamURL(r, session.ID)))

	case strings.Contains(confirmation, "no"):
		writeDirective(w, promptDirective(
			"Please enter your number again.",
			"/validate-number", InputDigits))

	default:
		writeDirective(w, promptDirective(
			"I didn't understand. Please say yes or no.",
			"/confirm-number", InputSpeech))
	}
}

// streamURL builds the session-scoped media-stream address.
func (i *Intake) streamURL(r *http.Request, sessionID string) string {
	base := i.cfg.PublicBaseURL
	if base == "" {
		base = "https://" + r.Host
	}
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return strings.TrimRight(base, "/") + "/media-stream/" + url.PathEscape(sessionID)
}
