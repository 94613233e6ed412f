package main

import (
	"log"
	"net/http"
	"strconv"

	"github.com/twilio/twilio-go/twiml"
)

// InputMode selects what a Gather collects.
type InputMode string

const (
	InputDigits InputMode = "dtmf"
	InputSpeech InputMode = "speech"
)

const defaultGatherDigits = 15

// Directive is one structured voice response: what to say and what input to
// collect next. It is rendered to call-control markup exactly once, at the
// webhook boundary.
type Directive struct {
	Say       string
	Gather    bool
	Input     InputMode
	Action    string
	NumDigits int
	StreamURL string // when set, the call is connected to the media stream
}

// promptDirective says a message and gathers the caller's next input.
func promptDirective(message, action string, input InputMode) Directive {
	d := Directive{Say: message, Gather: true, Input: input, Action: action}
	if input == InputDigits {
		d.NumDigits = defaultGatherDigits
	}
	return d
}

// terminalDirective says a message and ends the interaction; the caller must
// redial.
func terminalDirective(message string) Directive {
	return Directive{Say: message}
}

// connectDirective says a greeting and bridges the call into the session's
// media stream.
func connectDirective(message, streamURL string) Directive {
	return Directive{Say: message, StreamURL: streamURL}
}

// TwiML renders the directive as voice markup.
func (d Directive) TwiML() (string, error) {
	var verbs []twiml.Element

	if d.Say != "" {
		verbs = append(verbs, &twiml.VoiceSay{Message: d.Say})
	}

	if d.Gather {
		gather := &twiml.VoiceGather{
			Input:  string(d.Input),
			Action: d.Action,
			Method: "POST",
		}
		if d.NumDigits > 0 {
			gather.NumDigits = strconv.Itoa(d.NumDigits)
		}
		verbs = append(verbs, gather)
	}

	if d.StreamURL != "" {
		verbs = append(verbs, &twiml.VoiceConnect{
			InnerElements: []twiml.Element{
				&twiml.VoiceStream{Url: d.StreamURL},
			},
		})
	}

	return twiml.Voice(verbs)
}

// writeDirective serializes a directive onto a webhook response.
func writeDirective(w http.ResponseWriter, d Directive) {
	markup, err := d.TwiML()
	if err != nil {
		log.Printf("[Intake] Failed to render directive: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(markup))
}
