package main

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

const realtimeBaseURL = "wss://api.openai.com/v1/realtime"

// resetInstructions is the delimited context-reset script. The durable
// instruction text is always wrapped in the same <prompt> markers so the
// model treats it as the one authoritative script.
const resetInstructions = "Forget everything in the past that the user or assistant or system, " +
	"your new prompt will start after i tell you, your new prompt starts from this sign <prompt> " +
	"and ends with this sign </prompt> so act accordingly."

// RealtimeDialer opens AI realtime sockets.
type RealtimeDialer interface {
	Dial() (*websocket.Conn, error)
}

// OpenAIRealtimeDialer dials the OpenAI realtime endpoint.
type OpenAIRealtimeDialer struct {
	APIKey string
	Model  string
}

func (d *OpenAIRealtimeDialer) Dial() (*websocket.Conn, error) {
	url := fmt.Sprintf("%s?model=%s", realtimeBaseURL, d.Model)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.Dial(url, headers)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}
	return conn, nil
}

// Outbound control frames.

type sessionUpdate struct {
	Type    string          `json:"type"`
	Session realtimeSession `json:"session"`
}

type realtimeSession struct {
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	Model                   string               `json:"model,omitempty"`
	MaxResponseOutputTokens string               `json:"max_response_output_tokens,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Temperature             *float64             `json:"temperature,omitempty"`
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription,omitempty"`
	Tools                   []realtimeTool       `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type realtimeTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  toolParameters `json:"parameters"`
}

type toolParameters struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

type conversationItemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
	Content []itemContent `json:"content,omitempty"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreate struct {
	Type     string         `json:"type"`
	Response responseParams `json:"response"`
}

type responseParams struct {
	Modalities []string `json:"modalities"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// Inbound event frame, parsed generically; only the fields the bridge and
// dispatcher care about.
type realtimeEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Name       string `json:"name,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// liveAgentTools are the two functions the model may invoke mid-call.
func liveAgentTools() []realtimeTool {
	return []realtimeTool{
		{
			Type:        "function",
			Name:        "transfer_to_live_agent",
			Description: "Transfer the customer to a human agent for further assistance.",
			Parameters: toolParameters{
				Type:       "object",
				Properties: map[string]any{},
				Required:   []string{},
			},
		},
		{
			Type:        "function",
			Name:        "replace_sensor",
			Description: "when the user asks for a sensor replacement we send him a message to get his data and proceed with sending the sensor.",
			Parameters: toolParameters{
				Type:       "object",
				Properties: map[string]any{},
				Required:   []string{},
			},
		},
	}
}
