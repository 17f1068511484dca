package protocol

import (
	"encoding/json"
	"fmt"
)

// Realtime event types the bridge reacts to or emits. The model peer speaks a
// larger protocol; unlisted event types are mirrored to the monitor untouched.
const (
	RealtimeSessionUpdate          = "session.update"
	RealtimeSessionCreated         = "session.created"
	RealtimeInputAudioAppend       = "input_audio_buffer.append"
	RealtimeInputAudioCommit       = "input_audio_buffer.commit"
	RealtimeInputAudioClear        = "input_audio_buffer.clear"
	RealtimeSpeechStarted          = "input_audio_buffer.speech_started"
	RealtimeSpeechStopped          = "input_audio_buffer.speech_stopped"
	RealtimeItemCreate             = "conversation.item.create"
	RealtimeItemTruncate           = "conversation.item.truncate"
	RealtimeResponseCreate         = "response.create"
	RealtimeResponseAudioDelta     = "response.audio.delta"
	RealtimeResponseOutputItemDone = "response.output_item.done"
	RealtimeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	RealtimeError                  = "error"
)

// RealtimeEvent is the superset envelope for events received from the model
// peer. Only the fields relevant to a given type are populated.
type RealtimeEvent struct {
	Type         string                `json:"type"`
	EventID      string                `json:"event_id,omitempty"`
	ItemID       string                `json:"item_id,omitempty"`
	Delta        string                `json:"delta,omitempty"`
	Transcript   string                `json:"transcript,omitempty"`
	AudioStartMS int64                 `json:"audio_start_ms,omitempty"`
	Item         *RealtimeItem         `json:"item,omitempty"`
	Error        *RealtimeErrorPayload `json:"error,omitempty"`
}

// RealtimeItem is a conversation item in either direction: assistant
// messages, function calls and their outputs.
type RealtimeItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type,omitempty"`
	Role      string        `json:"role,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
	Content   []ItemContent `json:"content,omitempty"`
}

type ItemContent struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type RealtimeErrorPayload struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseRealtimeEvent decodes one event from the model peer.
func ParseRealtimeEvent(raw []byte) (RealtimeEvent, error) {
	var ev RealtimeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return RealtimeEvent{}, fmt.Errorf("invalid realtime event: %w", err)
	}
	if ev.Type == "" {
		return RealtimeEvent{}, fmt.Errorf("realtime event missing type")
	}
	return ev, nil
}

// SessionConfig is the session object of a session.update instruction. It is
// also the shape of the base64 configuration blob accepted on /call and of
// the session object operators push over the monitor connection.
type SessionConfig struct {
	Modalities              []string            `json:"modalities,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string              `json:"output_audio_format,omitempty"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
	Tools                   []Tool              `json:"tools,omitempty"`
	ToolChoice              string              `json:"tool_choice,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
	MaxResponseOutputTokens any                 `json:"max_response_output_tokens,omitempty"`
}

type AudioTranscription struct {
	Model string `json:"model"`
}

// TurnDetection holds the server-side VAD configuration.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

// Tool describes one function exposed to the model.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Client → model instructions.

type SessionUpdateMsg struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

func NewSessionUpdate(session SessionConfig) SessionUpdateMsg {
	return SessionUpdateMsg{Type: RealtimeSessionUpdate, Session: session}
}

type AudioAppendMsg struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func NewAudioAppend(audioBase64 string) AudioAppendMsg {
	return AudioAppendMsg{Type: RealtimeInputAudioAppend, Audio: audioBase64}
}

type ItemTruncateMsg struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

func NewItemTruncate(itemID string, audioEndMS int64) ItemTruncateMsg {
	return ItemTruncateMsg{Type: RealtimeItemTruncate, ItemID: itemID, AudioEndMS: audioEndMS}
}

type ItemCreateMsg struct {
	Type string       `json:"type"`
	Item RealtimeItem `json:"item"`
}

func NewFunctionCallOutput(callID, output string) ItemCreateMsg {
	return ItemCreateMsg{
		Type: RealtimeItemCreate,
		Item: RealtimeItem{Type: "function_call_output", CallID: callID, Output: output},
	}
}

type ResponseCreateMsg struct {
	Type string `json:"type"`
}

func NewResponseCreate() ResponseCreateMsg {
	return ResponseCreateMsg{Type: RealtimeResponseCreate}
}
