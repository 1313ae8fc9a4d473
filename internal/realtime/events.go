// Package realtime speaks the speech-to-speech backend's websocket protocol:
// the outbound client events the gateway issues and the subset of server
// events it reacts to.
package realtime

import "encoding/json"

// Client event types sent to the backend.
const (
	EventSessionUpdate          = "session.update"
	EventInputAudioBufferAppend = "input_audio_buffer.append"
	EventResponseCreate         = "response.create"
)

// Server event types received from the backend.
const (
	EventSessionCreated                = "session.created"
	EventSessionUpdated                = "session.updated"
	EventResponseAudioDelta            = "response.audio.delta"
	EventResponseAudioDone             = "response.audio.done"
	EventResponseDone                  = "response.done"
	EventFunctionCallArgumentsDone     = "response.function_call_arguments.done"
	EventResponseAudioTranscriptDone   = "response.audio_transcript.done"
	EventInputAudioTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	EventSpeechStarted                 = "input_audio_buffer.speech_started"
	EventError                         = "error"
)

// AudioFormatPCM16 is the only audio format the gateway negotiates.
const AudioFormatPCM16 = "pcm16"

// SessionUpdate configures the backend session.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the body of a session.update event.
type SessionConfig struct {
	Modalities              []string            `json:"modalities,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string              `json:"output_audio_format,omitempty"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
	Tools                   []Tool              `json:"tools"`
	ToolChoice              string              `json:"tool_choice,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
	MaxResponseOutputTokens MaxTokens           `json:"max_response_output_tokens"`
}

// AudioTranscription selects the model used to transcribe caller audio.
type AudioTranscription struct {
	Model string `json:"model"`
}

// TurnDetection configures backend-side voice activity detection.
type TurnDetection struct {
	Type string `json:"type"`
}

// Tool is a function tool as announced in session.update.
type Tool struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// MaxTokens encodes a token limit; zero means "inf".
type MaxTokens int

func (m MaxTokens) MarshalJSON() ([]byte, error) {
	if m <= 0 {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(int(m))
}

// InputAudioBufferAppend streams caller audio to the backend.
type InputAudioBufferAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM16LE
}

// ResponseCreate asks the backend to produce a response.
type ResponseCreate struct {
	Type     string         `json:"type"`
	Response ResponseParams `json:"response"`
}

// ResponseParams carries per-response overrides.
type ResponseParams struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// NewSessionUpdate wraps cfg in a session.update event.
func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{Type: EventSessionUpdate, Session: cfg}
}

// NewAudioAppend wraps base64 audio in an input_audio_buffer.append event.
func NewAudioAppend(b64 string) InputAudioBufferAppend {
	return InputAudioBufferAppend{Type: EventInputAudioBufferAppend, Audio: b64}
}

// NewResponseCreate builds a response.create event carrying instructions.
func NewResponseCreate(instructions string) ResponseCreate {
	return ResponseCreate{
		Type: EventResponseCreate,
		Response: ResponseParams{
			Modalities:   []string{"audio", "text"},
			Instructions: instructions,
		},
	}
}

// ServerEvent is a decoded backend message. Only the fields used by the
// gateway are mapped; Raw keeps the original payload for diagnostics.
type ServerEvent struct {
	Type       string       `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	ResponseID string       `json:"response_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Name       string       `json:"name,omitempty"`
	CallID     string       `json:"call_id,omitempty"`
	Arguments  string       `json:"arguments,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ErrorDetail is the payload of an error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// ParseServerEvent decodes a backend message.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return &ev, nil
}
