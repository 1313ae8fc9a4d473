package session

// Client message types.
const (
	MsgInit         = "init"
	MsgAudio        = "audio"
	MsgReset        = "reset"
	MsgTranscript   = "transcript"
	MsgInterruption = "interruption"
	MsgError        = "error"
	MsgReady        = "ready"
)

// Transcript roles.
const (
	RoleAgent = "agent"
	RoleUser  = "user"
)

// ClientMessage is a message received from the telephony client.
type ClientMessage struct {
	Type  string `json:"type"`
	UUID  string `json:"uuid,omitempty"`
	Audio string `json:"audio,omitempty"`
}

// ServerMessage is a message sent to the telephony client. Audio always
// carries exactly one 20 ms frame.
type ServerMessage struct {
	Type    string `json:"type"`
	Audio   string `json:"audio,omitempty"`
	Role    string `json:"role,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

func audioMessage(b64 string) ServerMessage {
	return ServerMessage{Type: MsgAudio, Audio: b64}
}

func transcriptMessage(role, text string) ServerMessage {
	return ServerMessage{Type: MsgTranscript, Role: role, Text: text}
}

func interruptionMessage() ServerMessage {
	return ServerMessage{Type: MsgInterruption}
}

func errorMessage(msg string) ServerMessage {
	return ServerMessage{Type: MsgError, Message: msg}
}

func readyMessage(msg string) ServerMessage {
	return ServerMessage{Type: MsgReady, Message: msg}
}
