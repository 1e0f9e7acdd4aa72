// Package realtime implements WebSocket voice sessions against the OpenAI
// Realtime and Gemini Live APIs, normalizing both wire protocols into one
// event vocabulary. Sessions are independent of the chat client and take
// their API key directly.
package realtime

import (
	"context"
	"time"

	schemas "github.com/keyloom/keyloom/schemas"
)

// SessionState is the connection lifecycle state.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateError        SessionState = "error"
)

// TurnDetection configures server-side voice activity detection. A nil
// TurnDetection on the session config enables the vendor default; Disabled
// turns it off entirely.
type TurnDetection struct {
	Disabled          bool    `json:"disabled,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionConfig is the vendor-neutral session setup, translated into each
// vendor's configuration schema on connect.
type SessionConfig struct {
	Model        string `json:"model,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions,omitempty"`

	Temperature       *float64 `json:"temperature,omitempty"`
	MaxResponseTokens int      `json:"max_response_tokens,omitempty"`

	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`

	Tools []schemas.ToolDefinition `json:"tools,omitempty"`
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	State             SessionState `json:"state"`
	SessionID         string       `json:"session_id,omitempty"`
	ConnectedAt       time.Time    `json:"connected_at,omitzero"`
	ReconnectAttempts int          `json:"reconnect_attempts,omitempty"`
	Error             string       `json:"error,omitempty"`
}

// EventType names the unified session events both vendors are mapped to.
type EventType string

const (
	// EventSessionConnected fires once the vendor confirms the session.
	EventSessionConnected EventType = "session:connected"
	// EventSessionDisconnected fires when the socket closes.
	EventSessionDisconnected EventType = "session:disconnected"
	// EventSessionError carries vendor and transport errors. The socket
	// stays open unless a disconnect event follows.
	EventSessionError EventType = "session:error"

	// EventAudioInputStarted and EventAudioInputEnded bracket detected
	// speech in the input stream (server VAD).
	EventAudioInputStarted EventType = "audio:input_started"
	EventAudioInputEnded   EventType = "audio:input_ended"

	// EventTranscriptDelta and EventTranscriptDone carry incremental and
	// final transcripts. Role distinguishes user speech from the model's
	// spoken output.
	EventTranscriptDelta EventType = "transcript:delta"
	EventTranscriptDone  EventType = "transcript:done"

	// Response events follow one model turn.
	EventResponseStarted    EventType = "response:started"
	EventResponseAudioDelta EventType = "response:audio_delta"
	EventResponseAudioDone  EventType = "response:audio_done"
	EventResponseTextDelta  EventType = "response:text_delta"
	EventResponseTextDone   EventType = "response:text_done"
	EventResponseDone       EventType = "response:done"

	// EventToolCall announces a function call the caller must answer via
	// SubmitToolResult; EventToolCallDone confirms the submission.
	EventToolCall     EventType = "tool:call"
	EventToolCallDone EventType = "tool:call_done"

	// EventInterrupted fires when a response is cut off, either by the
	// caller or by new speech.
	EventInterrupted EventType = "interrupted"
)

// Event is the unified session event. Fields beyond Type are set per event
// kind: Delta for incremental text, Text for final text, Audio for base64
// PCM16 payloads, CallID/Name/Arguments for tool calls, Usage on
// response:done when the vendor reports it.
type Event struct {
	Type EventType `json:"type"`

	SessionID  string       `json:"session_id,omitempty"`
	ResponseID string       `json:"response_id,omitempty"`
	Role       schemas.Role `json:"role,omitempty"`

	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Usage  *schemas.TokenUsage `json:"usage,omitempty"`
	Err    *schemas.Error      `json:"error,omitempty"`
	Reason string              `json:"reason,omitempty"`
}

// Listener receives session events on the socket read goroutine.
type Listener func(Event)

// Session is the vendor-neutral voice session. All outbound operations
// require the connected state and fail synchronously otherwise.
type Session interface {
	Provider() schemas.ProviderID

	// Connect dials the vendor socket and returns once the vendor confirms
	// the session, or after a ten second timeout.
	Connect(ctx context.Context) *schemas.Error
	// Disconnect closes the socket and disables any pending reconnection.
	Disconnect()
	Status() Status
	Subscribe(listener Listener) func()

	// SendAudio frames PCM16 samples for the vendor and streams them.
	SendAudio(samples []int16) *schemas.Error
	// SendAudioBase64 sends already-encoded PCM16 audio.
	SendAudioBase64(encoded string) *schemas.Error
	SendText(text string) *schemas.Error
	// CommitAudio marks the end of the caller's audio turn.
	CommitAudio() *schemas.Error
	// Interrupt cancels the in-flight model response.
	Interrupt() *schemas.Error
	// SubmitToolResult answers an outstanding tool call. The call id must
	// match an unanswered tool:call event.
	SubmitToolResult(callID, result string) *schemas.Error
	// UpdateConfig applies configuration changes. Vendors that cannot
	// reconfigure mid-session stage the change for the next connect.
	UpdateConfig(cfg SessionConfig) *schemas.Error
}

// Options tunes session behavior shared by all vendors. Reconnection is off
// unless AutoReconnect is set, and is only ever attempted for sessions that
// had fully connected before the socket dropped.
type Options struct {
	Logger schemas.Logger

	AutoReconnect        bool
	MaxReconnectAttempts int           // default 3
	ReconnectDelay       time.Duration // linear backoff unit, default 1s

	// BaseURL overrides the vendor endpoint, used in tests.
	BaseURL string
}

const (
	defaultMaxReconnectAttempts = 3
	defaultReconnectDelay       = time.Second
	connectTimeout              = 10 * time.Second
)
