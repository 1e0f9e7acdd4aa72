package realtime

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"

	schemas "github.com/keyloom/keyloom/schemas"
)

const (
	openaiRealtimeURL          = "wss://api.openai.com/v1/realtime"
	openaiDefaultRealtimeModel = "gpt-4o-realtime-preview-2024-12-17"
	defaultVoice               = "alloy"
	defaultVADThreshold        = 0.5
	defaultSilenceDurationMs   = 500
	defaultTranscriptionModel  = "whisper-1"
)

// OpenAIOptions extends the shared session options with transcription
// controls. Input transcription is on by default.
type OpenAIOptions struct {
	Options

	DisableTranscription bool
	TranscriptionModel   string // default whisper-1
}

type openaiSessionConfig struct {
	Modalities        []string `json:"modalities,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	InputAudioFormat  string   `json:"input_audio_format,omitempty"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxResponseTokens int      `json:"max_response_output_tokens,omitempty"`

	// TurnDetection is always present: an object enables server VAD, an
	// explicit null disables turn detection entirely.
	TurnDetection *openaiTurnDetection `json:"turn_detection"`

	InputAudioTranscription *openaiTranscription `json:"input_audio_transcription,omitempty"`
	Tools                   []openaiTool         `json:"tools,omitempty"`
}

type openaiTurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type openaiTranscription struct {
	Model string `json:"model"`
}

type openaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openaiContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type openaiConversationItem struct {
	Type    string              `json:"type"`
	Role    string              `json:"role,omitempty"`
	Content []openaiContentPart `json:"content,omitempty"`
	CallID  string              `json:"call_id,omitempty"`
	Output  string              `json:"output,omitempty"`
}

// openaiClientFrame covers every client event type; unset fields are
// omitted so one struct serves the whole vocabulary.
type openaiClientFrame struct {
	Type    string                  `json:"type"`
	Audio   string                  `json:"audio,omitempty"`
	Session *openaiSessionConfig    `json:"session,omitempty"`
	Item    *openaiConversationItem `json:"item,omitempty"`
}

type openaiServerEvent struct {
	Type string `json:"type"`

	Session *struct {
		ID string `json:"id"`
	} `json:"session"`
	Response *struct {
		ID    string `json:"id"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	} `json:"response"`

	Delta      string `json:"delta"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`

	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`

	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAISession speaks the OpenAI Realtime API. Authentication rides in
// the WebSocket subprotocol list; the session is configured with a
// session.update frame right after the socket opens and confirmed by the
// vendor's session.created event.
type OpenAISession struct {
	*baseSession

	apiKey             string
	transcription      bool
	transcriptionModel string

	respMu     sync.Mutex
	responseID string
}

var _ Session = (*OpenAISession)(nil)

// NewOpenAISession builds a disconnected session. Connect dials it.
func NewOpenAISession(apiKey string, cfg SessionConfig, opts OpenAIOptions) *OpenAISession {
	s := &OpenAISession{
		baseSession:        newBaseSession(schemas.OpenAI, cfg, opts.Options),
		apiKey:             apiKey,
		transcription:      !opts.DisableTranscription,
		transcriptionModel: opts.TranscriptionModel,
	}
	if s.transcriptionModel == "" {
		s.transcriptionModel = defaultTranscriptionModel
	}
	s.proto = s
	return s
}

func (s *OpenAISession) dialTarget(baseURL string) (string, http.Header, []string) {
	if baseURL == "" {
		baseURL = openaiRealtimeURL
	}
	model := s.config().Model
	if model == "" {
		model = openaiDefaultRealtimeModel
	}
	subprotocols := []string{
		"realtime",
		"openai-insecure-api-key." + s.apiKey,
		"openai-beta.realtime-v1",
	}
	return baseURL + "?model=" + model, nil, subprotocols
}

func (s *OpenAISession) initialFrames() []any {
	return []any{&openaiClientFrame{
		Type:    "session.update",
		Session: s.sessionConfig(s.config()),
	}}
}

func (s *OpenAISession) sessionConfig(cfg SessionConfig) *openaiSessionConfig {
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}
	inputFormat := cfg.InputAudioFormat
	if inputFormat == "" {
		inputFormat = "pcm16"
	}
	outputFormat := cfg.OutputAudioFormat
	if outputFormat == "" {
		outputFormat = "pcm16"
	}

	wire := &openaiSessionConfig{
		Modalities:        []string{"text", "audio"},
		Voice:             voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  inputFormat,
		OutputAudioFormat: outputFormat,
		Temperature:       cfg.Temperature,
		MaxResponseTokens: cfg.MaxResponseTokens,
	}

	if cfg.TurnDetection == nil {
		wire.TurnDetection = &openaiTurnDetection{
			Type:              "server_vad",
			Threshold:         defaultVADThreshold,
			SilenceDurationMs: defaultSilenceDurationMs,
		}
	} else if !cfg.TurnDetection.Disabled {
		threshold := cfg.TurnDetection.Threshold
		if threshold == 0 {
			threshold = defaultVADThreshold
		}
		silence := cfg.TurnDetection.SilenceDurationMs
		if silence == 0 {
			silence = defaultSilenceDurationMs
		}
		wire.TurnDetection = &openaiTurnDetection{
			Type:              "server_vad",
			Threshold:         threshold,
			SilenceDurationMs: silence,
		}
	}

	if s.transcription {
		wire.InputAudioTranscription = &openaiTranscription{Model: s.transcriptionModel}
	}

	for _, tool := range cfg.Tools {
		wire.Tools = append(wire.Tools, openaiTool{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return wire
}

func (s *OpenAISession) audioFrame(encoded string) any {
	return &openaiClientFrame{Type: "input_audio_buffer.append", Audio: encoded}
}

func (s *OpenAISession) handleFrame(data []byte) {
	var event openaiServerEvent
	if err := sonic.Unmarshal(data, &event); err != nil {
		s.logger.Warn("dropping unparseable realtime event: " + err.Error())
		return
	}

	switch event.Type {
	case "session.created":
		sessionID := ""
		if event.Session != nil {
			sessionID = event.Session.ID
		}
		s.confirm(sessionID)

	case "session.updated":
		// Configuration acknowledged.

	case "input_audio_buffer.speech_started":
		s.emit(Event{Type: EventAudioInputStarted})

	case "input_audio_buffer.speech_stopped":
		s.emit(Event{Type: EventAudioInputEnded})

	case "conversation.item.input_audio_transcription.completed":
		s.emit(Event{Type: EventTranscriptDone, Role: schemas.RoleUser, Text: event.Transcript})

	case "response.created":
		responseID := ""
		if event.Response != nil {
			responseID = event.Response.ID
		}
		s.setResponseID(responseID)
		s.emit(Event{Type: EventResponseStarted, ResponseID: responseID})

	case "response.audio.delta":
		s.emit(Event{Type: EventResponseAudioDelta, Audio: event.Delta})

	case "response.audio.done":
		s.emit(Event{Type: EventResponseAudioDone})

	case "response.audio_transcript.delta":
		s.emit(Event{Type: EventTranscriptDelta, Role: schemas.RoleAssistant, Delta: event.Delta})

	case "response.audio_transcript.done":
		s.emit(Event{Type: EventTranscriptDone, Role: schemas.RoleAssistant, Text: event.Transcript})

	case "response.text.delta":
		s.emit(Event{Type: EventResponseTextDelta, Delta: event.Delta})

	case "response.text.done":
		s.emit(Event{Type: EventResponseTextDone, Text: event.Text})

	case "response.function_call_arguments.done":
		s.trackToolCall(event.CallID, event.Name, event.Arguments)
		s.emit(Event{
			Type:      EventToolCall,
			CallID:    event.CallID,
			Name:      event.Name,
			Arguments: event.Arguments,
		})

	case "response.done":
		done := Event{Type: EventResponseDone, ResponseID: s.takeResponseID()}
		if event.Response != nil && event.Response.Usage != nil {
			done.Usage = &schemas.TokenUsage{
				InputTokens:  event.Response.Usage.InputTokens,
				OutputTokens: event.Response.Usage.OutputTokens,
			}
		}
		s.emit(done)

	case "error":
		message := "unknown error"
		if event.Error != nil && event.Error.Message != "" {
			message = event.Error.Message
		}
		s.emit(Event{
			Type: EventSessionError,
			Err:  schemas.NewProviderError(schemas.OpenAI, schemas.ErrCodeProviderAPI, message),
		})

	case "rate_limits.updated":
		// Informational only.
	}
}

func (s *OpenAISession) setResponseID(id string) {
	s.respMu.Lock()
	s.responseID = id
	s.respMu.Unlock()
}

func (s *OpenAISession) takeResponseID() string {
	s.respMu.Lock()
	defer s.respMu.Unlock()
	id := s.responseID
	s.responseID = ""
	return id
}

// SendText injects a user message into the conversation and asks for a
// response.
func (s *OpenAISession) SendText(text string) *schemas.Error {
	err := s.sendConnected(&openaiClientFrame{
		Type: "conversation.item.create",
		Item: &openaiConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []openaiContentPart{{Type: "input_text", Text: text}},
		},
	})
	if err != nil {
		return err
	}
	return s.CreateResponse()
}

// CreateResponse asks the model to respond to the conversation as it
// stands.
func (s *OpenAISession) CreateResponse() *schemas.Error {
	return s.sendConnected(&openaiClientFrame{Type: "response.create"})
}

// CommitAudio closes the caller's audio turn, prompting the server to
// respond when turn detection is off.
func (s *OpenAISession) CommitAudio() *schemas.Error {
	return s.sendConnected(&openaiClientFrame{Type: "input_audio_buffer.commit"})
}

// ClearAudioBuffer discards audio streamed but not yet committed.
func (s *OpenAISession) ClearAudioBuffer() *schemas.Error {
	return s.sendConnected(&openaiClientFrame{Type: "input_audio_buffer.clear"})
}

// Interrupt cancels the in-flight response.
func (s *OpenAISession) Interrupt() *schemas.Error {
	if err := s.sendConnected(&openaiClientFrame{Type: "response.cancel"}); err != nil {
		return err
	}
	s.emit(Event{Type: EventInterrupted})
	return nil
}

// SubmitToolResult answers an outstanding tool call and asks the model to
// continue with the result.
func (s *OpenAISession) SubmitToolResult(callID, result string) *schemas.Error {
	call, takeErr := s.takeToolCall(callID)
	if takeErr != nil {
		return takeErr
	}
	err := s.sendConnected(&openaiClientFrame{
		Type: "conversation.item.create",
		Item: &openaiConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: result,
		},
	})
	if err != nil {
		// Keep the call pending so the caller can retry.
		s.trackToolCall(callID, call.name, call.arguments)
		return err
	}
	s.emit(Event{Type: EventToolCallDone, CallID: callID})
	return s.CreateResponse()
}

// UpdateConfig merges the given fields into the session configuration and,
// when connected, pushes a session.update frame.
func (s *OpenAISession) UpdateConfig(cfg SessionConfig) *schemas.Error {
	merged := s.mergeConfig(cfg)
	if s.Status().State != StateConnected {
		return nil
	}
	return s.send(&openaiClientFrame{
		Type:    "session.update",
		Session: s.sessionConfig(merged),
	})
}
