package realtime

import (
	"net/http"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	schemas "github.com/keyloom/keyloom/schemas"
)

const (
	geminiLiveHost          = "wss://generativelanguage.googleapis.com"
	geminiDefaultAPIVersion = "v1alpha"
	geminiDefaultLiveModel  = "gemini-2.0-flash-exp"
	geminiAudioMimeType     = "audio/pcm;rate=16000"
)

// GeminiVoices lists the prebuilt Gemini Live voices.
var GeminiVoices = []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede"}

// GeminiOptions extends the shared session options with the API version.
type GeminiOptions struct {
	Options

	APIVersion string // default v1alpha
}

type geminiSetup struct {
	Model             string                   `json:"model"`
	GenerationConfig  *geminiGenerationConfig  `json:"generationConfig,omitempty"`
	SystemInstruction *geminiSystemInstruction `json:"systemInstruction,omitempty"`
	Tools             []geminiToolGroup        `json:"tools,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string            `json:"responseModalities,omitempty"`
	SpeechConfig       *geminiSpeechConfig `json:"speechConfig,omitempty"`
	Temperature        *float64            `json:"temperature,omitempty"`
	MaxOutputTokens    int                 `json:"maxOutputTokens,omitempty"`
}

type geminiSpeechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiToolGroup struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	InlineData   *geminiBlob         `json:"inlineData,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiTurn struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiClientContent struct {
	Turns        []geminiTurn `json:"turns"`
	TurnComplete bool         `json:"turnComplete"`
}

type geminiRealtimeInput struct {
	MediaChunks []geminiBlob `json:"mediaChunks"`
}

type geminiFunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiToolResponse struct {
	FunctionResponses []geminiFunctionResponse `json:"functionResponses"`
}

// geminiClientFrame is the envelope for every client message; exactly one
// field is set per frame.
type geminiClientFrame struct {
	Setup         *geminiSetup         `json:"setup,omitempty"`
	ClientContent *geminiClientContent `json:"clientContent,omitempty"`
	RealtimeInput *geminiRealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *geminiToolResponse  `json:"toolResponse,omitempty"`
}

type geminiServerFrame struct {
	SetupComplete *struct{} `json:"setupComplete"`

	ServerContent *struct {
		ModelTurn *struct {
			Parts []geminiPart `json:"parts"`
		} `json:"modelTurn"`
		TurnComplete bool `json:"turnComplete"`
		Interrupted  bool `json:"interrupted"`
	} `json:"serverContent"`

	ToolCall *struct {
		FunctionCalls []geminiFunctionCall `json:"functionCalls"`
	} `json:"toolCall"`

	ToolCallCancellation *struct {
		IDs []string `json:"ids"`
	} `json:"toolCallCancellation"`

	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// GeminiSession speaks the Gemini Live API. The key travels in the URL
// query string, the session is configured with a setup frame and confirmed
// by setupComplete. Gemini assigns no session or response ids, so they are
// synthesized locally.
type GeminiSession struct {
	*baseSession

	apiKey     string
	apiVersion string

	textMu     sync.Mutex
	textBuffer strings.Builder
}

var _ Session = (*GeminiSession)(nil)

// NewGeminiSession builds a disconnected session. Connect dials it.
func NewGeminiSession(apiKey string, cfg SessionConfig, opts GeminiOptions) *GeminiSession {
	if opts.APIVersion == "" {
		opts.APIVersion = geminiDefaultAPIVersion
	}
	s := &GeminiSession{
		baseSession: newBaseSession(schemas.Gemini, cfg, opts.Options),
		apiKey:      apiKey,
		apiVersion:  opts.APIVersion,
	}
	s.proto = s
	return s
}

func (s *GeminiSession) model() string {
	if model := s.config().Model; model != "" {
		return model
	}
	return geminiDefaultLiveModel
}

func (s *GeminiSession) dialTarget(baseURL string) (string, http.Header, []string) {
	if baseURL == "" {
		baseURL = geminiLiveHost
	}
	url := baseURL + "/" + s.apiVersion + "/models/" + s.model() + ":streamGenerateContent?key=" + s.apiKey
	return url, nil, nil
}

func (s *GeminiSession) initialFrames() []any {
	cfg := s.config()

	generation := &geminiGenerationConfig{
		ResponseModalities: []string{"TEXT", "AUDIO"},
		Temperature:        cfg.Temperature,
		MaxOutputTokens:    cfg.MaxResponseTokens,
	}
	if cfg.Voice != "" {
		speech := &geminiSpeechConfig{}
		speech.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		generation.SpeechConfig = speech
	}

	setup := &geminiSetup{
		Model:            "models/" + s.model(),
		GenerationConfig: generation,
	}
	if cfg.Instructions != "" {
		setup.SystemInstruction = &geminiSystemInstruction{
			Parts: []geminiPart{{Text: cfg.Instructions}},
		}
	}
	if len(cfg.Tools) > 0 {
		declarations := make([]geminiFunctionDeclaration, 0, len(cfg.Tools))
		for _, tool := range cfg.Tools {
			declarations = append(declarations, geminiFunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		setup.Tools = []geminiToolGroup{{FunctionDeclarations: declarations}}
	}

	return []any{&geminiClientFrame{Setup: setup}}
}

func (s *GeminiSession) audioFrame(encoded string) any {
	return &geminiClientFrame{
		RealtimeInput: &geminiRealtimeInput{
			MediaChunks: []geminiBlob{{MimeType: geminiAudioMimeType, Data: encoded}},
		},
	}
}

func (s *GeminiSession) handleFrame(data []byte) {
	var frame geminiServerFrame
	if err := sonic.Unmarshal(data, &frame); err != nil {
		s.logger.Warn("dropping unparseable live frame: " + err.Error())
		return
	}

	if frame.SetupComplete != nil {
		s.confirm(uuid.NewString())
		return
	}

	if content := frame.ServerContent; content != nil {
		if content.Interrupted {
			s.emit(Event{Type: EventInterrupted})
			return
		}

		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				switch {
				case part.FunctionCall != nil:
					s.announceToolCall(*part.FunctionCall)
				case part.InlineData != nil:
					if strings.HasPrefix(part.InlineData.MimeType, "audio/") {
						s.emit(Event{Type: EventResponseAudioDelta, Audio: part.InlineData.Data})
					}
				case part.Text != "":
					s.emit(Event{Type: EventResponseTextDelta, Delta: part.Text})
					s.textMu.Lock()
					s.textBuffer.WriteString(part.Text)
					s.textMu.Unlock()
				}
			}
		}

		if content.TurnComplete {
			s.textMu.Lock()
			text := s.textBuffer.String()
			s.textBuffer.Reset()
			s.textMu.Unlock()
			if text != "" {
				s.emit(Event{Type: EventResponseTextDone, Text: text})
			}
			s.emit(Event{Type: EventResponseDone, ResponseID: uuid.NewString()})
		}
	}

	if frame.ToolCall != nil {
		for _, call := range frame.ToolCall.FunctionCalls {
			s.announceToolCall(call)
		}
	}

	if frame.ToolCallCancellation != nil {
		for _, id := range frame.ToolCallCancellation.IDs {
			s.dropToolCall(id)
		}
	}

	if usage := frame.UsageMetadata; usage != nil {
		s.emit(Event{
			Type: EventResponseDone,
			Usage: &schemas.TokenUsage{
				InputTokens:  usage.PromptTokenCount,
				OutputTokens: usage.CandidatesTokenCount,
			},
		})
	}
}

func (s *GeminiSession) announceToolCall(call geminiFunctionCall) {
	args, err := sonic.MarshalString(call.Args)
	if err != nil {
		args = "{}"
	}
	s.trackToolCall(call.ID, call.Name, args)
	s.emit(Event{
		Type:      EventToolCall,
		CallID:    call.ID,
		Name:      call.Name,
		Arguments: args,
	})
}

// SendText sends a completed user text turn.
func (s *GeminiSession) SendText(text string) *schemas.Error {
	return s.sendConnected(&geminiClientFrame{
		ClientContent: &geminiClientContent{
			Turns:        []geminiTurn{{Role: "user", Parts: []geminiPart{{Text: text}}}},
			TurnComplete: true,
		},
	})
}

// SendImage sends an inline image for vision analysis.
func (s *GeminiSession) SendImage(base64Data, mimeType string) *schemas.Error {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return s.sendConnected(&geminiClientFrame{
		ClientContent: &geminiClientContent{
			Turns: []geminiTurn{{
				Role:  "user",
				Parts: []geminiPart{{InlineData: &geminiBlob{MimeType: mimeType, Data: base64Data}}},
			}},
			TurnComplete: true,
		},
	})
}

// SendTextAndImage sends a text prompt and an inline image in one turn.
func (s *GeminiSession) SendTextAndImage(text, base64Data, mimeType string) *schemas.Error {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return s.sendConnected(&geminiClientFrame{
		ClientContent: &geminiClientContent{
			Turns: []geminiTurn{{
				Role: "user",
				Parts: []geminiPart{
					{Text: text},
					{InlineData: &geminiBlob{MimeType: mimeType, Data: base64Data}},
				},
			}},
			TurnComplete: true,
		},
	})
}

// CommitAudio signals the end of the caller's turn. Gemini detects turns
// automatically, so this is an empty completed turn.
func (s *GeminiSession) CommitAudio() *schemas.Error {
	return s.sendConnected(&geminiClientFrame{
		ClientContent: &geminiClientContent{
			Turns:        []geminiTurn{},
			TurnComplete: true,
		},
	})
}

// Interrupt signals interruption intent. Gemini interrupts server-side on
// new audio input, so only the local event fires.
func (s *GeminiSession) Interrupt() *schemas.Error {
	if s.Status().State != StateConnected {
		return errNotConnected().WithProvider(s.provider)
	}
	s.emit(Event{Type: EventInterrupted})
	return nil
}

// SubmitToolResult answers an outstanding function call. The result string
// is parsed as JSON when possible and wrapped otherwise.
func (s *GeminiSession) SubmitToolResult(callID, result string) *schemas.Error {
	call, err := s.takeToolCall(callID)
	if err != nil {
		return err
	}

	var parsed any
	if jsonErr := sonic.UnmarshalString(result, &parsed); jsonErr != nil {
		parsed = result
	}

	sendErr := s.sendConnected(&geminiClientFrame{
		ToolResponse: &geminiToolResponse{
			FunctionResponses: []geminiFunctionResponse{{
				ID:       callID,
				Name:     call.name,
				Response: map[string]any{"result": parsed},
			}},
		},
	})
	if sendErr != nil {
		// Keep the call pending so the caller can retry.
		s.trackToolCall(callID, call.name, call.arguments)
		return sendErr
	}
	s.emit(Event{Type: EventToolCallDone, CallID: callID})
	return nil
}

// UpdateConfig stages configuration changes for the next connection.
// Gemini Live cannot reconfigure a session in flight.
func (s *GeminiSession) UpdateConfig(cfg SessionConfig) *schemas.Error {
	s.mergeConfig(cfg)
	if s.Status().State == StateConnected {
		s.logger.Warn("Gemini Live does not support mid-session config updates; changes apply on reconnect")
	}
	return nil
}
