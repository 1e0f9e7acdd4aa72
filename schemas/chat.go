package schemas

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartType tags the variants of ContentPart.
type ContentPartType string

const (
	ContentPartText     ContentPartType = "text"
	ContentPartImage    ContentPartType = "image"
	ContentPartThinking ContentPartType = "thinking"
)

// ImageSource carries image payloads either inline or by URL. Exactly one of
// Base64Data or URL is set; MediaType accompanies base64 data.
type ImageSource struct {
	Base64Data string `json:"base64_data,omitempty"`
	MediaType  string `json:"media_type,omitempty"` // e.g. image/png
	URL        string `json:"url,omitempty"`
}

// ContentPart is one element of a multi-part message body.
type ContentPart struct {
	Type  ContentPartType `json:"type"`
	Text  string          `json:"text,omitempty"`
	Image *ImageSource    `json:"image,omitempty"`
}

// ToolCall is a model-issued function invocation. Arguments is the raw JSON
// argument object as emitted by the vendor.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single turn in a conversation. Content holds the ordered body
// parts; assistant turns may additionally carry tool calls, and tool turns
// carry the result for ToolCallID.
type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// TextMessage is a convenience constructor for a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentPart{{Type: ContentPartText, Text: text}}}
}

// Text returns the concatenation of the message's text parts.
func (m Message) Text() string {
	var out string
	for _, p := range m.Content {
		if p.Type == ContentPartText {
			out += p.Text
		}
	}
	return out
}

// ThinkingConfig requests extended reasoning where the model supports it.
// BudgetTokens drives token-budgeted vendors; Effort and SummaryLevel drive
// effort-based ones and are ignored elsewhere.
type ThinkingConfig struct {
	Enabled      bool   `json:"enabled"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
	Effort       string `json:"effort,omitempty"`        // low, medium, high
	SummaryLevel string `json:"summary_level,omitempty"` // auto, concise, detailed
}

// ToolChoiceType tags how the model may use the provided tools.
type ToolChoiceType string

const (
	ToolChoiceAuto     ToolChoiceType = "auto"
	ToolChoiceNone     ToolChoiceType = "none"
	ToolChoiceRequired ToolChoiceType = "required"
	ToolChoiceTool     ToolChoiceType = "tool" // force the named tool
)

// ToolChoice constrains tool selection. Name is set only for ToolChoiceTool.
type ToolChoice struct {
	Type ToolChoiceType `json:"type"`
	Name string         `json:"name,omitempty"`
}

// ToolDefinition declares a callable function with a JSON-Schema parameter
// object, in the vendor-neutral shape adapters translate from.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatRequest is the unified completion request adapters translate to wire
// format. Pointer sampling fields distinguish unset from zero.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	System   string    `json:"system,omitempty"`

	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`

	Thinking   *ThinkingConfig  `json:"thinking,omitempty"`
	Tools      []ToolDefinition `json:"tools,omitempty"`
	ToolChoice *ToolChoice      `json:"tool_choice,omitempty"`
}

// FinishReason is the normalized reason a completion ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolUse       FinishReason = "tool_use"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
	FinishUnknown       FinishReason = "unknown"
)

// TokenUsage is the normalized usage report. Cache and thinking counts are
// zero when the vendor does not report them.
type TokenUsage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	ThinkingTokens   int `json:"thinking_tokens,omitempty"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (u TokenUsage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

// ChatResponse is the unified completion response.
type ChatResponse struct {
	ID    string `json:"id"`
	Model string `json:"model"`

	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	FinishReason FinishReason `json:"finish_reason"`
	Usage        TokenUsage   `json:"usage"`

	// Raw preserves the vendor response body for debugging. Not populated
	// on streaming paths.
	Raw []byte `json:"-"`
}
