package schemas

// StreamChunkType tags the variants of ChatStreamChunk.
type StreamChunkType string

const (
	// StreamChunkStart opens a stream with the response id and model.
	StreamChunkStart StreamChunkType = "start"
	// StreamChunkDelta carries an incremental slice of visible answer text.
	StreamChunkDelta StreamChunkType = "delta"
	// StreamChunkThinkingDelta carries an incremental slice of reasoning text.
	StreamChunkThinkingDelta StreamChunkType = "thinking_delta"
	// StreamChunkThinkingComplete marks the end of a reasoning block.
	StreamChunkThinkingComplete StreamChunkType = "thinking_complete"
	// StreamChunkUsage reports token usage, usually once near the end.
	StreamChunkUsage StreamChunkType = "usage"
	// StreamChunkDone terminates a successful stream.
	StreamChunkDone StreamChunkType = "done"
	// StreamChunkError terminates a failed stream.
	StreamChunkError StreamChunkType = "error"
)

// ChatStreamChunk is one normalized streaming event. Exactly the fields for
// the tagged type are set. A well-formed stream opens with start, carries
// zero or more delta/thinking chunks, and ends with exactly one done or
// error chunk, after which the channel is closed.
type ChatStreamChunk struct {
	Type StreamChunkType `json:"type"`

	// start
	ID    string `json:"id,omitempty"`
	Model string `json:"model,omitempty"`

	// delta and thinking_delta
	Text string `json:"text,omitempty"`

	// thinking_complete; full accumulated reasoning when available
	Thinking string `json:"thinking,omitempty"`

	// usage
	Usage *TokenUsage `json:"usage,omitempty"`

	// done
	FinishReason FinishReason  `json:"finish_reason,omitempty"`
	Response     *ChatResponse `json:"response,omitempty"`

	// error
	Error *Error `json:"error,omitempty"`
}
