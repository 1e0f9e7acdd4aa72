package utils

import (
	"strings"
	"testing"
)

func collectEvents(t *testing.T, input string) []SSEEvent {
	t.Helper()
	scanner := NewSSEScanner(strings.NewReader(input))
	var events []SSEEvent
	for {
		event, ok := scanner.Next()
		if !ok {
			break
		}
		events = append(events, *event)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}
	return events
}

func TestSSEScanner(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []SSEEvent
	}{
		{
			name:  "single data event",
			input: "data: {\"x\":1}\n\n",
			want:  []SSEEvent{{Data: `{"x":1}`}},
		},
		{
			name:  "named events",
			input: "event: message_start\ndata: {}\n\nevent: message_stop\ndata: {}\n\n",
			want:  []SSEEvent{{Event: "message_start", Data: "{}"}, {Event: "message_stop", Data: "{}"}},
		},
		{
			name:  "multi-line data joined with newline",
			input: "data: line1\ndata: line2\n\n",
			want:  []SSEEvent{{Data: "line1\nline2"}},
		},
		{
			name:  "comments and unknown fields skipped",
			input: ": keepalive\nid: 42\ndata: payload\n\n",
			want:  []SSEEvent{{Data: "payload"}},
		},
		{
			name:  "trailing record without blank line still delivered",
			input: "data: first\n\ndata: truncated",
			want:  []SSEEvent{{Data: "first"}, {Data: "truncated"}},
		},
		{
			name:  "done sentinel passes through",
			input: "data: [DONE]\n\n",
			want:  []SSEEvent{{Data: SSEDoneSentinel}},
		},
		{
			name:  "empty stream",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collectEvents(t, tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events %v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
