package utils

import (
	"bufio"
	"io"
	"strings"
)

// SSEDoneSentinel is the terminal data payload OpenAI-style streams emit.
const SSEDoneSentinel = "[DONE]"

// SSEEvent is one server-sent event record. Event is empty for unnamed
// records; Data joins multi-line data fields with newlines.
type SSEEvent struct {
	Event string
	Data  string
}

// SSEScanner decodes a text/event-stream body record by record. A record
// ends at a blank line; a trailing record cut off without its blank line is
// still delivered at EOF, since providers routinely end streams mid-record.
type SSEScanner struct {
	scanner *bufio.Scanner

	event string
	data  []string
}

// NewSSEScanner wraps a streaming response body. The line buffer is sized
// for large tool-call argument deltas.
func NewSSEScanner(r io.Reader) *SSEScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEScanner{scanner: scanner}
}

// Next returns the next complete event, or nil and false at end of stream.
func (s *SSEScanner) Next() (*SSEEvent, bool) {
	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if event, ok := s.flush(); ok {
				return event, true
			}
			continue
		}
		// Comment lines keep streams alive through proxies.
		if strings.HasPrefix(line, ":") {
			continue
		}
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			s.event = strings.TrimPrefix(name, " ")
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			s.data = append(s.data, strings.TrimPrefix(payload, " "))
			continue
		}
		// Unknown fields (id, retry) are ignored.
	}
	return s.flush()
}

// Err reports any underlying read error after Next returns false.
func (s *SSEScanner) Err() error { return s.scanner.Err() }

func (s *SSEScanner) flush() (*SSEEvent, bool) {
	if s.event == "" && len(s.data) == 0 {
		return nil, false
	}
	event := &SSEEvent{Event: s.event, Data: strings.Join(s.data, "\n")}
	s.event = ""
	s.data = nil
	return event, true
}
