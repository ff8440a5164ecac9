package apiclient

import (
	"bufio"
	"fmt"
	"io"

	"github.com/eugener/radagast/internal/sseutil"
)

// Event is a single server-sent event from a streaming response.
type Event struct {
	Type string
	Data []byte
}

// Stream decodes an SSE response body into events.
// Not safe for concurrent use.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cur     Event
	err     error
}

// NewStream wraps a response body in an SSE event decoder.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:    body,
		scanner: sseutil.NewScanner(body),
	}
}

// Next advances to the next event. It returns false at end of stream or on
// read error; check Err afterwards. Comments, pings without data, and blank
// lines are skipped.
func (s *Stream) Next() bool {
	var eventType string
	for s.scanner.Scan() {
		event, data, ok := sseutil.ParseLine(s.scanner.Text())
		if !ok {
			continue
		}
		if event != "" {
			eventType = event
			continue
		}
		if data == "" {
			continue
		}
		s.cur = Event{Type: eventType, Data: []byte(data)}
		return true
	}
	if err := s.scanner.Err(); err != nil {
		s.err = fmt.Errorf("apiclient: read stream: %w", err)
	}
	return false
}

// Current returns the event read by the last successful Next.
func (s *Stream) Current() Event { return s.cur }

// Err returns the first error encountered while reading the stream.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying response body.
func (s *Stream) Close() error { return s.body.Close() }
