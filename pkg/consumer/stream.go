package consumer

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"
	"wikistream/pkg/models"
)

const (
	defaultEventType = "message"
	maxLineSize      = 1024 * 1024
)

// eventStream decodes the text/event-stream format from a response body
type eventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	current models.RawMessage
	lastID  string
	err     error
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newEventStream(body io.ReadCloser) *eventStream {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxLineSize)
	return &eventStream{body: body, scanner: scanner}
}

func (s *eventStream) Next() bool {
	if s.done {
		return false
	}
	var (
		eventType string
		data      strings.Builder
		hasData   bool
	)
	dispatch := func() bool {
		if !hasData {
			eventType = ""
			return false
		}
		if eventType == "" {
			eventType = defaultEventType
		}
		s.current = models.RawMessage{Event: eventType, Data: data.String(), ID: s.lastID}
		return true
	}

	for s.scanner.Scan() {
		line := bytes.TrimSuffix(s.scanner.Bytes(), []byte("\r"))
		// Blank line terminates the event
		if len(line) == 0 {
			if dispatch() {
				return true
			}
			continue
		}
		// Comment lines are used as keepalives
		if line[0] == ':' {
			continue
		}
		field, value := splitField(line)
		switch field {
		case "event":
			eventType = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				s.lastID = value
			}
		}
	}
	s.done = true
	s.err = s.scanner.Err()
	// Deliver an event left pending when the body ended without a blank line
	if s.err == nil && dispatch() {
		return true
	}
	return false
}

func (s *eventStream) Message() models.RawMessage {
	return s.current
}

func (s *eventStream) Err() error {
	return s.err
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

func splitField(line []byte) (string, string) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), ""
	}
	value := line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:idx]), string(value)
}
