package ami

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Source yields AMI events strictly in the order they occurred.
// Next returns false once the stream is exhausted or broken; Err then
// tells the two apart.
type Source interface {
	Next() (Event, bool)
	Err() error
}

// SliceSource replays an in-memory list of events.
type SliceSource struct {
	events []Event
	pos    int
}

// NewSliceSource returns a Source over events.
func NewSliceSource(events []Event) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next() (Event, bool) {
	if s.pos >= len(s.events) {
		return Event{}, false
	}
	evt := s.events[s.pos]
	s.pos++
	return evt, true
}

func (s *SliceSource) Err() error { return nil }

// JSONSource streams a recorded JSON array of flat objects, one object per
// event. Non-string values are stringified so numeric Cause codes survive.
type JSONSource struct {
	dec     *json.Decoder
	started bool
	done    bool
	err     error
}

// NewJSONSource returns a Source reading a JSON event log from r.
func NewJSONSource(r io.Reader) *JSONSource {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &JSONSource{dec: dec}
}

func (s *JSONSource) Next() (Event, bool) {
	if s.done {
		return Event{}, false
	}
	if !s.started {
		s.started = true
		tok, err := s.dec.Token()
		if err != nil {
			return s.fail(fmt.Errorf("reading json log: %w", err))
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return s.fail(fmt.Errorf("json log must be an array, got %v", tok))
		}
	}
	if !s.dec.More() {
		s.done = true
		return Event{}, false
	}

	var raw map[string]any
	if err := s.dec.Decode(&raw); err != nil {
		return s.fail(fmt.Errorf("decoding json event: %w", err))
	}

	m := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case nil:
		case string:
			m[k] = tv
		case json.Number:
			m[k] = tv.String()
		default:
			m[k] = fmt.Sprint(tv)
		}
	}
	return FromMap(m), true
}

func (s *JSONSource) fail(err error) (Event, bool) {
	s.err = err
	s.done = true
	return Event{}, false
}

func (s *JSONSource) Err() error { return s.err }

// FileSource is a Source backed by an open recording.
type FileSource struct {
	Source
	f *os.File
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.f.Close()
}

// OpenFile opens a recorded event log. Files whose first non-space byte is
// '[' are read as JSON, everything else as raw AMI text.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}

	br := bufio.NewReader(f)
	head, err := br.Peek(512)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		f.Close()
		return nil, fmt.Errorf("reading event log: %w", err)
	}

	var src Source
	if trimmed := bytes.TrimSpace(head); len(trimmed) > 0 && trimmed[0] == '[' {
		src = NewJSONSource(br)
	} else {
		src = NewParser(br)
	}
	return &FileSource{Source: src, f: f}, nil
}
