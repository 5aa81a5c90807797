package ami

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// maxLineSize bounds a single AMI line. Some events (VarSet with long
// values, Command output) exceed bufio.Scanner's 64 KiB default.
const maxLineSize = 1024 * 1024

// Parser reads an AMI byte stream and emits Events.
type Parser struct {
	scanner *bufio.Scanner
}

// NewParser creates a Parser that reads from the given reader.
func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Parser{scanner: s}
}

// Next reads the next event from the stream.
// Returns the event and true if an event was read, or a zero Event and false at EOF.
func (p *Parser) Next() (Event, bool) {
	var headers []Header

	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")

		// Blank line marks end of an event block
		if line == "" {
			if len(headers) > 0 {
				return Event{headers: headers}, true
			}
			continue
		}

		idx := strings.Index(line, ": ")
		if idx < 0 {
			// "Key:" with an empty value is legal AMI
			if strings.HasSuffix(line, ":") && !strings.Contains(line, " ") {
				headers = append(headers, Header{Key: strings.TrimSuffix(line, ":")})
				continue
			}
			// Banner line ("Asterisk Call Manager/...") outside an event
			if len(headers) == 0 {
				continue
			}
			headers = append(headers, Header{Key: "", Value: line})
			continue
		}

		headers = append(headers, Header{Key: line[:idx], Value: line[idx+2:]})
	}

	if len(headers) > 0 {
		return Event{headers: headers}, true
	}
	return Event{}, false
}

// Err returns the first non-EOF error the underlying reader produced.
func (p *Parser) Err() error {
	return p.scanner.Err()
}

// ParseAll reads all events from the stream and returns them.
func (p *Parser) ParseAll() []Event {
	var events []Event
	for {
		evt, ok := p.Next()
		if !ok {
			break
		}
		events = append(events, evt)
	}
	return events
}

// ParseBytes is a convenience function that parses all events from a byte slice.
func ParseBytes(data []byte) []Event {
	return NewParser(bytes.NewReader(data)).ParseAll()
}
