package main

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/asterisk-callflow/internal/ami"
)

func TestCaptureWritesReplayableStream(t *testing.T) {
	events := []ami.Event{
		ami.NewEvent("Event", "Newchannel", "Uniqueid", "1.1", "CallerIDNum", "201"),
		ami.NewEvent("Event", "Hangup", "Uniqueid", "1.1", "Cause", "16"),
	}

	var buf bytes.Buffer
	n, err := capture(ami.NewSliceSource(events), "Asterisk Call Manager/5.0.2", &buf)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events written, got %d", n)
	}
	if !strings.HasPrefix(buf.String(), "Asterisk Call Manager/5.0.2\r\n") {
		t.Errorf("expected banner first, got %q", buf.String())
	}

	parsed := ami.ParseBytes(buf.Bytes())
	if len(parsed) != len(events) {
		t.Fatalf("expected %d events back, got %d", len(events), len(parsed))
	}
	for i := range events {
		if !parsed[i].Equal(events[i]) {
			t.Errorf("event %d changed: %v", i, parsed[i].Headers())
		}
	}
}

func TestCaptureName(t *testing.T) {
	name := captureName(time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC))
	if !regexp.MustCompile(`^20240301-140509-[0-9a-f]{8}\.raw$`).MatchString(name) {
		t.Errorf("unexpected capture name %q", name)
	}
}
