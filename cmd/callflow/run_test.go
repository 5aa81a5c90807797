package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/asterisk-callflow/internal/ami"
	"github.com/sweeney/asterisk-callflow/internal/config"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/logging"
	"github.com/sweeney/asterisk-callflow/internal/publisher"
	"github.com/sweeney/asterisk-callflow/internal/reporter"
)

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}

func runPipeline(t *testing.T, fixture, prefix string) *publisher.MockPublisher {
	t.Helper()
	src, err := ami.OpenFile(fixturePath(fixture))
	if err != nil {
		t.Fatalf("opening fixture: %v", err)
	}
	defer src.Close()

	mock := publisher.NewMockPublisher()
	sink := reporter.NewMQTT(mock, prefix, time.Second, logging.Discard())
	engine := correlator.New(reporter.Adapt(sink))
	if err := engine.Run(context.Background(), src); err != nil {
		t.Fatalf("run: %v", err)
	}
	return mock
}

func parsePayload(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return m
}

func TestIntegrationForkAnswered(t *testing.T) {
	msgs := runPipeline(t, "fork-answered.raw", "asterisk").Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	want := []string{
		"asterisk/call/1700000000.1/dial",
		"asterisk/call/1700000000.1/up",
		"asterisk/call/1700000000.1/hangup",
	}
	for i, topic := range want {
		if msgs[i].Topic != topic {
			t.Errorf("message %d: expected topic %q, got %q", i, topic, msgs[i].Topic)
		}
	}

	dial := parsePayload(t, msgs[0].Payload)
	assertPayloadField(t, dial, "event", "dial")
	assertPayloadField(t, dial, "description", "The call is being offered to several destinations")
	assertPayloadField(t, dial, "dialed_number", "600")
	caller := dial["caller"].(map[string]any)
	if caller["code"] != "201" {
		t.Errorf("expected caller.code=201, got %v", caller["code"])
	}
	if caller["name"] != "Reception" {
		t.Errorf("expected caller.name=Reception, got %v", caller["name"])
	}
	targets := dial["targets"].([]any)
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if code := targets[0].(map[string]any)["code"]; code != "203" {
		t.Errorf("expected first target 203, got %v", code)
	}

	up := parsePayload(t, msgs[1].Payload)
	callee := up["callee"].(map[string]any)
	if callee["code"] != "203" {
		t.Errorf("expected callee.code=203, got %v", callee["code"])
	}

	hangup := parsePayload(t, msgs[2].Payload)
	assertPayloadField(t, hangup, "reason", "normal_clearing")
	assertPayloadField(t, hangup, "description", "The call has ended")
}

func TestIntegrationUnansweredBusy(t *testing.T) {
	msgs := runPipeline(t, "unanswered-busy.raw", "asterisk").Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (dial + hangup), got %d", len(msgs))
	}
	for _, m := range msgs {
		if parsePayload(t, m.Payload)["event"] == "up" {
			t.Error("unexpected up event for unanswered call")
		}
	}
	assertPayloadField(t, parsePayload(t, msgs[1].Payload), "reason", "user_busy")
}

func TestIntegrationWarmTransfer(t *testing.T) {
	mock := runPipeline(t, "warm-transfer.raw", "pbx")

	if got := mock.Topics("pbx/call/1700000200.12/warm_transfer"); len(got) != 1 {
		t.Fatalf("expected one warm_transfer message, got %v", got)
	}
	if got := mock.Topics("pbx/call/1700000200.12/hangup"); len(got) != 1 {
		t.Fatalf("expected the hangup under the new call id, got %v", got)
	}

	for _, m := range mock.Messages() {
		if !strings.HasPrefix(m.Topic, "pbx/call/") {
			t.Errorf("expected topic prefix 'pbx/call/', got %q", m.Topic)
		}
		p := parsePayload(t, m.Payload)
		if p["event"] != "warm_transfer" {
			continue
		}
		assertPayloadField(t, p, "merged_call_id", "1700000200.10")
		redirector := p["redirector"].(map[string]any)
		if redirector["code"] != "203" {
			t.Errorf("expected redirector.code=203, got %v", redirector["code"])
		}
	}
}

func TestIntegrationBlindTransfer(t *testing.T) {
	mock := runPipeline(t, "blind-transfer.raw", "asterisk")

	topics := mock.Topics("asterisk/call/1700000300.22/cold_transfer")
	if len(topics) != 1 {
		t.Fatalf("expected one cold_transfer message, got %v", topics)
	}
	for _, m := range mock.Messages() {
		p := parsePayload(t, m.Payload)
		if p["event"] != "cold_transfer" {
			continue
		}
		assertPayloadField(t, p, "merged_call_id", "1700000300.20")
		assertPayloadField(t, p, "dialed_number", "600")
		if n := len(p["targets"].([]any)); n != 2 {
			t.Errorf("expected 2 targets, got %d", n)
		}
	}
}

func TestPayloadCommonShape(t *testing.T) {
	for _, fixture := range []string{"fork-answered.raw", "unanswered-busy.raw", "warm-transfer.raw", "blind-transfer.raw"} {
		for i, m := range runPipeline(t, fixture, "asterisk").Messages() {
			p := parsePayload(t, m.Payload)
			for _, field := range []string{"event_id", "event", "description", "call_id", "caller", "timestamp"} {
				if _, ok := p[field]; !ok {
					t.Errorf("%s message %d: missing required field %q", fixture, i, field)
				}
			}
			event := p["event"].(string)
			if !strings.HasSuffix(m.Topic, "/"+event) {
				t.Errorf("%s message %d: event %q doesn't match topic %q", fixture, i, event, m.Topic)
			}
		}
	}
}

func TestTolerantSwallowsErrors(t *testing.T) {
	failing := reporter.SinkFunc(func(reporter.Event) error { return errors.New("broker down") })
	sink := tolerant("mqtt", failing, logging.Discard())
	if err := sink.Handle(reporter.Event{Kind: correlator.KindUp, CallID: "1.1"}); err != nil {
		t.Fatalf("expected error to be swallowed, got %v", err)
	}
}

func TestBuildSinksWithStore(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Enabled = false
	cfg.Store = config.StoreConfig{Driver: "sqlite", DSN: ":memory:"}

	logs, err := logging.Setup(logging.Options{}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	sink, closeAll, err := buildSinks(cfg, logs)
	if err != nil {
		t.Fatalf("build sinks: %v", err)
	}
	defer closeAll()

	multi, ok := sink.(reporter.Multi)
	if !ok {
		t.Fatalf("expected reporter.Multi, got %T", sink)
	}
	if len(multi) != 2 {
		t.Errorf("expected log and store sinks, got %d", len(multi))
	}
	if err := sink.Handle(reporter.Event{Kind: correlator.KindHangup, CallID: "1.1", Timestamp: time.Now()}); err != nil {
		t.Errorf("handle: %v", err)
	}
}

func TestBuildSinksBadStore(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Enabled = false
	cfg.Store = config.StoreConfig{Driver: "postgres", DSN: "x"}

	logs, err := logging.Setup(logging.Options{}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := buildSinks(cfg, logs); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestEngineFilter(t *testing.T) {
	cfg := config.Default()
	if !engineFilter(cfg).Allows("DialBegin") {
		t.Error("default filter should allow DialBegin")
	}

	cfg.Events = []string{"Hangup"}
	f := engineFilter(cfg)
	if f.Allows("DialBegin") {
		t.Error("configured filter should not allow DialBegin")
	}
	if !f.Allows("Hangup") {
		t.Error("configured filter should allow Hangup")
	}
}

// fakeAMI accepts one connection, accepts any login and then writes the
// fixture before hanging up.
func fakeAMI(t *testing.T, fixture string) int {
	t.Helper()
	data, err := os.ReadFile(fixturePath(fixture))
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		io.WriteString(conn, "Asterisk Call Manager/5.0.2\r\n")
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		io.WriteString(conn, "Response: Success\r\nMessage: Authentication accepted\r\n\r\n")
		conn.Write(data)
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunSessionCorrelatesLiveFeed(t *testing.T) {
	cfg := config.Default()
	cfg.AMI.Port = fakeAMI(t, "fork-answered.raw")

	logs, err := logging.Setup(logging.Options{}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	rec := reporter.NewRecorder()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = runSession(ctx, cfg, rec, logs)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected session to end with EOF, got %v", err)
	}

	kinds := rec.Kinds()
	want := []string{correlator.KindDial, correlator.KindUp, correlator.KindHangup}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, kinds)
	}
}

func TestRunSessionUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.AMI.Port = ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	logs, err := logging.Setup(logging.Options{}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	if err := runSession(context.Background(), cfg, reporter.NewRecorder(), logs); err == nil {
		t.Fatal("expected dial error")
	}
}

func assertPayloadField(t *testing.T, p map[string]any, key string, expected string) {
	t.Helper()
	if v, ok := p[key]; !ok {
		t.Errorf("missing field %q", key)
	} else if v != expected {
		t.Errorf("expected %s=%q, got %q", key, expected, v)
	}
}
