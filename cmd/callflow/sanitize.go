package main

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweeney/asterisk-callflow/internal/ami"
)

func newSanitizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize <file>",
		Short: "Redact secrets, addresses and phone numbers from a capture in place (keeps .bak)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sanitizeFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sanitized:", args[0])
			return nil
		},
	}
}

var (
	ipPattern    = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	phonePattern = regexp.MustCompile(`\d{7,}`)
)

// numberKey reports whether values under key may carry a phone number.
func numberKey(key string) bool {
	switch key {
	case "CallerIDNum", "ConnectedLineNum", "Exten", "DialString", "Extension":
		return true
	}
	return strings.HasPrefix(key, "Dest")
}

// sanitizer maps each real number to the same fake one for the whole
// capture so calls still correlate after redaction.
type sanitizer struct {
	numbers map[string]string
}

func newSanitizer() *sanitizer {
	return &sanitizer{numbers: map[string]string{}}
}

func (s *sanitizer) number(n string) string {
	if fake, ok := s.numbers[n]; ok {
		return fake
	}
	fake := fmt.Sprintf("555%07d", len(s.numbers)+1)
	s.numbers[n] = fake
	return fake
}

func (s *sanitizer) value(key, v string) string {
	switch strings.ToLower(key) {
	case "secret", "password":
		return "REDACTED"
	}
	v = ipPattern.ReplaceAllStringFunc(v, func(ip string) string {
		if ip == "127.0.0.1" {
			return ip
		}
		return "10.0.0.1"
	})
	if numberKey(key) {
		v = phonePattern.ReplaceAllStringFunc(v, s.number)
	}
	return v
}

func (s *sanitizer) event(evt ami.Event) ami.Event {
	headers := evt.Headers()
	kvs := make([]string, 0, 2*len(headers))
	for _, h := range headers {
		kvs = append(kvs, h.Key, s.value(h.Key, h.Value))
	}
	return ami.NewEvent(kvs...)
}

// sanitize rewrites a capture. A leading banner line is kept.
func sanitize(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := ami.NewWriter(&buf)

	first, _, _ := bytes.Cut(data, []byte("\n"))
	if banner := strings.TrimSpace(string(first)); banner != "" && !strings.Contains(banner, ":") {
		if err := w.Write(ami.NewEvent("", banner)); err != nil {
			return nil, err
		}
	}

	s := newSanitizer()
	for _, evt := range ami.ParseBytes(data) {
		if err := w.Write(s.event(evt)); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path+".bak", data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	clean, err := sanitize(data)
	if err != nil {
		return fmt.Errorf("sanitize %s: %w", path, err)
	}
	return os.WriteFile(path, clean, 0o644)
}
