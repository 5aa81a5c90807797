package reporter

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Log writes one info line per event.
type Log struct {
	log *logrus.Entry
}

// NewLog creates a logging sink.
func NewLog(log *logrus.Entry) *Log {
	return &Log{log: log}
}

func (l *Log) Handle(evt Event) error {
	fields := logrus.Fields{
		"call_id": evt.CallID,
		"caller":  evt.Caller.String(),
	}
	if evt.MergedCallID != "" {
		fields["merged_call_id"] = evt.MergedCallID
	}
	if evt.Callee != nil {
		fields["callee"] = evt.Callee.String()
	}
	if evt.Redirector != nil {
		fields["redirector"] = evt.Redirector.String()
	}
	if evt.DialedNumber != "" {
		fields["dialed"] = evt.DialedNumber
	}
	if len(evt.Targets) > 0 {
		codes := make([]string, len(evt.Targets))
		for i, t := range evt.Targets {
			codes[i] = t.Code
		}
		fields["targets"] = strings.Join(codes, ",")
	}
	if evt.Reason != "" {
		fields["reason"] = evt.Reason
	}
	l.log.WithFields(fields).Info(evt.Kind)
	return nil
}
