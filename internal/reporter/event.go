// Package reporter provides consumers for the correlator's call events.
//
// The correlator calls five methods; most consumers only want one value per
// event. Adapter turns the callbacks into Event values and hands them to a
// Sink, so a consumer implements a single Handle method.
package reporter

import (
	"time"

	"github.com/sweeney/asterisk-callflow/internal/correlator"
)

// Event is one semantic call event. Fields that do not apply to Kind are
// left zero.
type Event struct {
	Kind         string                `json:"event"`
	CallID       string                `json:"call_id"`
	MergedCallID string                `json:"merged_call_id,omitempty"`
	Caller       correlator.CallerID   `json:"caller"`
	Callee       *correlator.CallerID  `json:"callee,omitempty"`
	Redirector   *correlator.CallerID  `json:"redirector,omitempty"`
	DialedNumber string                `json:"dialed_number,omitempty"`
	Targets      []correlator.CallerID `json:"targets,omitempty"`
	Reason       string                `json:"reason,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}

// Sink consumes Events.
type Sink interface {
	Handle(Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Handle(evt Event) error { return f(evt) }

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Adapter implements correlator.Reporter on top of a Sink.
type Adapter struct {
	sink  Sink
	clock Clock
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithClock sets the time source used to stamp events.
func WithClock(c Clock) AdapterOption {
	return func(a *Adapter) { a.clock = c }
}

// Adapt wraps sink as a correlator.Reporter.
func Adapt(sink Sink, opts ...AdapterOption) *Adapter {
	a := &Adapter{sink: sink, clock: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ correlator.Reporter = (*Adapter)(nil)

func (a *Adapter) OnDial(callID string, caller correlator.CallerID, dialedNumber string, targets []correlator.CallerID) error {
	return a.sink.Handle(Event{
		Kind:         correlator.KindDial,
		CallID:       callID,
		Caller:       caller,
		DialedNumber: dialedNumber,
		Targets:      copyIDs(targets),
		Timestamp:    a.clock(),
	})
}

func (a *Adapter) OnUp(callID string, caller correlator.CallerID, dialedNumber string, callee correlator.CallerID) error {
	return a.sink.Handle(Event{
		Kind:         correlator.KindUp,
		CallID:       callID,
		Caller:       caller,
		Callee:       &callee,
		DialedNumber: dialedNumber,
		Timestamp:    a.clock(),
	})
}

func (a *Adapter) OnWarmTransfer(newCallID, mergedCallID string, redirector, caller, callee correlator.CallerID) error {
	return a.sink.Handle(Event{
		Kind:         correlator.KindWarmTransfer,
		CallID:       newCallID,
		MergedCallID: mergedCallID,
		Caller:       caller,
		Callee:       &callee,
		Redirector:   &redirector,
		Timestamp:    a.clock(),
	})
}

func (a *Adapter) OnColdTransfer(newCallID, mergedCallID string, redirector, caller correlator.CallerID, dialedNumber string, targets []correlator.CallerID) error {
	return a.sink.Handle(Event{
		Kind:         correlator.KindColdTransfer,
		CallID:       newCallID,
		MergedCallID: mergedCallID,
		Caller:       caller,
		Redirector:   &redirector,
		DialedNumber: dialedNumber,
		Targets:      copyIDs(targets),
		Timestamp:    a.clock(),
	})
}

func (a *Adapter) OnHangup(callID string, caller correlator.CallerID, dialedNumber, reason string) error {
	return a.sink.Handle(Event{
		Kind:         correlator.KindHangup,
		CallID:       callID,
		Caller:       caller,
		DialedNumber: dialedNumber,
		Reason:       reason,
		Timestamp:    a.clock(),
	})
}

func copyIDs(ids []correlator.CallerID) []correlator.CallerID {
	if ids == nil {
		return nil
	}
	out := make([]correlator.CallerID, len(ids))
	copy(out, ids)
	return out
}

// Multi fans an event out to several sinks in order, stopping at the first
// error.
type Multi []Sink

func (m Multi) Handle(evt Event) error {
	for _, s := range m {
		if err := s.Handle(evt); err != nil {
			return err
		}
	}
	return nil
}
