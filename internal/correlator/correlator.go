// Package correlator turns a stream of AMI channel events into call
// lifecycle events: dial, up, warm transfer, cold transfer and hangup.
//
// An Engine is fed one raw event at a time, in arrival order. It keeps a
// Registry of the channels, calls and bridges that are still in flight and
// reports what it detects to a Reporter, synchronously. One Engine serves one
// event stream; it is not safe for concurrent use.
package correlator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"

	"github.com/sweeney/asterisk-callflow/internal/ami"
	"github.com/sweeney/asterisk-callflow/internal/cause"
)

// Event kinds, as used in metrics and by reporters.
const (
	KindDial         = "dial"
	KindUp           = "up"
	KindWarmTransfer = "warm_transfer"
	KindColdTransfer = "cold_transfer"
	KindHangup       = "hangup"
)

const tombstoneCapacity = 4096

// Engine is the correlation state machine.
type Engine struct {
	reg      *Registry
	reporter Reporter
	filter   Filter
	log      *logrus.Entry
	metrics  *engineMetrics
	mp       metric.MeterProvider

	// pending lists calls with an unreported dial round, oldest first.
	pending []string
	// gone remembers uniqueids of purged channels so that late or
	// duplicated events about them are dropped instead of resurrecting them.
	gone *tombstones

	last    ami.Event
	hasLast bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for correlation gaps and debug tracing.
func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) { e.log = l }
}

// WithFilter replaces the default interest filter.
func WithFilter(f Filter) Option {
	return func(e *Engine) { e.filter = f }
}

// WithMeterProvider sets the OpenTelemetry meter provider. Defaults to the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.mp = mp }
}

// New creates an Engine reporting to r.
func New(r Reporter, opts ...Option) *Engine {
	if r == nil {
		r = NopReporter{}
	}
	e := &Engine{
		reg:      NewRegistry(),
		reporter: r,
		filter:   DefaultFilter(),
		gone:     newTombstones(tombstoneCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		e.log = logrus.NewEntry(l)
	}
	e.metrics = newEngineMetrics(e.mp)
	return e
}

// Registry exposes the engine's state for inspection.
func (e *Engine) Registry() *Registry {
	return e.reg
}

// ActiveCalls returns the number of calls currently being tracked.
func (e *Engine) ActiveCalls() int {
	return e.reg.Calls()
}

// LiveChannels returns the number of channels currently being tracked.
func (e *Engine) LiveChannels() int {
	return e.reg.Len()
}

// Run pulls events from src until it is exhausted, then flushes pending
// dials and drops calls that already ended. ctx is checked between events; a
// blocked src is not interrupted here.
func (e *Engine) Run(ctx context.Context, src ami.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		evt, ok := src.Next()
		if !ok {
			break
		}
		if err := e.Process(evt); err != nil {
			return err
		}
	}
	if err := e.Flush(); err != nil {
		return err
	}
	e.reap()
	if err := src.Err(); err != nil {
		return fmt.Errorf("event source: %w", err)
	}
	return nil
}

// Flush reports dial rounds still waiting for their closing event. Call it
// at the end of a finite stream.
func (e *Engine) Flush() error {
	return e.flushDials("")
}

// Process ingests one AMI event.
func (e *Engine) Process(evt ami.Event) error {
	if evt.IsResponse() || !e.filter.Allows(evt.Type()) {
		return nil
	}
	if e.hasLast && evt.Equal(e.last) {
		e.log.WithField("event", evt.Type()).Debug("dropping duplicate event")
		return nil
	}
	e.last, e.hasLast = evt, true
	e.metrics.recordProcessed(evt.Type())

	// A dial round is complete once anything other than another DialBegin
	// arrives.
	if evt.Type() != "DialBegin" {
		if err := e.flushDials(""); err != nil {
			return err
		}
	}

	switch evt.Type() {
	case "Newchannel":
		return e.handleNewchannel(evt)
	case "NewCallerid":
		return e.handleNewCallerid(evt)
	case "Rename":
		return e.handleRename(evt)
	case "VarSet":
		return e.handleVarSet(evt)
	case "Newstate":
		return e.handleNewstate(evt)
	case "DialBegin":
		return e.handleDialBegin(evt)
	case "DialEnd":
		return e.handleDialEnd(evt)
	case "BridgeEnter":
		return e.handleBridgeEnter(evt)
	case "BridgeLeave":
		return e.handleBridgeLeave(evt)
	case "AttendedTransfer":
		return e.handleAttendedTransfer(evt)
	case "BlindTransfer":
		return e.handleBlindTransfer(evt)
	case "Hangup":
		return e.handleHangup(evt)
	default:
		return nil
	}
}

// channel returns the channel uniqueID refers to, creating it (and its call)
// from evt when unseen. It returns nil for empty or purged ids.
func (e *Engine) channel(evt ami.Event, uniqueID string) *Channel {
	if uniqueID == "" || e.gone.has(uniqueID) {
		return nil
	}
	ch, created := e.reg.Upsert(uniqueID, nil)
	if !created {
		return ch
	}

	ch.Name = evt.Get("Channel")
	ch.CallerID = callerIDFromEvent(evt, "")
	ch.Exten = clean(evt.Get("Exten"))
	if st, ok := parseChannelState(evt.Get("ChannelStateDesc")); ok {
		ch.State = st
	}

	callID := evt.Get("Linkedid")
	if callID == "" {
		callID = uniqueID
	}
	call, ok := e.reg.Call(callID)
	if !ok || call.ended {
		if ok {
			// Linkedid reused after the call ended: start afresh under
			// the channel's own id.
			callID = uniqueID
		}
		call = newCall(callID)
		call.Caller = ch.CallerID
		call.DialedNumber = ch.Exten
		call.callerChan = uniqueID
		e.reg.addCall(call)
	}
	e.reg.Link(ch, call)
	return ch
}

func (e *Engine) callOf(ch *Channel) *Call {
	if ch == nil {
		return nil
	}
	call, _ := e.reg.Call(ch.CallID)
	return call
}

func (e *Engine) gap(evt ami.Event, uniqueID, why string) {
	e.metrics.recordGap(evt.Type())
	e.log.WithFields(logrus.Fields{
		"event":    evt.Type(),
		"uniqueid": uniqueID,
	}).Warn("correlation gap: " + why)
}

func (e *Engine) handleNewchannel(evt ami.Event) error {
	uid := evt.Get("Uniqueid")
	ch := e.channel(evt, uid)
	if ch == nil {
		return nil
	}
	if ch.Name == "" {
		ch.Name = evt.Get("Channel")
	}
	if ch.Exten == "" {
		ch.Exten = clean(evt.Get("Exten"))
	}
	return nil
}

func (e *Engine) handleNewCallerid(evt ami.Event) error {
	ch := e.channel(evt, evt.Get("Uniqueid"))
	if ch == nil {
		return nil
	}
	id := callerIDFromEvent(evt, "")
	id.Public = id.Public && ch.CallerID.Public
	e.setIdentity(ch, id)
	return nil
}

func (e *Engine) handleRename(evt ami.Event) error {
	ch := e.channel(evt, evt.Get("Uniqueid"))
	if ch == nil {
		return nil
	}
	if name := evt.Get("Newname"); name != "" {
		ch.Name = name
	}
	return nil
}

func (e *Engine) handleVarSet(evt ami.Event) error {
	switch evt.Get("Variable") {
	case "CALLERPRES", "__CALLERPRES", "CALLERID(pres)", "CALLERID(num-pres)":
	default:
		return nil
	}
	ch := e.channel(evt, evt.Get("Uniqueid"))
	if ch == nil {
		return nil
	}
	id := ch.CallerID
	id.Public = presentationPublic(evt.Get("Value"))
	e.setIdentity(ch, id)
	return nil
}

// setIdentity updates a channel's CallerID and every place it was copied to.
func (e *Engine) setIdentity(ch *Channel, id CallerID) {
	ch.CallerID = id
	call := e.callOf(ch)
	if call == nil {
		return
	}
	if call.callerChan == ch.UniqueID {
		call.Caller = id
	}
	if _, ok := call.Targets[ch.UniqueID]; ok {
		call.Targets[ch.UniqueID] = id
	}
}

func (e *Engine) handleNewstate(evt ami.Event) error {
	ch := e.channel(evt, evt.Get("Uniqueid"))
	if ch == nil || !ch.Live() {
		return nil
	}
	st, ok := parseChannelState(evt.Get("ChannelStateDesc"))
	if !ok {
		return nil
	}

	switch st {
	case StateRinging:
		if ch.State < StateRinging {
			ch.State = StateRinging
		}
		if call := e.callOf(ch); call != nil && ch.Target && call.Status == StatusDialing {
			call.Status = StatusRinging
		}
	case StateUp:
		return e.answer(ch)
	}
	return nil
}

// answer marks ch Up and, when it is the first destination of its call to
// pick up, reports the call as up and abandons the other targets.
func (e *Engine) answer(ch *Channel) error {
	if ch.State < StateUp {
		ch.State = StateUp
	}
	call := e.callOf(ch)
	if call == nil || !ch.Target || call.upEmitted || call.ended {
		return nil
	}

	call.upEmitted = true
	call.Status = StatusUp
	call.clearTargets()
	callee := ch.CallerID

	return e.emit(KindUp, func() error {
		return e.reporter.OnUp(call.ID, call.Caller, call.DialedNumber, callee)
	})
}

func (e *Engine) handleDialBegin(evt ami.Event) error {
	dstID := evt.Get("DestUniqueid")
	src := e.channel(evt, evt.Get("Uniqueid"))
	if src == nil || dstID == "" {
		return e.flushDials("")
	}
	call := e.callOf(src)
	if call == nil {
		return e.flushDials("")
	}
	if err := e.flushDials(call.ID); err != nil {
		return err
	}
	if call.ended || e.gone.has(dstID) {
		return nil
	}

	dst, _ := e.reg.Upsert(dstID, nil)
	if dst.Name == "" {
		dst.Name = evt.Get("DestChannel")
	}
	if id := callerIDFromEvent(evt, "Dest"); !id.IsZero() {
		dst.CallerID = id
	}
	if exten := clean(evt.Get("DestExten")); exten != "" {
		dst.Exten = exten
	}
	dst.Target = true
	if dst.CallID != call.ID {
		if prev, ok := e.reg.Call(dst.CallID); ok && prev.members <= 1 {
			// The destination's Newchannel opened a call of its own.
			e.reg.removeCall(prev.ID)
		}
		e.reg.Link(dst, call)
	}

	if call.DialedNumber == "" {
		call.DialedNumber = dialedNumber(evt)
	}
	if call.blind != nil && call.blind.exten == "" {
		call.blind.exten = dialedNumber(evt)
	}
	if !call.addTarget(dstID, dst.CallerID) {
		return nil
	}
	if !call.dialPending {
		call.dialPending = true
		e.pending = append(e.pending, call.ID)
	}
	return nil
}

// dialedNumber takes the number from a DialString such as
// "PJSIP/203" or "SIP/trunk/0612345678", falling back to DestExten.
func dialedNumber(evt ami.Event) string {
	ds := evt.Get("DialString")
	if slash := strings.LastIndexByte(ds, '/'); slash >= 0 {
		ds = ds[slash+1:]
	}
	if at := strings.IndexByte(ds, '@'); at >= 0 {
		ds = ds[:at]
	}
	if ds != "" {
		return ds
	}
	return clean(evt.Get("DestExten"))
}

// flushDials reports every pending dial round except the one of call except.
func (e *Engine) flushDials(except string) error {
	if len(e.pending) == 0 {
		return nil
	}
	keep := e.pending[:0]
	var ready []*Call
	for _, id := range e.pending {
		call, ok := e.reg.Call(id)
		if !ok || !call.dialPending {
			continue
		}
		if id == except {
			keep = append(keep, id)
			continue
		}
		call.dialPending = false
		ready = append(ready, call)
	}
	e.pending = keep

	for _, call := range ready {
		if err := e.reportDial(call); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) reportDial(call *Call) error {
	if call.blind != nil {
		return e.completeBlindTransfer(call)
	}
	targets := call.targetList()
	if call.dialEmitted || call.upEmitted || len(targets) < 2 {
		return nil
	}
	call.dialEmitted = true

	return e.emit(KindDial, func() error {
		return e.reporter.OnDial(call.ID, call.Caller, call.DialedNumber, targets)
	})
}

func (e *Engine) handleDialEnd(evt ami.Event) error {
	dstID := evt.Get("DestUniqueid")
	dst, ok := e.reg.Find(dstID)
	if !ok {
		if !e.gone.has(dstID) {
			e.gap(evt, dstID, "dial end for unknown destination")
		}
		return nil
	}
	dst.DialStatus = evt.Get("DialStatus")
	if dst.DialStatus == "ANSWER" {
		return e.answer(dst)
	}
	return nil
}

func (e *Engine) handleHangup(evt ami.Event) error {
	uid := evt.Get("Uniqueid")
	ch, ok := e.reg.Find(uid)
	if !ok {
		if !e.gone.has(uid) {
			e.gap(evt, uid, "hangup for unknown channel")
		}
		return nil
	}
	if !ch.Live() {
		return nil
	}

	code := evt.GetInt("Cause")
	ch.State = StateHungup
	ch.Cause = code
	if ch.BridgeID != "" {
		e.reg.Leave(ch)
	}

	call := e.callOf(ch)
	if call == nil {
		e.purgeChannel(ch)
		return nil
	}
	if ch.Target && !call.upEmitted {
		call.dropTarget(uid)
	}

	live := 0
	for _, other := range e.reg.ChannelsOfCall(call.ID) {
		if other.Live() {
			live++
		}
	}

	if call.ended {
		if live == 0 {
			e.purgeCall(call)
		}
		return nil
	}

	// Once answered, a single party left has nobody to talk to, unless a
	// transfer is about to give it a new peer. An unanswered call may still
	// dial on, so it ends with its last channel.
	over := live == 0 || (live == 1 && call.members >= 2 && call.blind == nil && call.answered())
	if !over {
		return nil
	}

	call.ended = true
	call.Status = StatusHungup
	reason := cause.Reason(code)
	if live == 0 {
		e.purgeCall(call)
	}

	return e.emit(KindHangup, func() error {
		return e.reporter.OnHangup(call.ID, call.Caller, call.DialedNumber, reason)
	})
}

// reap runs when a stream ends. Calls already reported as ended are dropped
// even if the hangup of their last channel never arrived; calls still in
// progress are logged and kept for inspection.
func (e *Engine) reap() {
	for _, id := range e.reg.CallIDs() {
		call, ok := e.reg.Call(id)
		if !ok {
			continue
		}
		if call.ended {
			e.purgeCall(call)
			continue
		}
		e.log.WithFields(logrus.Fields{
			"call_id": call.ID,
			"status":  call.Status.String(),
		}).Warn("call still open at end of stream")
	}
}

func (e *Engine) purgeCall(call *Call) {
	for _, ch := range e.reg.ChannelsOfCall(call.ID) {
		e.purgeChannel(ch)
	}
	e.reg.removeCall(call.ID)
}

func (e *Engine) purgeChannel(ch *Channel) {
	e.reg.Remove(ch.UniqueID)
	e.gone.add(ch.UniqueID)
}

// emit delivers one semantic event and counts it.
func (e *Engine) emit(kind string, deliver func() error) error {
	if err := deliver(); err != nil {
		return fmt.Errorf("reporter %s: %w", kind, err)
	}
	e.metrics.recordEmitted(kind)
	return nil
}

// tombstones is a bounded FIFO set of uniqueids.
type tombstones struct {
	set  map[string]struct{}
	ring []string
	next int
}

func newTombstones(capacity int) *tombstones {
	return &tombstones{set: make(map[string]struct{}, capacity), ring: make([]string, capacity)}
}

func (t *tombstones) add(id string) {
	if _, ok := t.set[id]; ok {
		return
	}
	if old := t.ring[t.next]; old != "" {
		delete(t.set, old)
	}
	t.ring[t.next] = id
	t.set[id] = struct{}{}
	t.next = (t.next + 1) % len(t.ring)
}

func (t *tombstones) has(id string) bool {
	_, ok := t.set[id]
	return ok
}
