package correlator

import (
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/sweeney/asterisk-callflow/internal/ami"
)

// reported is one callback received by recorder.
type reported struct {
	kind         string
	callID       string
	mergedCallID string
	caller       CallerID
	callee       CallerID
	redirector   CallerID
	dialed       string
	targets      []CallerID
	reason       string
}

type recorder struct {
	got []reported
	err error
}

func (r *recorder) add(ev reported) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, ev)
	return nil
}

func (r *recorder) OnDial(callID string, caller CallerID, dialed string, targets []CallerID) error {
	return r.add(reported{kind: KindDial, callID: callID, caller: caller, dialed: dialed, targets: targets})
}

func (r *recorder) OnUp(callID string, caller CallerID, dialed string, callee CallerID) error {
	return r.add(reported{kind: KindUp, callID: callID, caller: caller, dialed: dialed, callee: callee})
}

func (r *recorder) OnWarmTransfer(newCallID, mergedCallID string, redirector, caller, callee CallerID) error {
	return r.add(reported{kind: KindWarmTransfer, callID: newCallID, mergedCallID: mergedCallID,
		redirector: redirector, caller: caller, callee: callee})
}

func (r *recorder) OnColdTransfer(newCallID, mergedCallID string, redirector, caller CallerID, dialed string, targets []CallerID) error {
	return r.add(reported{kind: KindColdTransfer, callID: newCallID, mergedCallID: mergedCallID,
		redirector: redirector, caller: caller, dialed: dialed, targets: targets})
}

func (r *recorder) OnHangup(callID string, caller CallerID, dialed, reason string) error {
	return r.add(reported{kind: KindHangup, callID: callID, caller: caller, dialed: dialed, reason: reason})
}

func (r *recorder) kinds() []string {
	out := make([]string, len(r.got))
	for i, ev := range r.got {
		out[i] = ev.kind
	}
	return out
}

func (r *recorder) only(t *testing.T, kind string) reported {
	t.Helper()
	var found []reported
	for _, ev := range r.got {
		if ev.kind == kind {
			found = append(found, ev)
		}
	}
	require.Len(t, found, 1, "expected exactly one %s event", kind)
	return found[0]
}

// party describes a channel as the PBX would announce it.
type party struct {
	name   string
	num    string
	cname  string
	acct   string
	exten  string
	linked string
	state  string
}

// pbx builds AMI events for a handful of channels and feeds them to an
// Engine.
type pbx struct {
	t      *testing.T
	engine *Engine
	rec    *recorder
	reader *sdkmetric.ManualReader
	chans  map[string]*party
}

func newPBX(t *testing.T, opts ...Option) *pbx {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec := &recorder{}
	opts = append([]Option{WithMeterProvider(mp)}, opts...)
	return &pbx{
		t:      t,
		engine: New(rec, opts...),
		rec:    rec,
		reader: reader,
		chans:  map[string]*party{},
	}
}

func cid(code, name string) CallerID {
	return CallerID{Code: code, Name: name, Number: code, Public: true}
}

// channel registers uid; linked defaults to uid itself.
func (p *pbx) channel(uid, num, cname, exten, linked string) {
	if linked == "" {
		linked = uid
	}
	p.chans[uid] = &party{
		name:   "PJSIP/" + num + "-" + uid,
		num:    num,
		cname:  cname,
		exten:  exten,
		linked: linked,
		state:  "Down",
	}
}

func (p *pbx) fields(uid, prefix string) []string {
	c, ok := p.chans[uid]
	if !ok {
		return []string{prefix + "Uniqueid", uid}
	}
	return []string{
		prefix + "Channel", c.name,
		prefix + "ChannelStateDesc", c.state,
		prefix + "CallerIDNum", c.num,
		prefix + "CallerIDName", c.cname,
		prefix + "ConnectedLineNum", "<unknown>",
		prefix + "AccountCode", c.acct,
		prefix + "Exten", c.exten,
		prefix + "Uniqueid", uid,
		prefix + "Linkedid", c.linked,
	}
}

func (p *pbx) event(typ string, kvs ...string) ami.Event {
	return ami.NewEvent(append([]string{"Event", typ, "Privilege", "call,all"}, kvs...)...)
}

func (p *pbx) send(evt ami.Event) {
	p.t.Helper()
	require.NoError(p.t, p.engine.Process(evt))
}

func (p *pbx) newchannel(uid string) ami.Event {
	return p.event("Newchannel", p.fields(uid, "")...)
}

func (p *pbx) newstate(uid, state string) ami.Event {
	if c, ok := p.chans[uid]; ok {
		c.state = state
	}
	return p.event("Newstate", p.fields(uid, "")...)
}

func (p *pbx) dialBegin(src, dst string) ami.Event {
	kvs := append(p.fields(src, ""), p.fields(dst, "Dest")...)
	if c, ok := p.chans[dst]; ok {
		kvs = append(kvs, "DialString", c.num)
	}
	return p.event("DialBegin", kvs...)
}

func (p *pbx) dialEnd(src, dst, status string) ami.Event {
	kvs := append(p.fields(src, ""), p.fields(dst, "Dest")...)
	return p.event("DialEnd", append(kvs, "DialStatus", status)...)
}

func (p *pbx) hangup(uid string, cause string) ami.Event {
	return p.event("Hangup", append(p.fields(uid, ""), "Cause", cause)...)
}

func (p *pbx) bridgeEnter(uid, bridge string) ami.Event {
	return p.event("BridgeEnter", append(p.fields(uid, ""), "BridgeUniqueid", bridge)...)
}

func (p *pbx) bridgeLeave(uid, bridge string) ami.Event {
	return p.event("BridgeLeave", append(p.fields(uid, ""), "BridgeUniqueid", bridge)...)
}

func (p *pbx) attendedTransfer(orig, second, transferee, target string) ami.Event {
	return p.event("AttendedTransfer",
		"Result", "Success",
		"OrigTransfererUniqueid", orig,
		"SecondTransfererUniqueid", second,
		"TransfereeUniqueid", transferee,
		"TransferTargetUniqueid", target,
	)
}

func (p *pbx) blindTransfer(transferer, transferee, exten string) ami.Event {
	return p.event("BlindTransfer",
		"Result", "Success",
		"TransfererUniqueid", transferer,
		"TransfereeUniqueid", transferee,
		"Extension", exten,
	)
}

// answered sets up caller uid dialing a single target dst that answers, both
// in bridge.
func (p *pbx) answered(uid, dst, bridge string) {
	p.send(p.newchannel(uid))
	p.send(p.newchannel(dst))
	p.send(p.dialBegin(uid, dst))
	p.send(p.newstate(dst, "Ringing"))
	p.send(p.newstate(dst, "Up"))
	p.send(p.dialEnd(uid, dst, "ANSWER"))
	p.send(p.newstate(uid, "Up"))
	p.send(p.bridgeEnter(uid, bridge))
	p.send(p.bridgeEnter(dst, bridge))
}
