package correlator

import "github.com/sweeney/asterisk-callflow/internal/ami"

// Transfers are recognised two ways. Bridge membership alone is enough for
// a warm transfer: a party of an answered call leaves a bridge and a channel
// of another call takes its place, in either order. Asterisk also announces
// transfers explicitly (AttendedTransfer, BlindTransfer); those events carry
// enough to classify unanswered targets as cold transfers. Whichever signal
// arrives first merges the calls, which turns the other into a no-op.

func (e *Engine) handleBridgeEnter(evt ami.Event) error {
	bridgeID := evt.Get("BridgeUniqueid")
	ch := e.channel(evt, evt.Get("Uniqueid"))
	if ch == nil || bridgeID == "" || ch.BridgeID == bridgeID || !ch.Live() {
		return nil
	}

	b := e.reg.Enter(ch, bridgeID)
	if ch.State < StateBridged {
		ch.State = StateBridged
	}

	if b.departed != "" {
		leaver, _ := e.reg.Find(b.departed)
		b.departed = ""
		if leaver != nil {
			if stayer := e.stayer(b, leaver, ch); stayer != nil {
				return e.warmTransfer(leaver, stayer, ch)
			}
		}
	}

	if len(b.members) > 2 {
		b.joiner = ch.UniqueID
	}
	return nil
}

func (e *Engine) handleBridgeLeave(evt ami.Event) error {
	uid := evt.Get("Uniqueid")
	ch, ok := e.reg.Find(uid)
	if !ok {
		if !e.gone.has(uid) {
			e.gap(evt, uid, "bridge leave for unknown channel")
		}
		return nil
	}
	bridgeID := evt.Get("BridgeUniqueid")
	if ch.BridgeID == "" || (bridgeID != "" && ch.BridgeID != bridgeID) {
		return nil
	}

	b := e.reg.Leave(ch)
	if ch.State == StateBridged {
		ch.State = StateUp
	}
	if b == nil {
		return nil
	}

	if b.joiner != "" && b.joiner != uid {
		joiner, _ := e.reg.Find(b.joiner)
		b.joiner = ""
		if joiner != nil && joiner.BridgeID == b.ID {
			if stayer := e.stayer(b, ch, joiner); stayer != nil {
				return e.warmTransfer(ch, stayer, joiner)
			}
		}
	}
	if b.joiner == uid {
		b.joiner = ""
	}
	b.departed = uid
	return nil
}

// stayer finds the bridge member that was talking to leaver and is now
// joined by a channel of a different, answered call.
func (e *Engine) stayer(b *Bridge, leaver, joiner *Channel) *Channel {
	if leaver.CallID == joiner.CallID {
		return nil
	}
	call := e.callOf(leaver)
	if call == nil || !call.answered() || call.ended {
		return nil
	}
	for _, id := range b.Members() {
		if id == joiner.UniqueID || id == leaver.UniqueID {
			continue
		}
		ch, ok := e.reg.Find(id)
		if ok && ch.Live() && ch.CallID == leaver.CallID {
			return ch
		}
	}
	return nil
}

// warmTransfer merges the stayer's call into the joiner's and reports it.
func (e *Engine) warmTransfer(leaver, stayer, joiner *Channel) error {
	merged := e.callOf(stayer)
	survivor := e.callOf(joiner)
	if merged == nil || survivor == nil || merged == survivor {
		return nil
	}

	redirector, caller, callee := leaver.CallerID, stayer.CallerID, joiner.CallerID
	e.merge(survivor, merged)
	survivor.Caller = caller
	survivor.callerChan = stayer.UniqueID
	survivor.Status = StatusUp
	survivor.upEmitted = true
	survivor.clearTargets()

	return e.emit(KindWarmTransfer, func() error {
		return e.reporter.OnWarmTransfer(survivor.ID, merged.ID, redirector, caller, callee)
	})
}

// coldTransfer hands the unanswered survivor call over to the transferee.
func (e *Engine) coldTransfer(survivor, merged *Call, redirector CallerID, transferee *Channel) error {
	caller := transferee.CallerID
	targets := survivor.targetList()

	e.merge(survivor, merged)
	survivor.Caller = caller
	survivor.callerChan = transferee.UniqueID
	survivor.dialEmitted = true
	if survivor.Status == StatusDialing {
		survivor.Status = StatusRinging
	}

	return e.emit(KindColdTransfer, func() error {
		return e.reporter.OnColdTransfer(survivor.ID, merged.ID, redirector, caller, survivor.DialedNumber, targets)
	})
}

// merge moves every channel of merged into survivor and forgets merged.
func (e *Engine) merge(survivor, merged *Call) {
	e.reg.Relink(merged.ID, survivor)
	e.reg.removeCall(merged.ID)
	if merged.blind != nil && survivor.blind == nil {
		survivor.blind = merged.blind
	}
}

func (e *Engine) handleAttendedTransfer(evt ami.Event) error {
	if evt.Get("Result") != "Success" {
		return nil
	}

	orig, okOrig := e.reg.Find(evt.Get("OrigTransfererUniqueid"))
	transferee, okTransferee := e.reg.Find(evt.Get("TransfereeUniqueid"))
	if !okOrig || !okTransferee {
		e.gap(evt, evt.Get("TransfereeUniqueid"), "attended transfer between unknown channels")
		return nil
	}
	second, _ := e.reg.Find(evt.Get("SecondTransfererUniqueid"))
	target, _ := e.reg.Find(evt.Get("TransferTargetUniqueid"))

	merged := e.callOf(transferee)
	survivor := e.callOf(second)
	if survivor == nil {
		survivor = e.callOf(target)
	}
	if merged == nil || survivor == nil || merged == survivor {
		return nil
	}

	if survivor.answered() {
		var callee CallerID
		if target != nil {
			callee = target.CallerID
		}
		redirector, caller := orig.CallerID, transferee.CallerID
		e.merge(survivor, merged)
		survivor.Caller = caller
		survivor.callerChan = transferee.UniqueID
		survivor.Status = StatusUp
		survivor.upEmitted = true
		survivor.clearTargets()
		return e.emit(KindWarmTransfer, func() error {
			return e.reporter.OnWarmTransfer(survivor.ID, merged.ID, redirector, caller, callee)
		})
	}
	return e.coldTransfer(survivor, merged, orig.CallerID, transferee)
}

func (e *Engine) handleBlindTransfer(evt ami.Event) error {
	if evt.Get("Result") != "Success" {
		return nil
	}
	transferer, okTransferer := e.reg.Find(evt.Get("TransfererUniqueid"))
	transferee, okTransferee := e.reg.Find(evt.Get("TransfereeUniqueid"))
	if !okTransferer || !okTransferee {
		e.gap(evt, evt.Get("TransfereeUniqueid"), "blind transfer between unknown channels")
		return nil
	}
	call := e.callOf(transferee)
	if call == nil || call.ended {
		return nil
	}

	call.blind = &blindTransfer{
		redirector: transferer.CallerID,
		transferee: transferee.UniqueID,
		exten:      clean(evt.Get("Extension")),
	}
	call.Status = StatusTransferring
	call.clearTargets()
	return nil
}

// completeBlindTransfer runs when the transferee's new dial round is
// complete. The round becomes a call of its own, named after its first
// destination, that absorbs the transferred one.
func (e *Engine) completeBlindTransfer(call *Call) error {
	bt := call.blind
	if len(call.targetOrder) == 0 {
		return nil
	}
	transferee, ok := e.reg.Find(bt.transferee)
	if !ok {
		call.blind = nil
		return nil
	}

	survivor := newCall(call.targetOrder[0])
	survivor.DialedNumber = bt.exten
	survivor.Status = StatusRinging
	for _, uid := range call.targetOrder {
		survivor.addTarget(uid, call.Targets[uid])
	}
	e.reg.addCall(survivor)
	call.blind = nil

	return e.coldTransfer(survivor, call, bt.redirector, transferee)
}
