package correlator

// Reporter receives the semantic events the Engine detects. Methods are
// called synchronously in detection order; a returned error aborts
// processing of the current raw event and is handed back to the caller.
type Reporter interface {
	// OnDial fires once when a call is offered to two or more destinations.
	// targets is sorted by Code.
	OnDial(callID string, caller CallerID, dialedNumber string, targets []CallerID) error
	// OnUp fires once per call when the first destination answers.
	OnUp(callID string, caller CallerID, dialedNumber string, callee CallerID) error
	// OnWarmTransfer fires when a party of an answered call is replaced.
	OnWarmTransfer(newCallID, mergedCallID string, redirector, caller, callee CallerID) error
	// OnColdTransfer fires when an unanswered call is redirected.
	// targets is sorted by Code.
	OnColdTransfer(newCallID, mergedCallID string, redirector, caller CallerID, dialedNumber string, targets []CallerID) error
	// OnHangup fires once when the last party of a call is gone.
	OnHangup(callID string, caller CallerID, dialedNumber, reason string) error
}

// NopReporter implements Reporter by doing nothing. Embed it to implement
// only the callbacks you need.
type NopReporter struct{}

func (NopReporter) OnDial(string, CallerID, string, []CallerID) error { return nil }

func (NopReporter) OnUp(string, CallerID, string, CallerID) error { return nil }

func (NopReporter) OnWarmTransfer(string, string, CallerID, CallerID, CallerID) error { return nil }

func (NopReporter) OnColdTransfer(string, string, CallerID, CallerID, string, []CallerID) error {
	return nil
}

func (NopReporter) OnHangup(string, CallerID, string, string) error { return nil }
