package correlator

// Wildcard admits every event type when present in a Filter.
const Wildcard = "*"

// InterestingEvents are the AMI event types the Engine acts on.
var InterestingEvents = []string{
	"Newchannel",
	"NewCallerid",
	"Rename",
	"VarSet",
	"Newstate",
	"DialBegin",
	"DialEnd",
	"BridgeEnter",
	"BridgeLeave",
	"AttendedTransfer",
	"BlindTransfer",
	"Hangup",
}

// Filter is a set of AMI event types.
type Filter map[string]struct{}

// NewFilter builds a Filter from event type names.
func NewFilter(types ...string) Filter {
	f := make(Filter, len(types))
	for _, t := range types {
		f[t] = struct{}{}
	}
	return f
}

// DefaultFilter admits InterestingEvents.
func DefaultFilter() Filter {
	return NewFilter(InterestingEvents...)
}

// Allows reports whether events of type t pass the filter.
func (f Filter) Allows(t string) bool {
	if _, ok := f[Wildcard]; ok {
		return true
	}
	_, ok := f[t]
	return ok
}
