package correlator

import (
	"sort"
	"strings"
)

// ChannelState is the signaling state of one channel.
type ChannelState int

const (
	StateCreated ChannelState = iota
	StateRinging
	StateUp
	StateBridged
	StateHungup
)

func (s ChannelState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRinging:
		return "ringing"
	case StateUp:
		return "up"
	case StateBridged:
		return "bridged"
	case StateHungup:
		return "hungup"
	default:
		return "unknown"
	}
}

// parseChannelState maps an AMI ChannelStateDesc to a ChannelState.
func parseChannelState(desc string) (ChannelState, bool) {
	switch strings.ToLower(desc) {
	case "down", "rsrvd", "offhook", "dialing", "pre-ring":
		return StateCreated, true
	case "ring", "ringing":
		return StateRinging, true
	case "up":
		return StateUp, true
	default:
		return StateCreated, false
	}
}

// CallStatus is the lifecycle phase of a Call.
type CallStatus int

const (
	StatusDialing CallStatus = iota
	StatusRinging
	StatusUp
	StatusTransferring
	StatusHungup
)

func (s CallStatus) String() string {
	switch s {
	case StatusDialing:
		return "dialing"
	case StatusRinging:
		return "ringing"
	case StatusUp:
		return "up"
	case StatusTransferring:
		return "transferring"
	case StatusHungup:
		return "hungup"
	default:
		return "unknown"
	}
}

// Channel is one leg of signaling, keyed by its AMI Uniqueid.
type Channel struct {
	UniqueID string
	Name     string
	CallerID CallerID
	Exten    string
	State    ChannelState
	CallID   string
	BridgeID string

	// Target is set on channels created by a dial.
	Target     bool
	DialStatus string
	Cause      int
}

// Live reports whether the channel has not hung up yet.
func (c *Channel) Live() bool {
	return c.State != StateHungup
}

// Call groups the channels of one logical conversation.
type Call struct {
	ID           string
	Caller       CallerID
	DialedNumber string
	Status       CallStatus

	// Targets holds the current dial round, keyed by destination uniqueid.
	Targets     map[string]CallerID
	targetOrder []string

	callerChan  string
	members     int
	dialPending bool
	dialEmitted bool
	upEmitted   bool
	ended       bool
	blind       *blindTransfer
}

type blindTransfer struct {
	redirector CallerID
	transferee string
	exten      string
}

func newCall(id string) *Call {
	return &Call{ID: id, Targets: map[string]CallerID{}}
}

func (c *Call) addTarget(uniqueID string, id CallerID) bool {
	if _, ok := c.Targets[uniqueID]; ok {
		return false
	}
	c.Targets[uniqueID] = id
	c.targetOrder = append(c.targetOrder, uniqueID)
	return true
}

func (c *Call) dropTarget(uniqueID string) {
	if _, ok := c.Targets[uniqueID]; !ok {
		return
	}
	delete(c.Targets, uniqueID)
	for i, id := range c.targetOrder {
		if id == uniqueID {
			c.targetOrder = append(c.targetOrder[:i], c.targetOrder[i+1:]...)
			break
		}
	}
}

func (c *Call) clearTargets() {
	c.Targets = map[string]CallerID{}
	c.targetOrder = nil
}

// targetList returns the current targets sorted by code.
func (c *Call) targetList() []CallerID {
	ids := make([]CallerID, 0, len(c.Targets))
	for _, uid := range c.targetOrder {
		ids = append(ids, c.Targets[uid])
	}
	return SortByCode(ids)
}

// answered reports whether any party of the call has picked up.
func (c *Call) answered() bool {
	return c.upEmitted || c.Status == StatusUp
}

// Bridge is a set of channels mixed together.
type Bridge struct {
	ID      string
	members map[string]struct{}

	// departed is the last member to leave, kept until the next arrival so a
	// replacement joining afterwards can be matched to it.
	departed string
	// joiner arrived while two or more members were present; the next
	// departure completes the swap.
	joiner string
}

// Members returns the uniqueids in the bridge, sorted.
func (b *Bridge) Members() []string {
	out := make([]string, 0, len(b.members))
	for id := range b.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
