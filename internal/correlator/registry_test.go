package correlator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUpsertAndFind(t *testing.T) {
	r := NewRegistry()

	ch, created := r.Upsert("1.1", func(c *Channel) { c.Name = "PJSIP/201-00000001" })
	require.True(t, created)
	assert.Equal(t, "1.1", ch.UniqueID)

	again, created := r.Upsert("1.1", func(c *Channel) { c.State = StateRinging })
	assert.False(t, created)
	assert.Same(t, ch, again)
	assert.Equal(t, "PJSIP/201-00000001", again.Name)
	assert.Equal(t, StateRinging, again.State)

	_, ok := r.Find("1.2")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryCallMembership(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Upsert("1.1", nil)
	b, _ := r.Upsert("1.2", nil)
	c, _ := r.Upsert("2.1", nil)

	first := newCall("1.1")
	second := newCall("2.1")
	r.addCall(first)
	r.addCall(second)
	r.Link(b, first)
	r.Link(a, first)
	r.Link(a, first)
	r.Link(c, second)

	assert.Equal(t, 2, first.members)
	chans := r.ChannelsOfCall("1.1")
	require.Len(t, chans, 2)
	assert.Equal(t, "1.1", chans[0].UniqueID)
	assert.Equal(t, "1.2", chans[1].UniqueID)

	moved := r.Relink("1.1", second)
	assert.Equal(t, 2, moved)
	assert.Empty(t, r.ChannelsOfCall("1.1"))
	assert.Len(t, r.ChannelsOfCall("2.1"), 3)
	assert.Equal(t, 3, second.members)

	r.removeCall("1.1")
	assert.Equal(t, []string{"2.1"}, r.CallIDs())
	assert.Equal(t, 1, r.Calls())
}

func TestRegistryBridges(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Upsert("1.1", nil)
	b, _ := r.Upsert("1.2", nil)

	r.Enter(a, "b1")
	r.Enter(b, "b1")
	assert.Len(t, r.ChannelsOfBridge("b1"), 2)

	// Entering another bridge leaves the first.
	r.Enter(b, "b2")
	assert.Equal(t, "b2", b.BridgeID)
	members := r.ChannelsOfBridge("b1")
	require.Len(t, members, 1)
	assert.Equal(t, "1.1", members[0].UniqueID)

	left := r.Leave(a)
	require.NotNil(t, left)
	assert.Equal(t, "b1", left.ID)
	assert.Empty(t, a.BridgeID)
	_, ok := r.Bridge("b1")
	assert.False(t, ok, "empty bridge should be dropped")

	r.Remove("1.2")
	_, ok = r.Bridge("b2")
	assert.False(t, ok, "removing the last member drops the bridge")
	assert.Nil(t, r.ChannelsOfBridge("b2"))
	assert.Equal(t, 1, r.Len())
}

func TestBridgeMembersSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"1.3", "1.1", "1.2"} {
		ch, _ := r.Upsert(id, nil)
		r.Enter(ch, "b1")
	}
	b, ok := r.Bridge("b1")
	require.True(t, ok)
	assert.Equal(t, []string{"1.1", "1.2", "1.3"}, b.Members())
}

func TestCallTargets(t *testing.T) {
	c := newCall("1.1")
	assert.True(t, c.addTarget("1.3", cid("205", "")))
	assert.True(t, c.addTarget("1.2", cid("203", "")))
	assert.False(t, c.addTarget("1.2", cid("203", "")))

	list := c.targetList()
	require.Len(t, list, 2)
	assert.Equal(t, "203", list[0].Code)

	c.dropTarget("1.3")
	assert.Equal(t, []string{"1.2"}, c.targetOrder)
	c.clearTargets()
	assert.Empty(t, c.Targets)
	assert.False(t, c.answered())
}

func TestSortByCodeDoesNotMutate(t *testing.T) {
	in := []CallerID{cid("205", ""), cid("203", "B"), cid("203", "A")}
	out := SortByCode(in)

	assert.Equal(t, "205", in[0].Code)
	assert.Equal(t, []string{"203", "203", "205"}, []string{out[0].Code, out[1].Code, out[2].Code})
	assert.Equal(t, "A", out[0].Name)
}

func TestParseChannelState(t *testing.T) {
	cases := map[string]ChannelState{
		"Down":    StateCreated,
		"Ring":    StateRinging,
		"Ringing": StateRinging,
		"Up":      StateUp,
	}
	for desc, want := range cases {
		got, ok := parseChannelState(desc)
		assert.True(t, ok, desc)
		assert.Equal(t, want, got, desc)
	}
	_, ok := parseChannelState("Mute")
	assert.False(t, ok)
	assert.Equal(t, "bridged", StateBridged.String())
	assert.Equal(t, "transferring", StatusTransferring.String())
}

func TestCallerIDString(t *testing.T) {
	assert.Equal(t, "201", cid("201", "").String())
	assert.Equal(t, `"Reception" <201>`, cid("201", "Reception").String())
	assert.Equal(t, `201 [ACC1]`, CallerID{Code: "ACC1", Number: "201"}.String())
	assert.True(t, CallerID{}.IsZero())
}
