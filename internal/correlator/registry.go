package correlator

import "sort"

// Registry owns every live channel, call and bridge, keyed by their stable
// identifiers. Channels refer to calls and bridges by id only.
// A Registry is not safe for concurrent use.
type Registry struct {
	channels map[string]*Channel
	calls    map[string]*Call
	bridges  map[string]*Bridge
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		calls:    make(map[string]*Call),
		bridges:  make(map[string]*Bridge),
	}
}

// Upsert returns the channel for uniqueID, creating it if unseen. update,
// when non-nil, is applied in both cases.
func (r *Registry) Upsert(uniqueID string, update func(*Channel)) (*Channel, bool) {
	ch, ok := r.channels[uniqueID]
	if !ok {
		ch = &Channel{UniqueID: uniqueID}
		r.channels[uniqueID] = ch
	}
	if update != nil {
		update(ch)
	}
	return ch, !ok
}

// Find looks up a channel.
func (r *Registry) Find(uniqueID string) (*Channel, bool) {
	ch, ok := r.channels[uniqueID]
	return ch, ok
}

// Remove deletes a channel, dropping it from its bridge.
func (r *Registry) Remove(uniqueID string) {
	ch, ok := r.channels[uniqueID]
	if !ok {
		return
	}
	if ch.BridgeID != "" {
		r.Leave(ch)
	}
	delete(r.channels, uniqueID)
}

// Len returns the number of channels held.
func (r *Registry) Len() int {
	return len(r.channels)
}

// ChannelsOfCall returns the channels linked to callID, sorted by uniqueid.
func (r *Registry) ChannelsOfCall(callID string) []*Channel {
	var out []*Channel
	for _, ch := range r.channels {
		if ch.CallID == callID {
			out = append(out, ch)
		}
	}
	sortChannels(out)
	return out
}

// ChannelsOfBridge returns the channels in bridgeID, sorted by uniqueid.
func (r *Registry) ChannelsOfBridge(bridgeID string) []*Channel {
	b, ok := r.bridges[bridgeID]
	if !ok {
		return nil
	}
	out := make([]*Channel, 0, len(b.members))
	for id := range b.members {
		if ch, ok := r.channels[id]; ok {
			out = append(out, ch)
		}
	}
	sortChannels(out)
	return out
}

// Call returns the call with the given id.
func (r *Registry) Call(id string) (*Call, bool) {
	c, ok := r.calls[id]
	return c, ok
}

// Calls returns the number of calls held.
func (r *Registry) Calls() int {
	return len(r.calls)
}

func (r *Registry) addCall(c *Call) {
	r.calls[c.ID] = c
}

func (r *Registry) removeCall(id string) {
	delete(r.calls, id)
}

// Link attaches ch to call.
func (r *Registry) Link(ch *Channel, call *Call) {
	if ch.CallID == call.ID {
		return
	}
	ch.CallID = call.ID
	call.members++
}

// Relink moves every channel of call from onto call to and returns how many
// moved.
func (r *Registry) Relink(from string, to *Call) int {
	n := 0
	for _, ch := range r.channels {
		if ch.CallID == from {
			ch.CallID = to.ID
			to.members++
			n++
		}
	}
	return n
}

// Bridge returns the bridge with the given id.
func (r *Registry) Bridge(id string) (*Bridge, bool) {
	b, ok := r.bridges[id]
	return b, ok
}

// Enter puts ch into bridgeID, leaving any bridge it was in before.
func (r *Registry) Enter(ch *Channel, bridgeID string) *Bridge {
	if ch.BridgeID != "" && ch.BridgeID != bridgeID {
		r.Leave(ch)
	}
	b, ok := r.bridges[bridgeID]
	if !ok {
		b = &Bridge{ID: bridgeID, members: make(map[string]struct{})}
		r.bridges[bridgeID] = b
	}
	b.members[ch.UniqueID] = struct{}{}
	ch.BridgeID = bridgeID
	return b
}

// Leave takes ch out of its bridge and returns that bridge. Empty bridges
// are dropped from the registry but still returned.
func (r *Registry) Leave(ch *Channel) *Bridge {
	b, ok := r.bridges[ch.BridgeID]
	ch.BridgeID = ""
	if !ok {
		return nil
	}
	delete(b.members, ch.UniqueID)
	if len(b.members) == 0 {
		delete(r.bridges, b.ID)
	}
	return b
}

func sortChannels(chs []*Channel) {
	sort.Slice(chs, func(i, j int) bool { return chs[i].UniqueID < chs[j].UniqueID })
}

// CallIDs returns the ids of all calls held, sorted.
func (r *Registry) CallIDs() []string {
	ids := make([]string, 0, len(r.calls))
	for id := range r.calls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
