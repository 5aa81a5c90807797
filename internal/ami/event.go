package ami

import (
	"sort"
	"strconv"
	"strings"
)

// Event is one AMI message: an ordered list of headers with the Event
// discriminator among them. Lookups are exact-key; duplicate keys keep the
// first occurrence.
type Event struct {
	headers []Header
}

// Header is a single "Key: Value" line.
type Header struct {
	Key   string
	Value string
}

// NewEvent creates an Event from alternating key, value strings.
// A trailing key without a value is dropped.
func NewEvent(kvs ...string) Event {
	e := Event{}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, Header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// FromMap creates an Event from a decoded JSON object. Keys are sorted with
// "Event" first so the result does not depend on map iteration order.
func FromMap(m map[string]string) Event {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "Event" || keys[j] == "Event" {
			return keys[i] == "Event"
		}
		return keys[i] < keys[j]
	})

	e := Event{headers: make([]Header, 0, len(keys))}
	for _, k := range keys {
		e.headers = append(e.headers, Header{Key: k, Value: m[k]})
	}
	return e
}

// Get returns the value for the given key, or empty string if not found.
func (e Event) Get(key string) string {
	v, _ := e.Lookup(key)
	return v
}

// Lookup returns the value for key and whether the header was present.
func (e Event) Lookup(key string) (string, bool) {
	for _, h := range e.headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// Type returns the Event header value (the AMI event type).
func (e Event) Type() string {
	return e.Get("Event")
}

// GetInt returns the integer value for the given key, or 0 if not found/parseable.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(e.Get(key)))
	return v
}

// Headers returns all headers in arrival order.
func (e Event) Headers() []Header {
	return e.headers
}

// Map returns the headers as a map, for JSON encoding of recordings.
func (e Event) Map() map[string]string {
	m := make(map[string]string, len(e.headers))
	for _, h := range e.headers {
		if _, dup := m[h.Key]; !dup {
			m[h.Key] = h.Value
		}
	}
	return m
}

// IsResponse returns true if this is an AMI response rather than an event.
func (e Event) IsResponse() bool {
	return e.Get("Response") != ""
}

// Equal reports whether two events carry the same headers in the same order.
func (e Event) Equal(o Event) bool {
	if len(e.headers) != len(o.headers) {
		return false
	}
	for i := range e.headers {
		if e.headers[i] != o.headers[i] {
			return false
		}
	}
	return true
}
