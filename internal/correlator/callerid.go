package correlator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sweeney/asterisk-callflow/internal/ami"
)

// CallerID describes one party of a call. It is a value: two CallerIDs are
// equal when all four fields match.
type CallerID struct {
	Code   string `json:"code"`
	Name   string `json:"name,omitempty"`
	Number string `json:"number"`
	Public bool   `json:"public"`
}

func (c CallerID) String() string {
	s := c.Number
	if c.Name != "" {
		s = fmt.Sprintf("%q <%s>", c.Name, c.Number)
	}
	if c.Code != "" && c.Code != c.Number {
		s += " [" + c.Code + "]"
	}
	return s
}

// IsZero reports whether no identity is known.
func (c CallerID) IsZero() bool {
	return c.Code == "" && c.Name == "" && c.Number == ""
}

// SortByCode returns a copy of ids ordered by Code, then Number, then Name.
func SortByCode(ids []CallerID) []CallerID {
	out := make([]CallerID, len(ids))
	copy(out, ids)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// callerIDFromEvent reads the CallerID fields of evt. prefix selects the
// field family: "" for the channel itself, "Dest" for a dial destination.
func callerIDFromEvent(evt ami.Event, prefix string) CallerID {
	num := clean(evt.Get(prefix + "CallerIDNum"))
	code := clean(evt.Get(prefix + "AccountCode"))
	if code == "" {
		code = num
	}
	return CallerID{
		Code:   code,
		Name:   clean(evt.Get(prefix + "CallerIDName")),
		Number: num,
		Public: !strings.EqualFold(num, "anonymous"),
	}
}

// clean maps Asterisk's placeholder for an absent value to "".
func clean(v string) string {
	v = strings.TrimSpace(v)
	if v == "<unknown>" {
		return ""
	}
	return v
}

// presentationPublic interprets a CALLERPRES value such as
// "allowed_not_screened" or "prohib".
func presentationPublic(v string) bool {
	return !strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "prohib")
}
