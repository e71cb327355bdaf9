package cond

import (
	"github.com/INLOpen/nexusevent/core"
)

// DocQuery is a flattened condition tree split for the reader's two-phase
// filter: Inner leaves only need the record header, Extra leaves need the
// decoded payload.
type DocQuery struct {
	Inner []Cond
	Extra []Cond
}

// Flatten classifies every leaf of c. Routing columns (domain_, name_) are
// dropped because the store resolves them from file paths.
func (c Cond) Flatten() *DocQuery {
	q := &DocQuery{}
	for _, leaf := range c.Leaves() {
		switch {
		case isRouting(leaf.col):
		case IsInner(leaf.col):
			q.Inner = append(q.Inner, leaf)
		default:
			q.Extra = append(q.Extra, leaf)
		}
	}
	return q
}

// HasExtra reports whether matching requires payload decoding.
func (q *DocQuery) HasExtra() bool {
	return q != nil && len(q.Extra) > 0
}

// Len returns the number of leaves.
func (q *DocQuery) Len() int {
	if q == nil {
		return 0
	}
	return len(q.Inner) + len(q.Extra)
}

// HeaderValue returns the value of an inner column taken from h.
func HeaderValue(h *core.RecordHeader, col string) (Value, bool) {
	switch col {
	case ColSeq:
		return core.IntValue(h.Seq), true
	case ColTime:
		return core.IntValue(h.Timestamp), true
	case ColTZ:
		return core.UintValue(uint64(h.TZ)), true
	case ColUID:
		return core.UintValue(uint64(h.UID)), true
	case ColPID:
		return core.UintValue(uint64(h.PID)), true
	case ColTID:
		return core.UintValue(uint64(h.TID)), true
	}
	return Value{}, false
}

// MatchInner evaluates the inner leaves against a record header.
func (q *DocQuery) MatchInner(h *core.RecordHeader) bool {
	if q == nil {
		return true
	}
	for _, c := range q.Inner {
		v, ok := HeaderValue(h, c.col)
		if !ok || !c.Match(v) {
			return false
		}
	}
	return true
}

// MatchExtra evaluates the extra leaves against decoded payload parameters.
// A missing parameter never matches.
func (q *DocQuery) MatchExtra(params core.Params) bool {
	if q == nil {
		return true
	}
	for _, c := range q.Extra {
		v, ok := params.Get(c.col)
		if !ok || !c.Match(v) {
			return false
		}
	}
	return true
}
