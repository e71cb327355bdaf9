package cond

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/INLOpen/nexusevent/core"
)

// Op is a comparison operator.
type Op int

const (
	OpNone Op = iota
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpSW  // starts with
	OpNSW // does not start with
)

var opSymbols = map[Op]string{
	OpEQ:  "=",
	OpNE:  "!=",
	OpLT:  "<",
	OpLE:  "<=",
	OpGT:  ">",
	OpGE:  ">=",
	OpSW:  "SW",
	OpNSW: "NSW",
}

func (o Op) String() string {
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return "NONE"
}

// Column names evaluated against the fixed record header.
const (
	ColSeq  = "seq_"
	ColTime = "time_"
	ColTZ   = "tz_"
	ColUID  = "uid_"
	ColPID  = "pid_"
	ColTID  = "tid_"

	// Routing columns are resolved by the query argument, not by the filter.
	ColDomain = "domain_"
	ColName   = "name_"
)

var innerColumns = map[string]struct{}{
	ColSeq: {}, ColTime: {}, ColTZ: {}, ColUID: {}, ColPID: {}, ColTID: {},
}

// IsInner reports whether col can be evaluated from the record header alone.
func IsInner(col string) bool {
	_, ok := innerColumns[col]
	return ok
}

func isRouting(col string) bool {
	return col == ColDomain || col == ColName
}

// Cond is either a leaf comparison or an AND group of conditions. The zero
// Cond matches everything.
type Cond struct {
	col   string
	op    Op
	value Value
	and   []Cond
}

// New returns a leaf condition.
func New(col string, op Op, v Value) Cond {
	return Cond{col: col, op: op, value: v}
}

// And combines c with others.
func (c Cond) And(others ...Cond) Cond {
	group := make([]Cond, 0, len(others)+1)
	if !c.IsEmpty() {
		group = append(group, c)
	}
	for _, o := range others {
		if !o.IsEmpty() {
			group = append(group, o)
		}
	}
	if len(group) == 1 {
		return group[0]
	}
	return Cond{and: group}
}

func (c Cond) IsEmpty() bool  { return c.op == OpNone && len(c.and) == 0 }
func (c Cond) IsLeaf() bool   { return c.op != OpNone }
func (c Cond) Column() string { return c.col }
func (c Cond) Op() Op         { return c.op }
func (c Cond) Value() Value   { return c.value }

// Leaves returns every leaf of the tree in depth-first order.
func (c Cond) Leaves() []Cond {
	if c.IsLeaf() {
		return []Cond{c}
	}
	var out []Cond
	for _, sub := range c.and {
		out = append(out, sub.Leaves()...)
	}
	return out
}

// Match evaluates a leaf against v.
func (c Cond) Match(v Value) bool {
	switch c.op {
	case OpSW, OpNSW:
		if v.IsNumber() || c.value.IsNumber() {
			return false
		}
		has := strings.HasPrefix(v.Str(), c.value.Str())
		return has == (c.op == OpSW)
	}
	r, ok := compare(v, c.value)
	if !ok {
		return false
	}
	switch c.op {
	case OpEQ:
		return r == 0
	case OpNE:
		return r != 0
	case OpLT:
		return r < 0
	case OpLE:
		return r <= 0
	case OpGT:
		return r > 0
	case OpGE:
		return r >= 0
	}
	return false
}

// String renders the tree, e.g. (seq_ >= 5 AND MSG SW "boot").
func (c Cond) String() string {
	if c.IsLeaf() {
		v := c.value.String()
		if !c.value.IsNumber() {
			v = strconv.Quote(v)
		}
		return fmt.Sprintf("%s %s %s", c.col, c.op, v)
	}
	parts := make([]string, 0, len(c.and))
	for _, sub := range c.and {
		parts = append(parts, sub.String())
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// parseOrder lists the textual operators longest first so prefixes do not shadow.
var parseOrder = []struct {
	tok string
	op  Op
}{
	{" NSW ", OpNSW}, {" SW ", OpSW},
	{"!=", OpNE}, {"<=", OpLE}, {">=", OpGE},
	{"=", OpEQ}, {"<", OpLT}, {">", OpGT},
}

// ParseLeaf parses a single comparison such as "pid_>=100" or "MSG SW boot".
func ParseLeaf(expr string) (Cond, error) {
	for _, p := range parseOrder {
		idx := strings.Index(expr, p.tok)
		if idx <= 0 {
			continue
		}
		col := strings.TrimSpace(expr[:idx])
		raw := strings.TrimSpace(expr[idx+len(p.tok):])
		if col == "" {
			break
		}
		var v Value
		if p.op == OpSW || p.op == OpNSW {
			v = core.StringValue(raw)
		} else {
			v = ParseValue(raw)
		}
		return New(col, p.op, v), nil
	}
	return Cond{}, fmt.Errorf("invalid condition %q", expr)
}
