package cond

import (
	"math"
	"strconv"
	"strings"

	"github.com/INLOpen/nexusevent/core"
)

// Value is the typed operand of a condition.
type Value = core.Value

// FloatEpsilon is the tolerance used when either operand is floating point.
const FloatEpsilon = 1e-7

// ParseValue interprets a textual operand, trying int64, uint64 and float64
// before falling back to a string.
func ParseValue(s string) Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return core.IntValue(i)
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return core.UintValue(u)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return core.FloatValue(f)
	}
	return core.StringValue(s)
}

// compare orders a against b. ok is false when the values are not comparable
// (a string against a number).
func compare(a, b Value) (c int, ok bool) {
	if a.IsNumber() != b.IsNumber() {
		return 0, false
	}
	if !a.IsNumber() {
		return strings.Compare(a.Str(), b.Str()), true
	}
	return compareNumbers(a, b), true
}

func compareNumbers(a, b Value) int {
	if a.Kind() == core.KindFloat || b.Kind() == core.KindFloat {
		x, y := a.AsFloat(), b.AsFloat()
		switch {
		case math.Abs(x-y) < FloatEpsilon:
			return 0
		case x < y:
			return -1
		default:
			return 1
		}
	}
	switch {
	case a.Kind() == core.KindInt && b.Kind() == core.KindInt:
		return cmpOrdered(a.Int(), b.Int())
	case a.Kind() == core.KindUint && b.Kind() == core.KindUint:
		return cmpOrdered(a.Uint(), b.Uint())
	case a.Kind() == core.KindInt:
		if a.Int() < 0 {
			return -1
		}
		return cmpOrdered(uint64(a.Int()), b.Uint())
	default:
		if b.Int() < 0 {
			return 1
		}
		return cmpOrdered(a.Uint(), uint64(b.Int()))
	}
}

func cmpOrdered[T int64 | uint64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Equal reports whether two values are equal under the condition rules.
func Equal(a, b Value) bool {
	c, ok := compare(a, b)
	return ok && c == 0
}
