package core

import (
	"strconv"
)

// ValueKind is the representation held by a Value.
type ValueKind uint8

const (
	KindString ValueKind = iota
	KindInt
	KindUint
	KindFloat
)

// Value is a typed scalar: a string, or a number kept in its signed,
// unsigned or floating representation. Record parameters and condition
// operands are both expressed as Values.
type Value struct {
	kind ValueKind
	i    int64
	u    uint64
	f    float64
	s    string
}

func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func IntValue(i int64) Value     { return Value{kind: KindInt, i: i} }
func UintValue(u uint64) Value   { return Value{kind: KindUint, u: u} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func (v Value) Kind() ValueKind  { return v.kind }
func (v Value) IsNumber() bool   { return v.kind != KindString }
func (v Value) Int() int64       { return v.i }
func (v Value) Uint() uint64     { return v.u }
func (v Value) Float() float64   { return v.f }
func (v Value) Str() string      { return v.s }

// AsFloat returns the numeric value converted to float64.
func (v Value) AsFloat() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindUint:
		return float64(v.u)
	case KindFloat:
		return v.f
	}
	return 0
}

// String renders the value the way it would be written in a condition.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

// Interface returns the value as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindUint:
		return v.u
	case KindFloat:
		return v.f
	default:
		return v.s
	}
}

// Param is one named value of a record payload.
type Param struct {
	Key   string
	Value Value
}

// Params is the decoded payload of a record.
type Params []Param

// Get returns the value stored under key.
func (p Params) Get(key string) (Value, bool) {
	for i := range p {
		if p[i].Key == key {
			return p[i].Value, true
		}
	}
	return Value{}, false
}
