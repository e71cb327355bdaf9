package codec

import (
	"fmt"
	"math"

	"github.com/INLOpen/nexusevent/core"
	"google.golang.org/protobuf/encoding/protowire"
)

// Record payloads are a sequence of protobuf-wire encoded parameters:
//
//	message Payload { repeated Param params = 1; }
//	message Param {
//	  string key = 1;
//	  oneof value { sint64 int = 2; uint64 uint = 3; double float = 4; string str = 5; }
//	}
const (
	fieldParam protowire.Number = 1

	fieldKey   protowire.Number = 1
	fieldInt   protowire.Number = 2
	fieldUint  protowire.Number = 3
	fieldFloat protowire.Number = 4
	fieldStr   protowire.Number = 5
)

// AppendParams appends the encoded parameters to dst.
func AppendParams(dst []byte, params core.Params) []byte {
	var inner []byte
	for _, p := range params {
		inner = inner[:0]
		inner = protowire.AppendTag(inner, fieldKey, protowire.BytesType)
		inner = protowire.AppendString(inner, p.Key)
		switch p.Value.Kind() {
		case core.KindInt:
			inner = protowire.AppendTag(inner, fieldInt, protowire.VarintType)
			inner = protowire.AppendVarint(inner, protowire.EncodeZigZag(p.Value.Int()))
		case core.KindUint:
			inner = protowire.AppendTag(inner, fieldUint, protowire.VarintType)
			inner = protowire.AppendVarint(inner, p.Value.Uint())
		case core.KindFloat:
			inner = protowire.AppendTag(inner, fieldFloat, protowire.Fixed64Type)
			inner = protowire.AppendFixed64(inner, math.Float64bits(p.Value.Float()))
		default:
			inner = protowire.AppendTag(inner, fieldStr, protowire.BytesType)
			inner = protowire.AppendString(inner, p.Value.Str())
		}
		dst = protowire.AppendTag(dst, fieldParam, protowire.BytesType)
		dst = protowire.AppendBytes(dst, inner)
	}
	return dst
}

// DecodeParams decodes a record payload.
func DecodeParams(b []byte) (core.Params, error) {
	var params core.Params
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: payload tag: %v", core.ErrInvalidFormat, protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldParam || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: payload field %d: %v", core.ErrInvalidFormat, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: payload param: %v", core.ErrInvalidFormat, protowire.ParseError(n))
		}
		b = b[n:]
		p, err := decodeParam(msg)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

func decodeParam(b []byte) (core.Param, error) {
	var p core.Param
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, fmt.Errorf("%w: param tag: %v", core.ErrInvalidFormat, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldKey && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(b)
			p.Key = s
		case num == fieldInt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			p.Value = core.IntValue(protowire.DecodeZigZag(v))
		case num == fieldUint && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			p.Value = core.UintValue(v)
		case num == fieldFloat && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			p.Value = core.FloatValue(math.Float64frombits(v))
		case num == fieldStr && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(b)
			p.Value = core.StringValue(s)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return p, fmt.Errorf("%w: param field %d: %v", core.ErrInvalidFormat, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	if p.Key == "" {
		return p, fmt.Errorf("%w: param without key", core.ErrInvalidFormat)
	}
	return p, nil
}

// EncodeRecord encodes r with c into buf, replacing its contents.
func EncodeRecord(c *Codec, buf *core.Buffer, r *core.Record) error {
	payload := AppendParams(nil, r.Params)
	out, err := c.AppendRecord(buf.B[:0], core.HeaderOf(r), payload)
	if err != nil {
		return err
	}
	buf.B = out
	return nil
}
