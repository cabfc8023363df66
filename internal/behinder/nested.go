package behinder

import (
	"bytes"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

const maxNesting = 8

// DecodeNested rewrites a JSON control message, replacing string values
// that are base64 of JSON or text with their decoded form, recursively.
// Responses from the shell wrap every field this way.
func DecodeNested(pt []byte) ([]byte, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(bytes.TrimSpace(pt))
	if err != nil {
		return nil, errors.Wrap(err, "control message")
	}
	var a fastjson.Arena
	out := expand(&a, v, 0)
	return out.MarshalTo(nil), nil
}

func expand(a *fastjson.Arena, v *fastjson.Value, depth int) *fastjson.Value {
	switch v.Type() {
	case fastjson.TypeObject:
		o := a.NewObject()
		v.GetObject().Visit(func(k []byte, child *fastjson.Value) {
			o.Set(string(k), expand(a, child, depth))
		})
		return o
	case fastjson.TypeArray:
		arr := a.NewArray()
		for i, child := range v.GetArray() {
			arr.SetArrayItem(i, expand(a, child, depth))
		}
		return arr
	case fastjson.TypeString:
		return expandString(a, v.GetStringBytes(), depth)
	default:
		return v
	}
}

func expandString(a *fastjson.Arena, s []byte, depth int) *fastjson.Value {
	if depth >= maxNesting || len(s) < 4 {
		return a.NewStringBytes(s)
	}
	raw, err := strictBase64(s)
	if err != nil || len(raw) == 0 {
		return a.NewStringBytes(s)
	}
	if isStructured(raw) {
		var p fastjson.Parser
		if inner, err := p.ParseBytes(raw); err == nil {
			return expand(a, inner, depth+1)
		}
	}
	if utf8.Valid(raw) && printable(string(raw)) {
		return expandString(a, raw, depth+1)
	}
	return a.NewStringBytes(s)
}

// strictBase64 only accepts strings that are entirely base64, so plain
// words are left alone.
func strictBase64(s []byte) ([]byte, error) {
	if len(s)%4 != 0 {
		return nil, errNotBase64
	}
	for _, c := range s {
		if !isBase64(c) {
			return nil, errNotBase64
		}
	}
	return DecodeBody(s)
}
