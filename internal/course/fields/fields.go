package fields

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/yungbote/courseport-backend/internal/keys"
)

// Kind discriminates the typed variants a block field can hold.
type Kind string

const (
	KindString             Kind = "string"
	KindNumber             Kind = "number"
	KindBoolean            Kind = "boolean"
	KindJson               Kind = "json"
	KindReference          Kind = "reference"
	KindReferenceList      Kind = "reference_list"
	KindReferenceValueDict Kind = "reference_value_dict"
)

// Scope partitions block fields the way the content runtime does.
type Scope string

const (
	ScopeContent  Scope = "content"
	ScopeSettings Scope = "settings"
	ScopeChildren Scope = "children"
)

// Value is one typed field value. Exactly the member selected by Kind is
// meaningful.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
	Ref  keys.UsageKey
	Refs []keys.UsageKey
	Map  map[string]keys.UsageKey
	Raw  json.RawMessage
}

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func Boolean(b bool) Value   { return Value{Kind: KindBoolean, Bool: b} }
func Json(raw json.RawMessage) Value {
	return Value{Kind: KindJson, Raw: raw}
}
func Reference(k keys.UsageKey) Value { return Value{Kind: KindReference, Ref: k} }
func ReferenceList(ks []keys.UsageKey) Value {
	return Value{Kind: KindReferenceList, Refs: ks}
}
func ReferenceValueDict(m map[string]keys.UsageKey) Value {
	return Value{Kind: KindReferenceValueDict, Map: m}
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBoolean:
		return v.Bool == o.Bool
	case KindJson:
		return jsonEqual(v.Raw, o.Raw)
	case KindReference:
		return v.Ref == o.Ref
	case KindReferenceList:
		if len(v.Refs) != len(o.Refs) {
			return false
		}
		for i := range v.Refs {
			if v.Refs[i] != o.Refs[i] {
				return false
			}
		}
		return true
	case KindReferenceValueDict:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, ref := range v.Map {
			if o.Map[k] != ref {
				return false
			}
		}
		return true
	}
	return false
}

type valueJSON struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var inner any
	switch v.Kind {
	case KindString:
		inner = v.Str
	case KindNumber:
		inner = v.Num
	case KindBoolean:
		inner = v.Bool
	case KindJson:
		if len(v.Raw) == 0 {
			inner = nil
		} else {
			inner = json.RawMessage(v.Raw)
		}
	case KindReference:
		inner = v.Ref.String()
	case KindReferenceList:
		ss := make([]string, 0, len(v.Refs))
		for _, r := range v.Refs {
			ss = append(ss, r.String())
		}
		inner = ss
	case KindReferenceValueDict:
		m := make(map[string]string, len(v.Map))
		for k, r := range v.Map {
			m[k] = r.String()
		}
		inner = m
	default:
		return nil, fmt.Errorf("unknown field kind %q", v.Kind)
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Kind: v.Kind, Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var wire valueJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := Value{Kind: wire.Kind}
	switch wire.Kind {
	case KindString:
		if err := json.Unmarshal(wire.Value, &out.Str); err != nil {
			return err
		}
	case KindNumber:
		if err := json.Unmarshal(wire.Value, &out.Num); err != nil {
			return err
		}
	case KindBoolean:
		if err := json.Unmarshal(wire.Value, &out.Bool); err != nil {
			return err
		}
	case KindJson:
		out.Raw = append(json.RawMessage(nil), wire.Value...)
	case KindReference:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return err
		}
		ref, err := keys.ParseUsageKey(s)
		if err != nil {
			return err
		}
		out.Ref = ref
	case KindReferenceList:
		var ss []string
		if err := json.Unmarshal(wire.Value, &ss); err != nil {
			return err
		}
		for _, s := range ss {
			ref, err := keys.ParseUsageKey(s)
			if err != nil {
				return err
			}
			out.Refs = append(out.Refs, ref)
		}
	case KindReferenceValueDict:
		var sm map[string]string
		if err := json.Unmarshal(wire.Value, &sm); err != nil {
			return err
		}
		out.Map = make(map[string]keys.UsageKey, len(sm))
		for k, s := range sm {
			ref, err := keys.ParseUsageKey(s)
			if err != nil {
				return err
			}
			out.Map[k] = ref
		}
	default:
		return fmt.Errorf("unknown field kind %q", wire.Kind)
	}
	*v = out
	return nil
}

// Map is the field set of one block, name to typed value.
type Map map[string]Value

func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		if v.Kind == KindReferenceList {
			v.Refs = append([]keys.UsageKey(nil), v.Refs...)
		}
		if v.Kind == KindReferenceValueDict {
			cp := make(map[string]keys.UsageKey, len(v.Map))
			for mk, mv := range v.Map {
				cp[mk] = mv
			}
			v.Map = cp
		}
		if v.Kind == KindJson {
			v.Raw = append(json.RawMessage(nil), v.Raw...)
		}
		out[k] = v
	}
	return out
}

func (m Map) Equal(o Map) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	na, err := json.Marshal(av)
	if err != nil {
		return false
	}
	nb, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return bytes.Equal(na, nb)
}
