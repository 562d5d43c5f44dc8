package olx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/keys"
)

// Policy is policy.json: a map from "{block_type}/{url_name}" to the block's
// own (non-inherited) settings.
type Policy map[string]map[string]json.RawMessage

// AssetPolicy is one entry of the policies/assets.json overlay.
type AssetPolicy struct {
	DisplayName string `json:"displayname"`
	ContentType string `json:"contentType"`
	Locked      bool   `json:"locked"`
}

// writeJSON emits deterministic JSON: sorted keys, four-space indent.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func policyDir(dir, run string) string {
	return filepath.Join(dir, "policies", SafeName(run))
}

func WritePolicy(dir, run string, pol Policy) error {
	return writeJSON(filepath.Join(policyDir(dir, run), "policy.json"), pol)
}

func ReadPolicy(dir, run string) (Policy, error) {
	var pol Policy
	ok, err := readJSON(filepath.Join(policyDir(dir, run), "policy.json"), &pol)
	if err != nil || !ok {
		return nil, err
	}
	return pol, nil
}

func WriteGradingPolicy(dir, run string, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("grading policy: %w", err)
	}
	return writeJSON(filepath.Join(policyDir(dir, run), "grading_policy.json"), v)
}

func ReadGradingPolicy(dir, run string) (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(policyDir(dir, run), "grading_policy.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("grading_policy.json is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func WriteAssetPolicies(dir string, pol map[string]AssetPolicy) error {
	return writeJSON(filepath.Join(dir, "policies", "assets.json"), pol)
}

func ReadAssetPolicies(dir string) (map[string]AssetPolicy, error) {
	var pol map[string]AssetPolicy
	ok, err := readJSON(filepath.Join(dir, "policies", "assets.json"), &pol)
	if err != nil || !ok {
		return nil, err
	}
	return pol, nil
}

// ApplyPolicy overlays policy entries onto a node's fields, retyping each
// value through the field registry.
func ApplyPolicy(n *Node, settings map[string]json.RawMessage) error {
	for name, raw := range settings {
		d := fields.Lookup(n.BlockType, name)
		v, err := ValueFromJSON(d, raw)
		if err != nil {
			return fmt.Errorf("policy field %s on %s: %w", name, n.URLName, err)
		}
		if n.Fields == nil {
			n.Fields = fields.Map{}
		}
		n.Fields[name] = v
	}
	return nil
}

// ValueFromJSON converts a raw policy value into a typed field value.
func ValueFromJSON(d fields.Def, raw json.RawMessage) (fields.Value, error) {
	switch d.Kind {
	case fields.KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// Non-string policy values on string fields keep their text form.
			return fields.String(string(raw)), nil
		}
		return fields.String(s), nil
	case fields.KindNumber:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return fields.Value{}, err
		}
		return fields.Number(f), nil
	case fields.KindBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return fields.Value{}, err
		}
		return fields.Boolean(b), nil
	case fields.KindJson:
		return fields.Json(append(json.RawMessage(nil), raw...)), nil
	case fields.KindReference, fields.KindReferenceList, fields.KindReferenceValueDict:
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return ParseValue(d, s)
		}
		switch d.Kind {
		case fields.KindReferenceList:
			var ss []string
			if err := json.Unmarshal(raw, &ss); err != nil {
				return fields.Value{}, err
			}
			refs := make([]keys.UsageKey, 0, len(ss))
			for _, one := range ss {
				k, err := keys.ParseUsageKey(one)
				if err != nil {
					return fields.Value{}, err
				}
				refs = append(refs, k)
			}
			return fields.ReferenceList(refs), nil
		case fields.KindReferenceValueDict:
			var sm map[string]string
			if err := json.Unmarshal(raw, &sm); err != nil {
				return fields.Value{}, err
			}
			m := make(map[string]keys.UsageKey, len(sm))
			for k, one := range sm {
				ref, err := keys.ParseUsageKey(one)
				if err != nil {
					return fields.Value{}, err
				}
				m[k] = ref
			}
			return fields.ReferenceValueDict(m), nil
		}
		return fields.Value{}, fmt.Errorf("reference policy value %s", raw)
	}
	return fields.Value{}, fmt.Errorf("unknown field kind %q", d.Kind)
}

// ValueToJSON is the inverse of ValueFromJSON, used when emitting policy.json.
func ValueToJSON(v fields.Value) (json.RawMessage, error) {
	switch v.Kind {
	case fields.KindString:
		return json.Marshal(v.Str)
	case fields.KindNumber:
		return json.Marshal(v.Num)
	case fields.KindBoolean:
		return json.Marshal(v.Bool)
	case fields.KindJson:
		if len(v.Raw) == 0 {
			return json.RawMessage("null"), nil
		}
		return append(json.RawMessage(nil), v.Raw...), nil
	case fields.KindReference:
		return json.Marshal(v.Ref.String())
	case fields.KindReferenceList:
		ss := make([]string, 0, len(v.Refs))
		for _, r := range v.Refs {
			ss = append(ss, r.String())
		}
		return json.Marshal(ss)
	case fields.KindReferenceValueDict:
		m := make(map[string]string, len(v.Map))
		for k, r := range v.Map {
			m[k] = r.String()
		}
		return json.Marshal(m)
	}
	return nil, fmt.Errorf("unknown field kind %q", v.Kind)
}
