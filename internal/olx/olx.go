// Package olx reads and writes the on-disk XML course tree: one pointer root
// (course.xml or library.xml), one XML file per block under a directory named
// after its block type, JSON policy sidecars, and the asset manifest.
package olx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/keys"
)

// Node is one block as it exists on disk, before it is given a course
// identity. URLName becomes the block_id on import.
type Node struct {
	BlockType string
	URLName   string
	Fields    fields.Map
	Children  []*Node
}

// DisplayName falls back to the url_name, matching how untitled blocks are
// labelled in error reports.
func (n *Node) DisplayName() string {
	if v, ok := n.Fields["display_name"]; ok && v.Kind == fields.KindString {
		return v.Str
	}
	return n.URLName
}

// XMLAttr reads one entry of the preserved xml_attributes map.
func (n *Node) XMLAttr(name string) (string, bool) {
	v, ok := n.Fields["xml_attributes"]
	if !ok || v.Kind != fields.KindJson || len(v.Raw) == 0 {
		return "", false
	}
	var m map[string]string
	if err := json.Unmarshal(v.Raw, &m); err != nil {
		return "", false
	}
	s, ok := m[name]
	return s, ok
}

// SetXMLAttr writes one entry of the preserved xml_attributes map.
func (n *Node) SetXMLAttr(name, value string) {
	m := map[string]string{}
	if v, ok := n.Fields["xml_attributes"]; ok && v.Kind == fields.KindJson && len(v.Raw) > 0 {
		_ = json.Unmarshal(v.Raw, &m)
	}
	m[name] = value
	raw, _ := json.Marshal(m)
	if n.Fields == nil {
		n.Fields = fields.Map{}
	}
	n.Fields["xml_attributes"] = fields.Json(raw)
}

// DeleteXMLAttr removes one entry; when the map empties the field goes with it.
func (n *Node) DeleteXMLAttr(name string) {
	v, ok := n.Fields["xml_attributes"]
	if !ok || v.Kind != fields.KindJson || len(v.Raw) == 0 {
		return
	}
	var m map[string]string
	if err := json.Unmarshal(v.Raw, &m); err != nil {
		return
	}
	delete(m, name)
	if len(m) == 0 {
		delete(n.Fields, "xml_attributes")
		return
	}
	raw, _ := json.Marshal(m)
	n.Fields["xml_attributes"] = fields.Json(raw)
}

// isLeaf reports whether a block type serializes its content as the file's
// inner XML rather than as child block pointers.
func isLeaf(blockType string) bool {
	d, ok := fields.Known(blockType, "data")
	return ok && d.Scope == fields.ScopeContent
}

// ParseValue converts an on-disk attribute string into a typed field value.
func ParseValue(d fields.Def, s string) (fields.Value, error) {
	switch d.Kind {
	case fields.KindString:
		return fields.String(s), nil
	case fields.KindNumber:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fields.Value{}, fmt.Errorf("parse number %q: %w", s, err)
		}
		return fields.Number(f), nil
	case fields.KindBoolean:
		b, err := strconv.ParseBool(strings.ToLower(s))
		if err != nil {
			return fields.Value{}, fmt.Errorf("parse boolean %q: %w", s, err)
		}
		return fields.Boolean(b), nil
	case fields.KindJson:
		if json.Valid([]byte(s)) {
			return fields.Json(json.RawMessage(s)), nil
		}
		raw, err := json.Marshal(s)
		if err != nil {
			return fields.Value{}, err
		}
		return fields.Json(raw), nil
	case fields.KindReference:
		k, err := keys.ParseUsageKey(s)
		if err != nil {
			return fields.Value{}, err
		}
		return fields.Reference(k), nil
	case fields.KindReferenceList:
		var ss []string
		if err := json.Unmarshal([]byte(s), &ss); err != nil {
			return fields.Value{}, fmt.Errorf("parse reference list %q: %w", s, err)
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
		if err := json.Unmarshal([]byte(s), &sm); err != nil {
			return fields.Value{}, fmt.Errorf("parse reference dict %q: %w", s, err)
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
	return fields.Value{}, fmt.Errorf("unknown field kind %q", d.Kind)
}

// FormatValue converts a typed field value back into its attribute string.
func FormatValue(v fields.Value) (string, error) {
	switch v.Kind {
	case fields.KindString:
		return v.Str, nil
	case fields.KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64), nil
	case fields.KindBoolean:
		return strconv.FormatBool(v.Bool), nil
	case fields.KindJson:
		return string(v.Raw), nil
	case fields.KindReference:
		return v.Ref.String(), nil
	case fields.KindReferenceList:
		ss := make([]string, 0, len(v.Refs))
		for _, r := range v.Refs {
			ss = append(ss, r.String())
		}
		raw, err := json.Marshal(ss)
		return string(raw), err
	case fields.KindReferenceValueDict:
		m := make(map[string]string, len(v.Map))
		for k, r := range v.Map {
			m[k] = r.String()
		}
		raw, err := json.Marshal(m)
		return string(raw), err
	}
	return "", fmt.Errorf("unknown field kind %q", v.Kind)
}

// SafeName replaces characters that cannot appear in a filename. Slash,
// backslash, colon and NUL all collapse to underscore.
func SafeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
}
