// Package details models the facts learned about a user across sessions
// and merges newly extracted facts into what is already known.
package details

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Category is one of the fixed top-level groupings of personal details.
type Category string

// The closed set of categories.
const (
	PersonalProfile       Category = "personalProfile"
	Relationships         Category = "relationships"
	WorkPurpose           Category = "workPurpose"
	HealthWellbeing       Category = "healthWellbeing"
	LifestyleHabits       Category = "lifestyleHabits"
	GoalsPlans            Category = "goalsPlans"
	PatternsInsights      Category = "patternsInsights"
	PreferencesBoundaries Category = "preferencesBoundaries"
)

// Categories lists every category in display order.
var Categories = []Category{
	PersonalProfile,
	Relationships,
	WorkPurpose,
	HealthWellbeing,
	LifestyleHabits,
	GoalsPlans,
	PatternsInsights,
	PreferencesBoundaries,
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory validates s as a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Kind identifies the shape of a Value.
type Kind int

const (
	KindString Kind = iota
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a field value: a string, a list of strings, or a nested object.
// The zero Value is the empty string.
type Value struct {
	kind Kind
	str  string
	list []string
	obj  map[string]any
}

// String returns a string Value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// List returns a list Value holding a copy of items.
func List(items ...string) Value {
	return Value{kind: KindList, list: append([]string(nil), items...)}
}

// Object returns an object Value holding a deep copy of m.
func Object(m map[string]any) Value {
	return Value{kind: KindObject, obj: cloneMap(m)}
}

// Kind returns the shape of v.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string content of a string Value.
func (v Value) Str() string { return v.str }

// Items returns a copy of the elements of a list Value.
func (v Value) Items() []string { return append([]string(nil), v.list...) }

// Fields returns a deep copy of an object Value.
func (v Value) Fields() map[string]any { return cloneMap(v.obj) }

// IsEmpty reports whether v carries no information.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindList:
		return len(v.list) == 0
	case KindObject:
		return len(v.obj) == 0
	default:
		return v.str == ""
	}
}

// Display renders v for change descriptions: strings as is, anything else as JSON.
func (v Value) Display() string {
	if v.kind == KindString {
		return v.str
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		return List(v.list...)
	case KindObject:
		return Object(v.obj)
	default:
		return v
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return json.Marshal(v.str)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Numbers and booleans become
// strings; list elements that are not strings are rendered as text.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case nil:
		*v = Value{}
	case string:
		*v = String(t)
	case json.Number:
		*v = String(t.String())
	case bool:
		*v = String(strconv.FormatBool(t))
	case []any:
		items := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := scalarText(e); ok {
				items = append(items, s)
			}
		}
		*v = Value{kind: KindList, list: items}
	case map[string]any:
		*v = Value{kind: KindObject, obj: t}
	default:
		return fmt.Errorf("unsupported value %T", raw)
	}
	return nil
}

func scalarText(e any) (string, bool) {
	switch t := e.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// Fields maps field names to values within one category.
type Fields map[string]Value

// Details is the full set of learned facts, keyed by category.
type Details map[Category]Fields

// UnmarshalJSON decodes details, dropping unknown categories and categories
// whose value is not an object.
func (d *Details) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Details, len(raw))
	for name, body := range raw {
		c := Category(name)
		if !c.Valid() {
			continue
		}
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			continue
		}
		var fields Fields
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return fmt.Errorf("decode category %s: %w", name, err)
		}
		out[c] = fields
	}
	*d = out
	return nil
}

// Parse decodes details from JSON text. Empty input yields empty details.
func Parse(data []byte) (Details, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Details{}, nil
	}
	var d Details
	if err := json.Unmarshal(data, &d); err != nil {
		return Details{}, err
	}
	return d, nil
}

// Get returns the value stored at c.field.
func (d Details) Get(c Category, field string) (Value, bool) {
	v, ok := d[c][field]
	return v, ok
}

// Set stores v at c.field, creating the category when needed.
func (d Details) Set(c Category, field string, v Value) {
	if d[c] == nil {
		d[c] = make(Fields)
	}
	d[c][field] = v
}

// Len returns the number of fields across all categories.
func (d Details) Len() int {
	n := 0
	for _, f := range d {
		n += len(f)
	}
	return n
}

// Clone returns a deep copy of d. A nil input yields an empty, non-nil map.
func Clone(d Details) Details {
	out := make(Details, len(d))
	for c, fields := range d {
		cp := make(Fields, len(fields))
		for k, v := range fields {
			cp[k] = v.Clone()
		}
		out[c] = cp
	}
	return out
}

// sensitiveFields are substrings of field names that must never be stored.
var sensitiveFields = []string{"password", "ssn", "credit_card", "bank_account"}

// IsSensitiveField reports whether a field name matches the blocklist.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Sanitize returns a deep copy of d without any blocklisted field, in
// every category.
func Sanitize(d Details) Details {
	out := Clone(d)
	for _, fields := range out {
		for name := range fields {
			if IsSensitiveField(name) {
				delete(fields, name)
			}
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return t
	}
}
