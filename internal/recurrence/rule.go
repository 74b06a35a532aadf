package recurrence

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Rule is an immutable recurrence value. ByDays is only meaningful for
// KindCustom.
type Rule struct {
	Kind   Kind
	ByDays []Weekday
}

// NewRule builds a Rule, copying days so later edits to the caller's slice
// do not leak into the value.
func NewRule(kind Kind, days ...Weekday) Rule {
	if kind != KindCustom || len(days) == 0 {
		return Rule{Kind: kind}
	}
	return Rule{Kind: kind, ByDays: slices.Clone(days)}
}

// ParseRule decodes a stored rule string. Unrecognised rules become the
// zero Rule (KindNone).
func ParseRule(rule string) Rule {
	kind := Decode(rule)
	if kind != KindCustom {
		return Rule{Kind: kind}
	}
	return Rule{Kind: kind, ByDays: ExtractWeekDays(rule)}
}

// Encode renders the rule; ok is false when it is stored as null.
func (r Rule) Encode() (string, bool) {
	return Encode(r.Kind, r.ByDays...)
}

// IsNone reports whether the rule encodes to null.
func (r Rule) IsNone() bool {
	_, ok := r.Encode()
	return !ok
}

func (r Rule) String() string {
	if s, ok := r.Encode(); ok {
		return s
	}
	return "none"
}

// MarshalJSON writes the encoded rule, or null.
func (r Rule) MarshalJSON() ([]byte, error) {
	s, ok := r.Encode()
	if !ok {
		return []byte("null"), nil
	}
	return json.Marshal(s)
}

// UnmarshalJSON accepts a rule string or null.
func (r *Rule) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("recurrence: rule must be a string or null: %w", err)
	}
	if s == nil {
		*r = Rule{}
		return nil
	}
	*r = ParseRule(*s)
	return nil
}
