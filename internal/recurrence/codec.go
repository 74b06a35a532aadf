package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the recurrence taxonomy offered to users when creating a task.
type Kind int

const (
	// KindNone means the task does not repeat.
	KindNone Kind = iota
	// KindDaily repeats every day.
	KindDaily
	// KindWeekly repeats every week.
	KindWeekly
	// KindBiweekly repeats every second week.
	KindBiweekly
	// KindMonthly repeats every month.
	KindMonthly
	// KindBimonthly repeats every second month.
	KindBimonthly
	// KindCustom repeats weekly on an explicit set of weekdays.
	KindCustom
)

var kindNames = [...]string{
	KindNone:      "none",
	KindDaily:     "daily",
	KindWeekly:    "weekly",
	KindBiweekly:  "biweekly",
	KindMonthly:   "monthly",
	KindBimonthly: "bimonthly",
	KindCustom:    "custom",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ErrUnknownKind is returned by ParseKind for names outside the taxonomy.
var ErrUnknownKind = errors.New("recurrence: unknown kind")

// ErrUnknownWeekday is returned by ParseWeekday for codes other than SU..SA.
var ErrUnknownWeekday = errors.New("recurrence: unknown weekday")

// ParseKind maps a lower-case kind name back to its Kind.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return KindNone, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Weekday is a two-letter iCalendar weekday code.
type Weekday string

const (
	Sunday    Weekday = "SU"
	Monday    Weekday = "MO"
	Tuesday   Weekday = "TU"
	Wednesday Weekday = "WE"
	Thursday  Weekday = "TH"
	Friday    Weekday = "FR"
	Saturday  Weekday = "SA"
)

// indexed by time.Weekday
var weekdayCodes = [...]Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// WeekdayOf converts a time.Weekday into its code.
func WeekdayOf(d time.Weekday) Weekday {
	return weekdayCodes[d%7]
}

// ParseWeekday validates a weekday code. Matching is case-insensitive.
func ParseWeekday(code string) (Weekday, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, w := range weekdayCodes {
		if string(w) == code {
			return w, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownWeekday, code)
}

// Rule strings exchanged with the backend. Decode matches these exactly.
const (
	ruleDaily     = "FREQ=DAILY"
	ruleWeekly    = "FREQ=WEEKLY"
	ruleBiweekly  = "FREQ=WEEKLY;INTERVAL=2"
	ruleMonthly   = "FREQ=MONTHLY"
	ruleBimonthly = "FREQ=MONTHLY;INTERVAL=2"

	customPrefix = "FREQ=WEEKLY;BYDAY="
	byDayKey     = "BYDAY="
)

// Encode renders kind as a rule string. ok is false when the rule has no
// encoding and must be stored as null: KindNone, and KindCustom without days.
// Custom days are joined in the order given.
func Encode(kind Kind, byDays ...Weekday) (rule string, ok bool) {
	switch kind {
	case KindDaily:
		return ruleDaily, true
	case KindWeekly:
		return ruleWeekly, true
	case KindBiweekly:
		return ruleBiweekly, true
	case KindMonthly:
		return ruleMonthly, true
	case KindBimonthly:
		return ruleBimonthly, true
	case KindCustom:
		if len(byDays) == 0 {
			return "", false
		}
		codes := make([]string, len(byDays))
		for i, d := range byDays {
			codes[i] = string(d)
		}
		return customPrefix + strings.Join(codes, ","), true
	default:
		return "", false
	}
}

// Decode maps a stored rule back to its Kind. Only the encodings produced by
// Encode are recognised; anything else, including the empty string, is
// KindNone. Decode never fails.
func Decode(rule string) Kind {
	switch rule {
	case ruleDaily:
		return KindDaily
	case ruleWeekly:
		return KindWeekly
	case ruleBiweekly:
		return KindBiweekly
	case ruleMonthly:
		return KindMonthly
	case ruleBimonthly:
		return KindBimonthly
	}
	if strings.Contains(rule, customPrefix) {
		return KindCustom
	}
	return KindNone
}

// ExtractWeekDays returns the BYDAY list of rule in order, duplicates kept.
// The list ends at the next ';' or the end of the string.
func ExtractWeekDays(rule string) []Weekday {
	i := strings.Index(rule, byDayKey)
	if i < 0 {
		return nil
	}
	list := rule[i+len(byDayKey):]
	if j := strings.IndexByte(list, ';'); j >= 0 {
		list = list[:j]
	}
	if list == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	days := make([]Weekday, len(parts))
	for i, p := range parts {
		days[i] = Weekday(p)
	}
	return days
}
