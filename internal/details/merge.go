package details

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// displayLimit bounds the value shown in a change description.
const displayLimit = 50

// appendOnlyPatterns are the patternsInsights fields kept as a dated log.
var appendOnlyPatterns = map[string]bool{
	"recurring_themes":    true,
	"behavioral_patterns": true,
	"progress_markers":    true,
}

var digits = regexp.MustCompile(`\d`)

// MismatchFunc is called when an incoming value cannot be merged because its
// shape differs from the stored value. The stored value is left untouched.
type MismatchFunc func(c Category, field string, existing, incoming Kind)

// Merger merges newly extracted details into stored ones. The zero value is
// ready to use.
type Merger struct {
	// Now dates appended pattern lines. Defaults to time.Now.
	Now func() time.Time
	// OnMismatch, when set, is told about skipped fields.
	OnMismatch MismatchFunc
}

// Result is the outcome of a merge.
type Result struct {
	Merged  Details
	Changes []string
}

// Merge merges incoming into existing using the default Merger.
func Merge(existing, incoming Details) Result {
	return Merger{}.Merge(existing, incoming)
}

// Merge returns existing with incoming folded in, and a description of every
// field learned, updated or appended. Neither argument is modified.
//
// A new field is added as is. A stored string is replaced only by a more
// detailed one (see IsMoreDetailed). Lists are unioned. The recurring pattern
// fields of patternsInsights grow as a dated log instead of being replaced.
// Empty incoming values are ignored and other combinations are skipped.
func (m Merger) Merge(existing, incoming Details) Result {
	merged := Clone(existing)
	changes := []string{}

	for _, c := range Categories {
		fields := incoming[c]
		if len(fields) == 0 {
			continue
		}

		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			in := fields[name]
			if in.IsEmpty() {
				continue
			}
			if change, ok := m.mergeField(merged, c, name, in); ok {
				changes = append(changes, change)
			}
		}
	}

	return Result{Merged: merged, Changes: changes}
}

func (m Merger) mergeField(merged Details, c Category, name string, in Value) (string, bool) {
	cur, exists := merged.Get(c, name)
	// A stored empty list or object is still a value of that kind.
	if !exists || (cur.kind == KindString && cur.str == "") {
		merged.Set(c, name, in.Clone())
		return fmt.Sprintf("Learned %s.%s: %s", c, name, displayValue(in)), true
	}

	switch {
	case cur.kind == KindString && in.kind == KindString:
		if c == PatternsInsights && appendOnlyPatterns[name] {
			if strings.Contains(cur.str, in.str) {
				return "", false
			}
			line := fmt.Sprintf("[%s] %s", m.now().Format(time.DateOnly), in.str)
			merged.Set(c, name, String(cur.str+"\n"+line))
			return "Added pattern: " + displayValue(in), true
		}
		if !IsMoreDetailed(in.str, cur.str) {
			return "", false
		}
		merged.Set(c, name, in)
		return fmt.Sprintf("Updated %s.%s: %s", c, name, displayValue(in)), true

	case cur.kind == KindList && in.kind == KindList:
		union, added := unionList(cur.list, in.list)
		if len(added) == 0 {
			return "", false
		}
		merged.Set(c, name, Value{kind: KindList, list: union})
		return fmt.Sprintf("Added to %s.%s: %s", c, name, strings.Join(added, ", ")), true

	default:
		if m.OnMismatch != nil {
			m.OnMismatch(c, name, cur.kind, in.kind)
		}
		return "", false
	}
}

func (m Merger) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// IsMoreDetailed reports whether candidate carries more information than
// current: it is longer, or it introduces a conjunction, a list, or numbers
// that current lacks, or it has over one and a half times as many words.
func IsMoreDetailed(candidate, current string) bool {
	switch {
	case utf8.RuneCountInString(candidate) > utf8.RuneCountInString(current):
		return true
	case strings.Contains(candidate, " and ") && !strings.Contains(current, " and "):
		return true
	case strings.Contains(candidate, ", ") && !strings.Contains(current, ", "):
		return true
	case digits.MatchString(candidate) && !digits.MatchString(current):
		return true
	}
	return float64(wordCount(candidate)) > float64(wordCount(current))*1.5
}

func wordCount(s string) int {
	return len(strings.Split(s, " "))
}

// unionList returns existing followed by the incoming elements it lacks,
// without duplicates, along with those new elements.
func unionList(existing, incoming []string) (union, added []string) {
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, e := range existing {
		if !seen[e] {
			seen[e] = true
			union = append(union, e)
		}
	}
	for _, e := range incoming {
		if !seen[e] {
			seen[e] = true
			union = append(union, e)
			added = append(added, e)
		}
	}
	return union, added
}

func displayValue(v Value) string {
	s := v.Display()
	r := []rune(s)
	if len(r) > displayLimit {
		return string(r[:displayLimit]) + "..."
	}
	return s
}
