package conflict

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// dateLayouts are the string forms recognised as dates.
var dateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05"}

// AsFloat returns v as a float64 when it is a JSON or Go number. Booleans are not numbers.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	}

	return 0, false
}

// AsTime returns v as a time when it is a time.Time or a date/timestamp string.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}

		return *t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}

	return time.Time{}, false
}

func isBool(v any) bool {
	_, ok := v.(bool)

	return ok
}

func isNumeric(v any) bool {
	_, ok := AsFloat(v)

	return ok
}

func isDate(v any) bool {
	_, ok := AsTime(v)

	return ok
}

// FoldText normalises a string for comparison: NFKC, case folded, whitespace collapsed.
func FoldText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)

	return strings.Join(strings.Fields(s), " ")
}

// FoldKey returns a comparison key so that equal values from different sources group together.
func FoldKey(v any) string {
	if v == nil {
		return "<nil>"
	}

	if s, ok := v.(string); ok {
		return "s:" + FoldText(s)
	}

	if f, ok := AsFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}

	if b, ok := v.(bool); ok {
		return "b:" + strconv.FormatBool(b)
	}

	if t, ok := v.(time.Time); ok {
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return "x:" + fmt.Sprint(v)
	}

	return "j:" + string(raw)
}

// tokens splits folded text into a set of words.
func tokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(FoldText(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}

	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}

	inter := 0

	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}

	union := len(a) + len(b) - inter

	return float64(inter) / float64(union)
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}
