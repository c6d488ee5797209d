package normalizer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v5"
	"github.com/shopspring/decimal"
)

// maxEpochMillis is the largest timestamp a JavaScript Date can hold.
const maxEpochMillis = 8.64e15

// dateLayouts are tried in order. Layouts without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"2006-01",
	"2006",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"1-2-2006",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RubyDate,
	time.UnixDate,
	time.ANSIC,
	"Mon Jan 2 2006",
	"Jan 2, 2006 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// CoerceAmount converts a raw cell into a decimal amount. Strings are
// stripped of everything except digits, '.' and '-', then the longest numeric
// prefix is used, so "$1,234.50" is 1234.50 and "12.5.3" is 12.5. Numbers are
// taken as-is. Anything else, or a string without a numeric prefix, is null.
func CoerceAmount(v any) decimal.NullDecimal {
	switch val := v.(type) {
	case string:
		return amountFromString(val)
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(d)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(val))
	case float32:
		return CoerceAmount(float64(val))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(val)))
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(val))
	case decimal.Decimal:
		return decimal.NewNullDecimal(val)
	default:
		return decimal.NullDecimal{}
	}
}

func amountFromString(s string) decimal.NullDecimal {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)

	prefix := numericPrefix(cleaned)
	if prefix == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// numericPrefix returns the longest prefix of s shaped like -?\d*(\.\d*)?
// containing at least one digit, normalised so decimal can parse it.
func numericPrefix(s string) string {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	intStart := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	intDigits := i - intStart

	fracDigits := 0
	end := i
	if i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		fracDigits = j - i - 1
		if fracDigits > 0 {
			end = j
		}
	}

	if intDigits == 0 && fracDigits == 0 {
		return ""
	}

	num := s[:end]
	if intDigits == 0 {
		// ".5" and "-.5"
		if strings.HasPrefix(num, "-") {
			return "-0" + num[1:]
		}
		return "0" + num
	}
	return num
}

// CoerceDate reads a raw cell as a point in time. Strings are tried against
// common layouts; 11 to 13 digit strings and JSON numbers are millisecond
// epochs. Unparsable values are null.
func CoerceDate(v any) null.Time {
	switch val := v.(type) {
	case string:
		return dateFromString(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return null.Time{}
		}
		return dateFromMillis(f)
	case float64:
		return dateFromMillis(val)
	case int:
		return dateFromMillis(float64(val))
	case int64:
		return dateFromMillis(float64(val))
	case time.Time:
		if val.IsZero() {
			return null.Time{}
		}
		return null.TimeFrom(val.UTC())
	default:
		return null.Time{}
	}
}

func dateFromString(s string) null.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.Time{}
	}

	if n := len(s); n >= 11 && n <= 13 && allDigits(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return null.Time{}
		}
		return dateFromMillis(float64(ms))
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return null.TimeFrom(t.UTC())
		}
	}
	return null.Time{}
}

func dateFromMillis(ms float64) null.Time {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > maxEpochMillis {
		return null.Time{}
	}
	return null.TimeFrom(time.UnixMilli(int64(ms)).UTC())
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// CoerceDescription trims a string cell and collapses inner whitespace.
// Numbers and booleans are rendered as text; nested values are ignored.
func CoerceDescription(v any) null.String {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case bool:
		s = strconv.FormatBool(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return null.String{}
		}
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	default:
		return null.String{}
	}

	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return null.String{}
	}
	return null.StringFrom(s)
}

// textValue renders a scalar cell for tags.
func textValue(v any) (string, bool) {
	desc := CoerceDescription(v)
	if !desc.Valid {
		return "", false
	}
	return desc.String, true
}
