package schema

// convert.go turns the text found in import files into typed field values
// and back into the canonical text used for diffs and exports.
//
// Parsing is forgiving about what people put in spreadsheets:
//   - Multiple date formats (US, EU, ISO, etc.)
//   - Currency symbols and thousand separators in numbers
//   - Various boolean representations (yes/no, true/false, 1/0)
//
// Formatting is strict: one canonical text per value, so that two
// representations of the same value never show up as a change.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// DateLayout is the canonical text form of date values.
const DateLayout = "2006-01-02"

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
		"2006-01-02 15:04:05", time.RFC3339,
	}
)

// ParseDate converts a string to pgtype.Date.
// Supports multiple date formats and handles 2-digit years with pivot.
func ParseDate(s string) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return pgtype.Date{Time: truncateDay(t), Valid: true}
		}
	}

	currentYear := time.Now().Year()
	pivotYear := currentYear + TwoDigitYearPivot

	for _, layout := range twoDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return pgtype.Date{Time: t, Valid: true}
		}
	}

	return pgtype.Date{Valid: false}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseNumeric converts a string to pgtype.Numeric.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ParseNumeric(s string) pgtype.Numeric {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Numeric{Valid: false}
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return pgtype.Numeric{Valid: false}
	}

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{Valid: false}
	}

	return n
}

// ParseBool converts a string to pgtype.Bool.
// Accepts various representations: true/false, yes/no, t/f, y/n, 1/0.
func ParseBool(s string) pgtype.Bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return pgtype.Bool{Valid: false}
	}

	switch s {
	case "true", "t", "yes", "y", "1":
		return pgtype.Bool{Bool: true, Valid: true}
	case "false", "f", "no", "n", "0":
		return pgtype.Bool{Bool: false, Valid: true}
	default:
		return pgtype.Bool{Valid: false}
	}
}

// ParseInteger converts a string to pgtype.Int8.
// Integral decimals such as "12.0" (common in spreadsheet exports) are accepted.
func ParseInteger(s string) pgtype.Int8 {
	n := ParseNumeric(s)
	if !n.Valid {
		return pgtype.Int8{Valid: false}
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid || f.Float64 != math.Trunc(f.Float64) {
		return pgtype.Int8{Valid: false}
	}
	if f.Float64 > math.MaxInt64 || f.Float64 < math.MinInt64 {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: int64(f.Float64), Valid: true}
}

// Parse converts raw text into the typed value stored for f.
// Empty input yields nil. The returned error is suitable for showing to users.
func Parse(f *Field, s string) (any, error) {
	s = strings.TrimSpace(s)
	if f.Normalizer != nil && s != "" {
		s = f.Normalizer(s)
	}
	if s == "" {
		return nil, nil
	}

	switch f.Type {
	case FieldNumeric:
		n := ParseNumeric(s)
		if !n.Valid {
			return nil, fmt.Errorf("invalid number format")
		}
		return n, nil
	case FieldInteger:
		n := ParseInteger(s)
		if !n.Valid {
			return nil, fmt.Errorf("invalid whole number")
		}
		return n, nil
	case FieldDate:
		d := ParseDate(s)
		if !d.Valid {
			return nil, fmt.Errorf("invalid date format (use YYYY-MM-DD or similar)")
		}
		return d, nil
	case FieldBool:
		b := ParseBool(s)
		if !b.Valid {
			return nil, fmt.Errorf("must be yes/no, true/false, or 1/0")
		}
		return b, nil
	case FieldEnum:
		for _, ev := range f.EnumValues {
			if strings.EqualFold(ev, s) {
				return ev, nil
			}
		}
		return nil, fmt.Errorf("value must be one of: %s", strings.Join(f.EnumValues, ", "))
	}
	return s, nil
}

// Decode parses text previously produced by Format. Normalizers are skipped.
func Decode(f *Field, s string) (any, error) {
	raw := *f
	raw.Normalizer = nil
	return Parse(&raw, s)
}

// Format renders a typed value in its canonical text form.
// Invalid or missing values render as "".
func Format(f *Field, v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case pgtype.Text:
		if !val.Valid {
			return ""
		}
		return val.String
	case pgtype.Date:
		if !val.Valid {
			return ""
		}
		return val.Time.Format(DateLayout)
	case pgtype.Numeric:
		return formatNumeric(val)
	case pgtype.Bool:
		if !val.Valid {
			return ""
		}
		if val.Bool {
			return "Yes"
		}
		return "No"
	case pgtype.Int8:
		if !val.Valid {
			return ""
		}
		return strconv.FormatInt(val.Int64, 10)
	case time.Time:
		return val.Format(DateLayout)
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func formatNumeric(n pgtype.Numeric) string {
	if !n.Valid || n.NaN {
		return ""
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'f', -1, 64)
}
