package dealsync

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Sanitizers turn Scalars into typed column values. Every sanitizer is total:
// anything it cannot interpret becomes null, nothing panics or errors.

// groupedNumber matches comma thousands separators such as "650,000.00"
var groupedNumber = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// bounds of the narrowest integer column (status_code is INTEGER)
var (
	minInt = decimal.NewFromInt(math.MinInt32)
	maxInt = decimal.NewFromInt(math.MaxInt32)
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// SanitizeString returns the NFC-normalized, trimmed text, or nil when blank.
func SanitizeString(s Scalar) *string {
	switch s.kind {
	case scalarString, scalarNumber:
		v := strings.TrimSpace(norm.NFC.String(s.text))
		if v == "" {
			return nil
		}
		return &v
	default:
		return nil
	}
}

// SanitizeDecimal parses numbers and numeric strings. The literal strings
// "true" and "false" appear in numeric fields and map to null, never 0 or 1.
func SanitizeDecimal(s Scalar) decimal.NullDecimal {
	var text string
	switch s.kind {
	case scalarNumber:
		text = s.text
	case scalarString:
		text = strings.TrimSpace(s.text)
		if isBoolLiteral(text) {
			return decimal.NullDecimal{}
		}
		if strings.Contains(text, ",") {
			if !groupedNumber.MatchString(text) {
				return decimal.NullDecimal{}
			}
			text = strings.ReplaceAll(text, ",", "")
		}
	default:
		return decimal.NullDecimal{}
	}
	if text == "" {
		return decimal.NullDecimal{}
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// SanitizeInt parses whole numbers. Fractional values and values outside the
// 32-bit integer column range map to null.
func SanitizeInt(s Scalar) *int {
	d := SanitizeDecimal(s)
	if !d.Valid || !d.Decimal.Equal(d.Decimal.Truncate(0)) {
		return nil
	}
	if d.Decimal.LessThan(minInt) || d.Decimal.GreaterThan(maxInt) {
		return nil
	}
	v := int(d.Decimal.IntPart())
	return &v
}

// SanitizeBool accepts JSON booleans, 0/1 and common truthy strings.
func SanitizeBool(s Scalar) *bool {
	var v bool
	switch s.kind {
	case scalarBool:
		v = s.text == "true"
	case scalarNumber, scalarString:
		switch strings.ToLower(strings.TrimSpace(s.text)) {
		case "true", "yes", "y", "1":
			v = true
		case "false", "no", "n", "0":
			v = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &v
}

// SanitizeTimestamp parses a timestamp keeping full precision, normalized to UTC.
func SanitizeTimestamp(s Scalar) *time.Time {
	if s.kind != scalarString {
		return nil
	}
	text := strings.TrimSpace(s.text)
	if text == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// SanitizeDate parses a date-only field and truncates it to the calendar date.
// The calendar date is taken as written, before any zone conversion.
func SanitizeDate(s Scalar) *time.Time {
	if s.kind != scalarString {
		return nil
	}
	text := strings.TrimSpace(s.text)
	if text == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

func isBoolLiteral(text string) bool {
	return strings.EqualFold(text, "true") || strings.EqualFold(text, "false")
}
