package assemble

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	reNumberJunk = regexp.MustCompile(`[^\d.,\-]`)
	reDigits     = regexp.MustCompile(`\D`)
)

// ParseNumber reads amounts printed with either European or English
// separators. When both '.' and ',' occur, the one appearing last is the
// decimal separator. A single separator kind that repeats is a thousands
// separator; otherwise it is the decimal separator.
func ParseNumber(s string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return decimal.Zero, errors.New("empty number")
	}
	neg := strings.HasPrefix(raw, "-") || strings.HasSuffix(raw, "-")
	t := strings.ReplaceAll(reNumberJunk.ReplaceAllString(raw, ""), "-", "")

	dot, comma := strings.LastIndex(t, "."), strings.LastIndex(t, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			t = strings.ReplaceAll(t, ",", "")
		} else {
			t = strings.ReplaceAll(t, ".", "")
			t = strings.ReplaceAll(t, ",", ".")
		}
	case strings.Count(t, ".") > 1:
		t = strings.ReplaceAll(t, ".", "")
	case strings.Count(t, ",") > 1:
		t = strings.ReplaceAll(t, ",", "")
	default:
		t = strings.ReplaceAll(t, ",", ".")
	}

	d, err := decimal.NewFromString(t)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse number %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// ParseDate accepts dd.mm.yyyy and dd.mm.yy; two-digit years below 50 are 20xx.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 10:
		return time.Parse("02.01.2006", s)
	case 8:
		var day, month, yy int
		if _, err := fmt.Sscanf(s, "%02d.%02d.%02d", &day, &month, &yy); err != nil {
			return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
		}
		year := 1900 + yy
		if yy < 50 {
			year = 2000 + yy
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day || int(t.Month()) != month {
			return time.Time{}, fmt.Errorf("parse date %q: out of range", s)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("parse date %q: unsupported format", s)
	}
}

// NormalizeNC8 strips everything but digits; ok is false unless exactly eight remain.
func NormalizeNC8(code string) (string, bool) {
	digits := reDigits.ReplaceAllString(code, "")
	return digits, len(digits) == 8
}

// FormatNC8 renders an 8-digit code as "XX XX XXXX"; anything else is returned unchanged.
func FormatNC8(code string) string {
	digits, ok := NormalizeNC8(code)
	if !ok {
		return code
	}
	return digits[:2] + " " + digits[2:4] + " " + digits[4:]
}
