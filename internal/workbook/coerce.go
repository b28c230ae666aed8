package workbook

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/layout"
)

// coerce converts v to the Go value written for the column type. A nil
// result with a nil error means the cell stays blank.
func coerce(col layout.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case layout.Integer:
		return toInt(v)
	case layout.Decimal:
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		return d.Round(col.Precision), nil
	case layout.Date:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("not a date: %v", v)
		}
		if t.IsZero() {
			return nil, nil
		}
		return t, nil
	case layout.CurrencyCode:
		s := strings.ToUpper(strings.TrimSpace(fmt.Sprint(v)))
		if verr := common.CurrencyCode(col.Key, s); verr != nil {
			return nil, verr
		}
		return s, nil
	default:
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" {
			return nil, nil
		}
		if col.MaxLen > 0 {
			if verr := common.MaxLengthRule(col.MaxLen)(col.Key, s); verr != nil {
				return nil, verr
			}
		}
		if re := col.Regexp(); re != nil && !re.MatchString(s) {
			return nil, fmt.Errorf("%q does not match %s", s, re.String())
		}
		return s, nil
	}
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case decimal.Decimal:
		if !n.Equal(n.Truncate(0)) {
			return 0, fmt.Errorf("not an integer: %s", n)
		}
		return n.IntPart(), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	default:
		return decimal.Zero, fmt.Errorf("not a number: %v", v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
