package workbook

import (
	"fmt"
	"regexp"
	"strconv"
)

// aggregateRe matches a single aggregate over one contiguous column range,
// e.g. SUM(G2:G40) or SUBTOTAL(9,$G$2:$G$40).
var aggregateRe = regexp.MustCompile(`(?i)^(=?\s*(?:SUM|SUBTOTAL|AVERAGE|MIN|MAX|COUNT|COUNTA)\(\s*(?:\d+\s*,\s*)?)(\$?[A-Z]{1,3}\$?)(\d+)(:)(\$?[A-Z]{1,3}\$?)(\d+)(\s*\)\s*)$`)

// extendAggregate grows the range of an aggregate formula ending at lastRow
// by k rows. Other formulas are returned unchanged with ok false.
func extendAggregate(formula string, lastRow, k int) (string, bool) {
	m := aggregateRe.FindStringSubmatch(formula)
	if m == nil {
		return formula, false
	}
	end, err := strconv.Atoi(m[6])
	if err != nil || end != lastRow {
		return formula, false
	}
	return fmt.Sprintf("%s%s%s%s%s%d%s", m[1], m[2], m[3], m[4], m[5], end+k, m[7]), true
}

func isAggregate(formula string) bool {
	return aggregateRe.MatchString(formula)
}
