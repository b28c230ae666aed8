package entity

// RawRow is one line matched by a table_column region. Cells hold the named
// capture groups of the region pattern (code, value, gross, ...).
type RawRow struct {
	Seq   int               `json:"seq"`
	Cells map[string]string `json:"cells"`
}

// RawField is the text a region produced on one page. Page is 1-based.
type RawField struct {
	Name string   `json:"name"`
	Page int      `json:"page"`
	Text string   `json:"text"`
	Rows []RawRow `json:"rows,omitempty"`
}

// Empty reports whether the region produced nothing on its page.
func (f RawField) Empty() bool {
	return f.Text == "" && len(f.Rows) == 0
}

// PageFields is the located field set of a single readable page.
type PageFields struct {
	Page   int                 `json:"page"`
	Fields map[string]RawField `json:"fields"`
}

// Value returns the text of a named field, or "" when the region is absent.
func (p PageFields) Value(name string) string {
	return p.Fields[name].Text
}
