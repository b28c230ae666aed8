// Package layout holds the immutable extraction and output profile: which page
// regions carry which invoice fields, and how the output sheet columns are typed.
package layout

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed default_profile.json
var defaultProfile []byte

//go:embed profile.schema.json
var profileSchema []byte

// Mode is the extraction mode of a region.
type Mode string

const (
	SingleLine  Mode = "single_line"
	MultiLine   Mode = "multi_line"
	TableColumn Mode = "table_column"
)

// ColumnType is the semantic type a column value is coerced to before writing.
type ColumnType string

const (
	Integer      ColumnType = "integer"
	Decimal      ColumnType = "decimal"
	Date         ColumnType = "date"
	ShortText    ColumnType = "short_text"
	CurrencyCode ColumnType = "currency_code"
)

// Well-known region names the assembler reads.
const (
	FieldInvoiceNumber     = "invoice_number"
	FieldIssueDate         = "issue_date"
	FieldDocumentType      = "document_type"
	FieldDeliveringPlant   = "delivering_plant"
	FieldPlantCode         = "plant_code"
	FieldCompany           = "company"
	FieldVATNumber         = "vat_number"
	FieldDeliveryCondition = "delivery_condition"
	FieldDestination       = "destination"
	FieldOrigin            = "origin"
	FieldNetWeight         = "net_weight"
	FieldGrossWeight       = "gross_weight"
	FieldLineItems         = "line_items"
	FieldTotalValue        = "total_value"
	FieldCurrency          = "currency"
)

// Rect is a proportional rectangle: x0, y0, x1, y1 as fractions of page width
// and height, measured from the top-left corner.
type Rect [4]float64

// Region maps a field name to a page rectangle and an extraction mode.
type Region struct {
	Name    string `json:"name"`
	Rect    Rect   `json:"rect"`
	Mode    Mode   `json:"mode"`
	Pattern string `json:"pattern,omitempty"`

	re *regexp.Regexp
}

// Regexp returns the compiled pattern, or nil when the region has none.
func (r Region) Regexp() *regexp.Regexp { return r.re }

// Column describes one output sheet column.
type Column struct {
	Key       string     `json:"key"`
	Header    string     `json:"header"`
	Type      ColumnType `json:"type"`
	Precision int32      `json:"precision,omitempty"`
	MaxLen    int        `json:"max_len,omitempty"`
	Pattern   string     `json:"pattern,omitempty"`
	NumFmt    string     `json:"num_fmt,omitempty"`
	Width     float64    `json:"width,omitempty"`
	Total     bool       `json:"total,omitempty"`
	// Formula is a per-row expression; {key} stands for the cell of column
	// key on the same row.
	Formula string `json:"formula,omitempty"`

	re *regexp.Regexp
}

// FormulaRef matches a {key} placeholder in a column formula.
var FormulaRef = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

// Regexp returns the compiled value pattern, or nil when the column has none.
func (c Column) Regexp() *regexp.Regexp { return c.re }

// Profile is loaded once per process and never mutated afterwards.
type Profile struct {
	Name         string   `json:"name"`
	SummaryLabel string   `json:"summary_label,omitempty"`
	Regions      []Region `json:"regions"`
	Columns      []Column `json:"columns"`
}

// DefaultProfile returns the embedded profile.
func DefaultProfile() (*Profile, error) {
	return Parse(defaultProfile)
}

// Load reads a profile from disk; an empty path yields the embedded default.
func Load(path string) (*Profile, error) {
	if path == "" {
		return DefaultProfile()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout %s: %w", path, err)
	}
	p, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("layout %s: %w", path, err)
	}
	return p, nil
}

// Parse validates raw JSON against the profile schema, then checks what a
// schema cannot express (regex syntax, rectangle ordering, required fields).
func Parse(data []byte) (*Profile, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	if p.SummaryLabel == "" {
		p.SummaryLabel = "Total"
	}

	seen := map[string]bool{}
	for i := range p.Regions {
		r := &p.Regions[i]
		if seen[r.Name] {
			return nil, fmt.Errorf("region %q declared twice", r.Name)
		}
		seen[r.Name] = true
		if r.Rect[0] >= r.Rect[2] || r.Rect[1] >= r.Rect[3] {
			return nil, fmt.Errorf("region %q: rect must satisfy x0<x1 and y0<y1", r.Name)
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("region %q: %w", r.Name, err)
			}
			r.re = re
		}
		if r.Mode == TableColumn && (r.re == nil || r.re.SubexpIndex("code") < 0) {
			return nil, fmt.Errorf("region %q: table_column needs a pattern with a (?P<code>...) group", r.Name)
		}
	}
	for _, required := range []string{FieldInvoiceNumber, FieldLineItems} {
		if !seen[required] {
			return nil, fmt.Errorf("region %q is required", required)
		}
	}

	keys := map[string]bool{}
	for i := range p.Columns {
		c := &p.Columns[i]
		if keys[c.Key] {
			return nil, fmt.Errorf("column %q declared twice", c.Key)
		}
		keys[c.Key] = true
		if c.Pattern != "" {
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", c.Key, err)
			}
			c.re = re
		}
		if c.Type == Decimal && c.Precision == 0 {
			c.Precision = 2
		}
	}
	for _, c := range p.Columns {
		for _, m := range FormulaRef.FindAllStringSubmatch(c.Formula, -1) {
			if m[1] == c.Key || !keys[m[1]] {
				return nil, fmt.Errorf("column %q: formula references unknown column %q", c.Key, m[1])
			}
		}
	}
	for _, required := range []string{"company", "invoice_number"} {
		if !keys[required] {
			return nil, fmt.Errorf("column %q is required", required)
		}
	}
	return &p, nil
}

// Region looks up a region by name.
func (p *Profile) Region(name string) (Region, bool) {
	for _, r := range p.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// ColumnIndex returns the 0-based position of a column key, or -1.
func (p *Profile) ColumnIndex(key string) int {
	for i, c := range p.Columns {
		if c.Key == key {
			return i
		}
	}
	return -1
}

func validateSchema(data []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("profile.schema.json", bytes.NewReader(profileSchema)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("profile.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal profile: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("profile does not match schema: %w", err)
	}
	return nil
}
