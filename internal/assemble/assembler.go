// Package assemble partitions located pages into invoices and builds their
// headers and ordered line items.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/intrastat-extractor/constants"
	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
	"github.com/joseph-ayodele/intrastat-extractor/internal/layout"
)

// DefaultCurrency is assumed when an invoice prints no currency.
const DefaultCurrency = "EUR"

type Assembler struct {
	profile *layout.Profile
	logger  *slog.Logger
}

func New(profile *layout.Profile, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{profile: profile, logger: logger}
}

type draft struct {
	number   string
	header   map[string]string
	pages    []int
	excluded []int
	rows     []pagedRow
}

type pagedRow struct {
	page int
	row  entity.RawRow
}

// Assemble walks the pages of one document in order. A page whose invoice
// number is empty or equal to the open invoice's number continues that
// invoice; any other number opens a new one.
func (a *Assembler) Assemble(ctx context.Context, document string, pages []entity.PageFields) ([]entity.Invoice, []common.Issue) {
	logger := common.LoggerFromContext(ctx, a.logger)
	var (
		drafts []*draft
		issues []common.Issue
		cur    *draft
	)

	for _, page := range pages {
		number := page.Value(layout.FieldInvoiceNumber)
		if number != "" && (cur == nil || number != cur.number) {
			cur = &draft{number: number, header: map[string]string{}, pages: []int{page.Page}}
			for _, name := range a.headerFields() {
				cur.header[name] = page.Value(name)
			}
			cur.rows = appendRows(cur.rows, page)
			drafts = append(drafts, cur)
			continue
		}

		if cur == nil {
			issues = append(issues, common.Issue{
				Code:     common.CodeAmbiguousContinuation,
				Document: document,
				Page:     page.Page,
				Detail:   "continuation page without a preceding invoice",
			})
			logger.Warn("assemble.page.orphan", "page", page.Page)
			continue
		}

		if field, first, repeated, ok := a.conflict(cur, page); !ok {
			issues = append(issues, common.Issue{
				Code:     common.CodeAmbiguousContinuation,
				Document: document,
				Invoice:  cur.number,
				Page:     page.Page,
				Detail:   fmt.Sprintf("%s differs from first page: %q vs %q", field, first, repeated),
			})
			logger.Warn("assemble.page.ambiguous", "invoice", cur.number, "page", page.Page, "field", field)
			cur.excluded = append(cur.excluded, page.Page)
			continue
		}
		for _, name := range a.headerFields() {
			if cur.header[name] == "" {
				cur.header[name] = page.Value(name)
			}
		}
		cur.pages = append(cur.pages, page.Page)
		cur.rows = appendRows(cur.rows, page)
	}

	invoices := make([]entity.Invoice, 0, len(drafts))
	for _, d := range drafts {
		invoices = append(invoices, a.build(document, d))
	}
	logger.Info("assemble.document.ok", "invoices", len(invoices), "issues", len(issues))
	return invoices, issues
}

// headerFields are the non-table regions; a continuation page repeating one
// of them must repeat it verbatim.
func (a *Assembler) headerFields() []string {
	var names []string
	for _, r := range a.profile.Regions {
		if r.Mode != layout.TableColumn && r.Name != layout.FieldInvoiceNumber {
			names = append(names, r.Name)
		}
	}
	return names
}

func (a *Assembler) conflict(d *draft, page entity.PageFields) (field, first, repeated string, ok bool) {
	for _, name := range a.headerFields() {
		v := page.Value(name)
		if v != "" && d.header[name] != "" && v != d.header[name] {
			return name, d.header[name], v, false
		}
	}
	return "", "", "", true
}

func appendRows(rows []pagedRow, page entity.PageFields) []pagedRow {
	for _, r := range page.Fields[layout.FieldLineItems].Rows {
		rows = append(rows, pagedRow{page: page.Page, row: r})
	}
	return rows
}

func (a *Assembler) build(document string, d *draft) entity.Invoice {
	h := d.header
	inv := entity.Invoice{
		Document:          document,
		Number:            d.number,
		Company:           strings.TrimSpace(h[layout.FieldCompany]),
		VATNumber:         strings.ToUpper(strings.TrimSpace(h[layout.FieldVATNumber])),
		DeliveryCondition: strings.ToUpper(strings.TrimSpace(h[layout.FieldDeliveryCondition])),
		Pages:             d.pages,
	}
	if len(d.excluded) > 0 {
		inv.Flag(fmt.Sprintf("ambiguous continuation pages excluded: %v", d.excluded))
	}
	inv.CreditNote = strings.Contains(strings.ToUpper(h[layout.FieldDocumentType]), "CREDIT NOTE")

	if raw := h[layout.FieldIssueDate]; raw != "" {
		if t, err := ParseDate(raw); err == nil {
			inv.IssueDate = t
		} else {
			inv.Flag("issue date unreadable: " + raw)
		}
	} else {
		inv.Flag("issue date missing")
	}

	if c, ok := constants.Canonicalize(h[layout.FieldOrigin]); ok {
		inv.Origin = string(c)
	}
	if c, ok := constants.CountryFromAddress(h[layout.FieldDestination]); ok {
		inv.Destination = string(c)
	} else if inv.VATNumber != "" {
		if c, ok := constants.CountryFromAddress(inv.VATNumber); ok {
			inv.Destination = string(c)
		}
	}
	inv.DeliveryLocation = deliveryLocation(h[layout.FieldDeliveringPlant], h[layout.FieldPlantCode])

	inv.Currency = strings.ToUpper(strings.TrimSpace(h[layout.FieldCurrency]))
	if inv.Currency == "" {
		inv.Currency = DefaultCurrency
		inv.Flag("currency missing, assumed " + DefaultCurrency)
	}

	inv.TotalValue = a.amount(&inv, h, layout.FieldTotalValue)
	inv.NetWeight = a.amount(&inv, h, layout.FieldNetWeight)
	inv.GrossWeight = a.amount(&inv, h, layout.FieldGrossWeight)
	if inv.CreditNote && inv.TotalValue.Valid && inv.TotalValue.Decimal.IsPositive() {
		inv.TotalValue.Decimal = inv.TotalValue.Decimal.Neg()
	}

	for i, pr := range d.rows {
		item := entity.LineItem{Seq: i + 1, Page: pr.page}
		code, ok := NormalizeNC8(pr.row.Cells["code"])
		item.NC8 = code
		if !ok {
			item.NC8 = pr.row.Cells["code"]
			item.Flags = append(item.Flags, "nc8 code is not 8 digits")
		}
		if v, ok := pr.row.Cells["value"]; ok {
			if dv, err := ParseNumber(v); err == nil {
				item.DeclaredValue = decimal.NewNullDecimal(dv.Abs())
			} else {
				item.Flags = append(item.Flags, "declared value unreadable: "+v)
			}
		}
		if g, ok := pr.row.Cells["gross"]; ok {
			if dg, err := ParseNumber(g); err == nil {
				item.DeclaredGross = decimal.NewNullDecimal(dg.Abs())
			}
		}
		inv.Items = append(inv.Items, item)
	}
	return inv
}

func (a *Assembler) amount(inv *entity.Invoice, h map[string]string, field string) decimal.NullDecimal {
	raw := h[field]
	if raw == "" {
		return decimal.NullDecimal{}
	}
	d, err := ParseNumber(raw)
	if err != nil {
		inv.Flag(fmt.Sprintf("%s unreadable: %s", field, raw))
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func deliveryLocation(plant, plantCode string) int {
	if fields := strings.Fields(plant); len(fields) > 0 {
		return constants.LocationCode(fields[len(fields)-1])
	}
	if town, ok := constants.PlantTown(plantCode); ok {
		return constants.LocationCode(town)
	}
	return constants.DefaultLocationCode
}
