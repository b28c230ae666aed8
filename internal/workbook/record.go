package workbook

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/intrastat-extractor/internal/assemble"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
)

// Column keys the merger knows how to fill. A profile column with any other
// key is written blank unless it carries a formula.
const (
	KeyNrCrt             = "nr_crt"
	KeyCompany           = "company"
	KeyInvoiceNumber     = "invoice_number"
	KeyNC8               = "nc8_code"
	KeyOrigin            = "origin"
	KeyDestination       = "destination"
	KeyValue             = "value"
	KeyCurrency          = "currency"
	KeyNetWeight         = "net_weight"
	KeyGrossWeight       = "gross_weight"
	KeyIssueDate         = "issue_date"
	KeyExchangeRate      = "exchange_rate"
	KeyTargetValue       = "target_value"
	KeyVATNumber         = "vat_number"
	KeyDeliveryLocation  = "delivery_location"
	KeyDeliveryCondition = "delivery_condition"
	KeyPercentage        = "percentage"
	KeyReview            = "review"
)

// record is one line item flattened with its invoice header, keyed by column.
type record struct {
	invoice *entity.Invoice
	values  map[string]any
	notes   []string
}

func flatten(inv *entity.Invoice, percentage decimal.Decimal) []*record {
	out := make([]*record, 0, len(inv.Items))
	for i := range inv.Items {
		it := inv.Items[i]
		v := map[string]any{
			KeyCompany:           inv.Company,
			KeyInvoiceNumber:     inv.Number,
			KeyNC8:               assemble.FormatNC8(it.NC8),
			KeyOrigin:            inv.Origin,
			KeyDestination:       inv.Destination,
			KeyValue:             nullable(it.Value),
			KeyCurrency:          inv.Currency,
			KeyNetWeight:         nullable(it.NetWeight),
			KeyGrossWeight:       nullable(it.GrossWeight),
			KeyExchangeRate:      nullable(inv.ExchangeRate),
			KeyTargetValue:       nullable(it.TargetValue),
			KeyVATNumber:         inv.VATNumber,
			KeyDeliveryLocation:  inv.DeliveryLocation,
			KeyDeliveryCondition: inv.DeliveryCondition,
			KeyPercentage:        percentage,
		}
		if !inv.IssueDate.IsZero() {
			v[KeyIssueDate] = inv.IssueDate
		}
		var notes []string
		if i == 0 {
			notes = append(notes, inv.Flags...)
		}
		notes = append(notes, it.Flags...)
		out = append(out, &record{invoice: inv, values: v, notes: notes})
	}
	return out
}

func nullable(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}

func (r *record) review() string {
	return strings.Join(r.notes, "; ")
}
