package entity

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is one invoice document, possibly spanning several PDF pages.
// (Number, Company) identifies it for deduplication.
type Invoice struct {
	Document          string              `json:"document"`
	Number            string              `json:"number"`
	Company           string              `json:"company"`
	VATNumber         string              `json:"vat_number"`
	IssueDate         time.Time           `json:"issue_date"`
	Origin            string              `json:"origin"`
	Destination       string              `json:"destination"`
	DeliveryCondition string              `json:"delivery_condition"`
	DeliveryLocation  int                 `json:"delivery_location"`
	Currency          string              `json:"currency"`
	CreditNote        bool                `json:"credit_note"`
	TotalValue        decimal.NullDecimal `json:"total_value"`
	GrossWeight       decimal.NullDecimal `json:"gross_weight"`
	NetWeight         decimal.NullDecimal `json:"net_weight"`
	Pages             []int               `json:"pages"`
	Items             []LineItem          `json:"items"`

	// Filled by the currency converter.
	TargetCurrency string              `json:"target_currency,omitempty"`
	ExchangeRate   decimal.NullDecimal `json:"exchange_rate"`
	RateDate       time.Time           `json:"rate_date"`
	RateStale      bool                `json:"rate_stale"`

	// Review notes accumulated along the pipeline; written to the review column.
	Flags []string `json:"flags,omitempty"`
}

// LineItem is one NC8 tariff code entry of an invoice. Seq is the explicit
// page-order position used by remainder assignment.
type LineItem struct {
	Seq           int                 `json:"seq"`
	Page          int                 `json:"page"`
	NC8           string              `json:"nc8"`
	DeclaredValue decimal.NullDecimal `json:"declared_value"`
	DeclaredGross decimal.NullDecimal `json:"declared_gross"`

	NetWeight    decimal.NullDecimal `json:"net_weight"`
	GrossWeight  decimal.NullDecimal `json:"gross_weight"`
	Value        decimal.NullDecimal `json:"value"`
	TargetValue  decimal.NullDecimal `json:"target_value"`
	NetEstimated bool                `json:"net_estimated"`
	Flags        []string            `json:"flags,omitempty"`
}

// Key is the deduplication identity of an invoice.
type Key struct {
	Number  string
	Company string
}

func (inv *Invoice) Key() Key {
	return Key{Number: strings.TrimSpace(inv.Number), Company: strings.TrimSpace(inv.Company)}
}

// Clone returns a deep copy so later stages can enrich without touching their input.
func (inv *Invoice) Clone() Invoice {
	out := *inv
	out.Pages = slices.Clone(inv.Pages)
	out.Flags = slices.Clone(inv.Flags)
	out.Items = make([]LineItem, len(inv.Items))
	for i, it := range inv.Items {
		it.Flags = slices.Clone(it.Flags)
		out.Items[i] = it
	}
	return out
}

// Flag appends a review note once.
func (inv *Invoice) Flag(note string) {
	if !slices.Contains(inv.Flags, note) {
		inv.Flags = append(inv.Flags, note)
	}
}

// LastBySeq returns the index of the item with the highest Seq, or -1.
func LastBySeq(items []LineItem) int {
	last := -1
	for i := range items {
		if last < 0 || items[i].Seq > items[last].Seq {
			last = i
		}
	}
	return last
}
