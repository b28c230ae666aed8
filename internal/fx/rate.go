// Package fx resolves exchange rates and converts invoice values into the
// target currency.
package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Pair is a currency pair; a rate is the amount of Quote bought by one unit of Base.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p Pair) String() string { return p.Base + "/" + p.Quote }

// Quote is a rate as published by a rate source, with its observation date.
type Quote struct {
	Rate       decimal.Decimal
	ObservedOn time.Time
}

// RateEntry is one cached rate, keyed by pair and requested as-of date.
type RateEntry struct {
	Pair       Pair            `json:"pair"`
	Date       time.Time       `json:"date"`
	Rate       decimal.Decimal `json:"rate"`
	ObservedOn time.Time       `json:"observed_on"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

func entryKey(p Pair, date time.Time) string {
	return fmt.Sprintf("%s/%s/%s", p.Base, p.Quote, date.Format(dateLayout))
}

// RateFetcher is the external rate source.
type RateFetcher interface {
	FetchRate(ctx context.Context, base, quote string, asOf time.Time) (Quote, error)
}

// PreviousWorkday returns the last Monday..Friday strictly before t.
func PreviousWorkday(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
