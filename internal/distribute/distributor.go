// Package distribute splits invoice totals across NC8 line items so that the
// per-item figures add up exactly to the stated totals.
package distribute

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
)

// Review notes written by the distributor.
const (
	FlagEqualShares     = "no declared values, equal shares used"
	FlagMissingDeclared = "declared value missing, zero share"
	FlagNetEstimated    = "net weight estimated from gross"
	FlagValueFromItems  = "total value taken from line items"
	FlagMissingValue    = "total value missing"
	FlagMissingWeights  = "weights missing"
	FlagNegativeTotal   = "negative total on a non-credit document, not distributed"
	FlagRemainderSign   = "rounding remainder reversed the sign of this share"
)

type Distributor struct {
	percentage decimal.Decimal
	places     int32
	logger     *slog.Logger
}

// New builds a distributor for one batch. percentage scales gross weight into
// an estimated net weight where the invoice states no net weight.
func New(percentage float64, logger *slog.Logger) (*Distributor, error) {
	if percentage < 0 || percentage > 1 {
		return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("percentage %v outside [0, 1]", percentage), common.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{
		percentage: decimal.NewFromFloat(percentage),
		places:     Places,
		logger:     logger,
	}, nil
}

// Distribute returns an enriched copy of inv with per-item net weight, gross
// weight and value filled. The input is not modified. An invoice without line
// items is a structural failure.
func (d *Distributor) Distribute(ctx context.Context, inv entity.Invoice) (entity.Invoice, error) {
	logger := common.LoggerFromContext(ctx, d.logger)
	if len(inv.Items) == 0 {
		logger.Warn("distribute.invoice.empty", "invoice", inv.Number)
		return inv, common.NewAppError(common.CodeStructuralFailure, fmt.Sprintf("invoice %s has no line items", inv.Number), nil)
	}

	out := inv.Clone()
	slices.SortStableFunc(out.Items, func(a, b entity.LineItem) int { return a.Seq - b.Seq })

	valueShares := d.valueWeights(&out)
	grossShares := valueShares
	if g, ok := declaredGross(out.Items); ok {
		grossShares = g
	}

	switch {
	case out.TotalValue.Valid && out.TotalValue.Decimal.IsNegative() && !out.CreditNote:
		d.fill(out.Items, decimal.Zero, valueShares, func(it *entity.LineItem, v decimal.Decimal) {
			it.Value = decimal.NewNullDecimal(v)
		})
		out.Flag(FlagNegativeTotal)
	case out.TotalValue.Valid:
		d.fill(out.Items, out.TotalValue.Decimal, valueShares, func(it *entity.LineItem, v decimal.Decimal) {
			it.Value = decimal.NewNullDecimal(v)
		})
	case allDeclared(out.Items):
		total := decimal.Zero
		for i := range out.Items {
			v := out.Items[i].DeclaredValue.Decimal.Round(d.places)
			if out.CreditNote {
				v = v.Neg()
			}
			out.Items[i].Value = decimal.NewNullDecimal(v)
			total = total.Add(v)
		}
		out.TotalValue = decimal.NewNullDecimal(total)
		out.Flag(FlagValueFromItems)
	default:
		out.Flag(FlagMissingValue)
	}

	if out.GrossWeight.Valid {
		d.fill(out.Items, nonNegative(out.GrossWeight.Decimal), grossShares, func(it *entity.LineItem, v decimal.Decimal) {
			it.GrossWeight = decimal.NewNullDecimal(v)
		})
	}

	switch {
	case out.NetWeight.Valid:
		d.fill(out.Items, nonNegative(out.NetWeight.Decimal), valueShares, func(it *entity.LineItem, v decimal.Decimal) {
			it.NetWeight = decimal.NewNullDecimal(v)
		})
	case out.GrossWeight.Valid:
		for i := range out.Items {
			it := &out.Items[i]
			it.NetWeight = decimal.NewNullDecimal(it.GrossWeight.Decimal.Mul(d.percentage).Round(d.places))
			it.NetEstimated = true
		}
		out.Flag(FlagNetEstimated)
	default:
		out.Flag(FlagMissingWeights)
	}

	logger.Debug("distribute.invoice.ok", "invoice", out.Number, "items", len(out.Items))
	return out, nil
}

// fill allocates total over items by weights. The remainder share of the last
// item can come out with the opposite sign of total when many shares round up;
// that item is flagged.
func (d *Distributor) fill(items []entity.LineItem, total decimal.Decimal, weights []decimal.Decimal, set func(*entity.LineItem, decimal.Decimal)) {
	shares := Allocate(total, weights, d.places)
	for i := range items {
		set(&items[i], shares[i])
	}
	last := entity.LastBySeq(items)
	if last >= 0 && shares[last].Sign()*total.Sign() < 0 {
		it := &items[last]
		if !slices.Contains(it.Flags, FlagRemainderSign) {
			it.Flags = append(it.Flags, FlagRemainderSign)
		}
	}
}

// valueWeights picks the distribution basis: declared values where any item
// carries one, equal shares otherwise.
func (d *Distributor) valueWeights(inv *entity.Invoice) []decimal.Decimal {
	weights := make([]decimal.Decimal, len(inv.Items))
	declared := false
	for i, it := range inv.Items {
		if it.DeclaredValue.Valid && !it.DeclaredValue.Decimal.IsZero() {
			weights[i] = it.DeclaredValue.Decimal.Abs()
			declared = true
		}
	}
	if !declared {
		if len(inv.Items) > 1 {
			inv.Flag(FlagEqualShares)
		}
		return equal(len(inv.Items))
	}
	for i := range inv.Items {
		if weights[i].IsZero() {
			weights[i] = decimal.Zero
			inv.Items[i].Flags = append(inv.Items[i].Flags, FlagMissingDeclared)
		}
	}
	return weights
}

func declaredGross(items []entity.LineItem) ([]decimal.Decimal, bool) {
	weights := make([]decimal.Decimal, len(items))
	for i, it := range items {
		if !it.DeclaredGross.Valid || it.DeclaredGross.Decimal.IsZero() {
			return nil, false
		}
		weights[i] = it.DeclaredGross.Decimal.Abs()
	}
	return weights, true
}

// nonNegative clamps a weight total; a negative mass cannot be split.
func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func allDeclared(items []entity.LineItem) bool {
	for _, it := range items {
		if !it.DeclaredValue.Valid {
			return false
		}
	}
	return true
}

func equal(n int) []decimal.Decimal {
	w := make([]decimal.Decimal, n)
	for i := range w {
		w[i] = decimal.NewFromInt(1)
	}
	return w
}
