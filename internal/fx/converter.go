package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/distribute"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
)

// FlagStaleRate marks an invoice converted with a rate cached for another date.
const FlagStaleRate = "exchange rate reused from an earlier date"

// Converter resolves a rate per invoice and fills the target-currency values.
type Converter struct {
	fetcher RateFetcher
	cache   *Cache
	store   *Store
	target  string
	timeout time.Duration
	retries int
	backoff time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type ConverterOption func(*Converter)

// WithStore persists every fetched rate.
func WithStore(s *Store) ConverterOption {
	return func(c *Converter) { c.store = s }
}

// WithRetry sets the per-attempt timeout, the number of retries after the
// first attempt and the initial backoff, which doubles on each retry.
func WithRetry(timeout time.Duration, retries int, backoff time.Duration) ConverterOption {
	return func(c *Converter) {
		c.timeout = timeout
		c.retries = retries
		c.backoff = backoff
	}
}

func WithClock(now func() time.Time) ConverterOption {
	return func(c *Converter) { c.now = now }
}

func NewConverter(fetcher RateFetcher, cache *Cache, target string, logger *slog.Logger, opts ...ConverterOption) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Converter{
		fetcher: fetcher,
		cache:   cache,
		target:  target,
		timeout: 5 * time.Second,
		retries: 3,
		backoff: 500 * time.Millisecond,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert returns an enriched copy of inv carrying the rate and a
// target-currency value on every item. The converted item values sum exactly
// to the converted total. When no rate can be resolved the copy is flagged,
// its converted fields stay unset and a CURRENCY_RESOLUTION_FAILURE is returned.
func (c *Converter) Convert(ctx context.Context, inv entity.Invoice) (entity.Invoice, error) {
	logger := common.LoggerFromContext(ctx, c.logger)
	out := inv.Clone()
	out.TargetCurrency = c.target

	var entry RateEntry
	stale := false
	if out.Currency == c.target {
		entry = RateEntry{Pair: Pair{out.Currency, c.target}, Date: out.IssueDate, Rate: decimal.NewFromInt(1), ObservedOn: out.IssueDate}
	} else {
		if out.IssueDate.IsZero() {
			out.Flag("exchange rate unresolved: issue date missing")
			return out, common.NewAppError(common.CodeCurrencyFailure, fmt.Sprintf("invoice %s has no issue date", out.Number), nil)
		}
		var err error
		entry, stale, err = c.Resolve(ctx, Pair{Base: out.Currency, Quote: c.target}, PreviousWorkday(out.IssueDate))
		if err != nil {
			out.Flag(fmt.Sprintf("exchange rate %s/%s unresolved", out.Currency, c.target))
			logger.Warn("fx.convert.failed", "invoice", out.Number, "currency", out.Currency, "error", err)
			return out, err
		}
	}

	out.ExchangeRate = decimal.NewNullDecimal(entry.Rate)
	out.RateDate = entry.ObservedOn
	out.RateStale = stale
	if stale {
		out.Flag(FlagStaleRate)
	}
	if !out.TotalValue.Valid {
		return out, nil
	}

	slices.SortStableFunc(out.Items, func(a, b entity.LineItem) int { return a.Seq - b.Seq })
	values := make([]decimal.Decimal, len(out.Items))
	sum := decimal.Zero
	for i, it := range out.Items {
		if it.Value.Valid {
			values[i] = it.Value.Decimal
			sum = sum.Add(it.Value.Decimal)
		}
	}
	// The item values, not the stated total, are converted: they differ when
	// the distributor declined to split a negative total.
	converted := distribute.Allocate(sum.Mul(entry.Rate), values, distribute.Places)
	for i := range out.Items {
		out.Items[i].TargetValue = decimal.NewNullDecimal(converted[i])
	}
	logger.Debug("fx.convert.ok", "invoice", out.Number, "rate", entry.Rate.String(), "stale", stale)
	return out, nil
}

// Resolve looks the rate up in the cache, then asks the fetcher with bounded
// retries, then falls back to the latest cached rate for the pair. stale is
// true only for that last case.
func (c *Converter) Resolve(ctx context.Context, pair Pair, asOf time.Time) (RateEntry, bool, error) {
	logger := common.LoggerFromContext(ctx, c.logger)
	if e, ok := c.cache.Get(pair, asOf); ok {
		return e, false, nil
	}

	q, fetchErr := c.fetch(ctx, pair, asOf)
	if fetchErr == nil {
		e := RateEntry{Pair: pair, Date: asOf, Rate: q.Rate, ObservedOn: q.ObservedOn, FetchedAt: c.now().UTC()}
		c.cache.Put(e)
		if c.store != nil {
			if err := c.store.Put(e); err != nil {
				logger.Warn("fx.store.put_failed", "pair", pair.String(), "error", err)
			}
		}
		return e, false, nil
	}

	if e, ok := c.cache.Latest(pair); ok {
		logger.Warn("fx.rate.stale", "pair", pair.String(), "as_of", asOf.Format(dateLayout), "cached_for", e.Date.Format(dateLayout), "error", fetchErr)
		return e, true, nil
	}
	return RateEntry{}, false, common.NewAppError(common.CodeCurrencyFailure,
		fmt.Sprintf("no rate for %s on %s", pair, asOf.Format(dateLayout)), fetchErr)
}

func (c *Converter) fetch(ctx context.Context, pair Pair, asOf time.Time) (Quote, error) {
	logger := common.LoggerFromContext(ctx, c.logger)
	var lastErr error
	delay := c.backoff
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			logger.Info("fx.fetch.retry", "pair", pair.String(), "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", lastErr)
			select {
			case <-ctx.Done():
				return Quote{}, errors.Join(lastErr, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		q, err := c.fetcher.FetchRate(attemptCtx, pair.Base, pair.Quote, asOf)
		cancel()
		if err == nil {
			if !q.Rate.IsPositive() {
				lastErr = fmt.Errorf("non-positive rate %s for %s", q.Rate, pair)
				continue
			}
			return q, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return Quote{}, lastErr
}
