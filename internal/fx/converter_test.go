package fx

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/distribute"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	quote Quote
	err   error
}

func (f *fakeFetcher) FetchRate(_ context.Context, _, _ string, _ time.Time) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.quote, f.err
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

var _ = Describe("Converter", func() {
	var (
		fetcher *fakeFetcher
		cache   *Cache
		conv    *Converter
		inv     entity.Invoice
		out     entity.Invoice
		err     error
	)

	BeforeEach(func() {
		fetcher = &fakeFetcher{quote: Quote{Rate: decimal.RequireFromString("4.9701"), ObservedOn: day(2024, 3, 4)}}
		cache = NewCache(16)
		conv = NewConverter(fetcher, cache, "RON", nil,
			WithRetry(time.Second, 2, time.Millisecond),
			WithClock(func() time.Time { return day(2024, 3, 5) }),
		)
		inv = entity.Invoice{
			Number:     "9100001",
			Currency:   "EUR",
			IssueDate:  day(2024, 3, 5),
			TotalValue: nd("100.00"),
			Items: []entity.LineItem{
				{Seq: 1, Value: nd("33.33")},
				{Seq: 2, Value: nd("33.33")},
				{Seq: 3, Value: nd("33.34")},
			},
		}
	})

	JustBeforeEach(func() {
		out, err = conv.Convert(context.Background(), inv)
	})

	When("the rate is fetched", func() {
		It("should convert every item and match the converted total", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(out.ExchangeRate.Decimal.String()).To(Equal("4.9701"))
			Expect(out.RateDate).To(Equal(day(2024, 3, 4)))
			total := decimal.Zero
			for _, it := range out.Items {
				Expect(it.TargetValue.Valid).To(BeTrue())
				total = total.Add(it.TargetValue.Decimal)
			}
			Expect(total.StringFixed(2)).To(Equal("497.01"))
		})

		It("should cache the rate under the previous workday", func() {
			_, ok := cache.Get(Pair{Base: "EUR", Quote: "RON"}, day(2024, 3, 4))
			Expect(ok).To(BeTrue())
		})
	})

	When("the rate is already cached", func() {
		BeforeEach(func() {
			cache.Put(entry(Pair{Base: "EUR", Quote: "RON"}, day(2024, 3, 4), "4.9700", day(2024, 3, 4)))
		})

		It("should not call the fetcher", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fetcher.calls).To(Equal(0))
			Expect(out.ExchangeRate.Decimal.String()).To(Equal("4.97"))
		})
	})

	When("the currency already is the target", func() {
		BeforeEach(func() {
			inv.Currency = "RON"
		})

		It("should apply a unit rate without fetching", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fetcher.calls).To(Equal(0))
			Expect(out.Items[2].TargetValue.Decimal.StringFixed(2)).To(Equal("33.34"))
		})
	})

	When("the fetch fails and an older rate is cached", func() {
		BeforeEach(func() {
			fetcher.err = errors.New("connection refused")
			cache.Put(entry(Pair{Base: "EUR", Quote: "RON"}, day(2024, 2, 28), "4.9650", day(2024, 2, 28)))
		})

		It("should convert with the stale rate after retrying", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fetcher.calls).To(Equal(3))
			Expect(out.RateStale).To(BeTrue())
			Expect(out.Flags).To(ContainElement(FlagStaleRate))
			Expect(out.ExchangeRate.Decimal.String()).To(Equal("4.965"))
		})
	})

	When("the fetch fails and nothing is cached", func() {
		BeforeEach(func() {
			fetcher.err = errors.New("connection refused")
		})

		It("should leave converted fields unset and flag the invoice", func() {
			Expect(common.IsCode(err, common.CodeCurrencyFailure)).To(BeTrue())
			Expect(out.ExchangeRate.Valid).To(BeFalse())
			Expect(out.Items[0].TargetValue.Valid).To(BeFalse())
			Expect(out.Flags).To(ContainElement(ContainSubstring("unresolved")))
		})
	})

	When("the source publishes a non-positive rate", func() {
		BeforeEach(func() {
			fetcher.quote = Quote{Rate: decimal.Zero, ObservedOn: day(2024, 3, 4)}
		})

		It("should treat it as a failed fetch", func() {
			Expect(common.IsCode(err, common.CodeCurrencyFailure)).To(BeTrue())
		})
	})

	When("a negative total was not distributed", func() {
		BeforeEach(func() {
			fetcher.quote = Quote{Rate: decimal.NewFromInt(5), ObservedOn: day(2024, 3, 4)}
			dist, distErr := distribute.New(0.6, nil)
			Expect(distErr).NotTo(HaveOccurred())
			inv = entity.Invoice{
				Number:     "9100003",
				Currency:   "EUR",
				IssueDate:  day(2024, 3, 5),
				TotalValue: nd("-300"),
				Items: []entity.LineItem{
					{Seq: 1, DeclaredValue: nd("100")},
					{Seq: 2, DeclaredValue: nd("200")},
				},
			}
			inv, distErr = dist.Distribute(context.Background(), inv)
			Expect(distErr).NotTo(HaveOccurred())
		})

		It("should convert the zeroed item values, not the stated total", func() {
			Expect(err).NotTo(HaveOccurred())
			for _, it := range out.Items {
				Expect(it.Value.Decimal.IsZero()).To(BeTrue())
				Expect(it.TargetValue.Decimal.IsZero()).To(BeTrue())
			}
		})
	})

	When("the invoice has no issue date", func() {
		BeforeEach(func() {
			inv.IssueDate = time.Time{}
		})

		It("should fail resolution without fetching", func() {
			Expect(common.IsCode(err, common.CodeCurrencyFailure)).To(BeTrue())
			Expect(fetcher.calls).To(Equal(0))
		})
	})
})
