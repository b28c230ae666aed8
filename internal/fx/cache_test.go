package fx

import (
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func TestFX(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "FX Suite")
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var usdRon = Pair{Base: "USD", Quote: "RON"}

func entry(p Pair, date time.Time, rate string, fetched time.Time) RateEntry {
	return RateEntry{Pair: p, Date: date, Rate: decimal.RequireFromString(rate), ObservedOn: date, FetchedAt: fetched}
}

var _ = Describe("Cache", func() {
	var c *Cache

	BeforeEach(func() {
		c = NewCache(2)
	})

	It("should return entries by pair and date", func() {
		c.Put(entry(usdRon, day(2024, 3, 4), "4.55", day(2024, 3, 5)))
		e, ok := c.Get(usdRon, day(2024, 3, 4))
		Expect(ok).To(BeTrue())
		Expect(e.Rate.String()).To(Equal("4.55"))

		_, ok = c.Get(usdRon, day(2024, 3, 5))
		Expect(ok).To(BeFalse())
	})

	It("should evict the entry fetched longest ago", func() {
		c.Put(entry(usdRon, day(2024, 3, 1), "4.50", day(2024, 3, 10)))
		c.Put(entry(usdRon, day(2024, 3, 4), "4.55", day(2024, 3, 2)))
		c.Put(entry(usdRon, day(2024, 3, 5), "4.60", day(2024, 3, 11)))

		Expect(c.Len()).To(Equal(2))
		_, ok := c.Get(usdRon, day(2024, 3, 4))
		Expect(ok).To(BeFalse())
		_, ok = c.Get(usdRon, day(2024, 3, 1))
		Expect(ok).To(BeTrue())
	})

	It("should not evict when replacing an existing key", func() {
		c.Put(entry(usdRon, day(2024, 3, 1), "4.50", day(2024, 3, 1)))
		c.Put(entry(usdRon, day(2024, 3, 4), "4.55", day(2024, 3, 4)))
		c.Put(entry(usdRon, day(2024, 3, 4), "4.56", day(2024, 3, 5)))

		Expect(c.Len()).To(Equal(2))
		e, _ := c.Get(usdRon, day(2024, 3, 4))
		Expect(e.Rate.String()).To(Equal("4.56"))
	})

	It("should return the latest-dated entry of a pair", func() {
		c = NewCache(10)
		c.Put(entry(usdRon, day(2024, 3, 4), "4.55", day(2024, 3, 20)))
		c.Put(entry(usdRon, day(2024, 3, 8), "4.58", day(2024, 3, 9)))
		c.Put(entry(Pair{Base: "GBP", Quote: "RON"}, day(2024, 3, 30), "5.80", day(2024, 3, 30)))

		e, ok := c.Latest(usdRon)
		Expect(ok).To(BeTrue())
		Expect(e.Date).To(Equal(day(2024, 3, 8)))

		_, ok = c.Latest(Pair{Base: "CHF", Quote: "RON"})
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Store", func() {
	var (
		store *Store
		path  string
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "rates.db")
		var err error
		store, err = OpenStore(path)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	It("should persist entries across reopen and warm a cache", func() {
		Expect(store.Put(entry(usdRon, day(2024, 3, 4), "4.5512", day(2024, 3, 5)))).To(Succeed())
		Expect(store.Put(entry(usdRon, day(2024, 3, 5), "4.5600", day(2024, 3, 6)))).To(Succeed())
		Expect(store.Close()).To(Succeed())

		var err error
		store, err = OpenStore(path)
		Expect(err).NotTo(HaveOccurred())

		c := NewCache(10)
		n, err := store.Warm(c)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		e, ok := c.Get(usdRon, day(2024, 3, 4))
		Expect(ok).To(BeTrue())
		Expect(e.Rate.Equal(decimal.RequireFromString("4.5512"))).To(BeTrue())
	})
})

var _ = Describe("PreviousWorkday", func() {
	DescribeTable("skips weekends",
		func(in, want time.Time) {
			Expect(PreviousWorkday(in)).To(Equal(want))
		},
		Entry("tuesday", day(2024, 3, 5), day(2024, 3, 4)),
		Entry("monday", day(2024, 3, 4), day(2024, 3, 1)),
		Entry("sunday", day(2024, 3, 3), day(2024, 3, 1)),
	)
})
