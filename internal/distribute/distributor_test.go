package distribute

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func item(seq int, declared string) entity.LineItem {
	it := entity.LineItem{Seq: seq, NC8: "87089997"}
	if declared != "" {
		it.DeclaredValue = nd(declared)
	}
	return it
}

var _ = Describe("Distributor", func() {
	var (
		dist *Distributor
		inv  entity.Invoice
		out  entity.Invoice
		err  error
	)

	BeforeEach(func() {
		var newErr error
		dist, newErr = New(0.6, nil)
		Expect(newErr).NotTo(HaveOccurred())
	})

	JustBeforeEach(func() {
		out, err = dist.Distribute(context.Background(), inv)
	})

	When("declared values are present", func() {
		BeforeEach(func() {
			inv = entity.Invoice{
				Number:      "9100001",
				TotalValue:  nd("1000.00"),
				NetWeight:   nd("1000.00"),
				GrossWeight: nd("1100.00"),
				Items:       []entity.LineItem{item(1, "500"), item(2, "300"), item(3, "200")},
			}
		})

		It("should distribute net weight by declared value", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Items[0].NetWeight.Decimal.StringFixed(2)).To(Equal("500.00"))
			Expect(out.Items[1].NetWeight.Decimal.StringFixed(2)).To(Equal("300.00"))
			Expect(out.Items[2].NetWeight.Decimal.StringFixed(2)).To(Equal("200.00"))
		})

		It("should keep every quantity summing to its total", func() {
			var net, gross, value decimal.Decimal
			for _, it := range out.Items {
				net = net.Add(it.NetWeight.Decimal)
				gross = gross.Add(it.GrossWeight.Decimal)
				value = value.Add(it.Value.Decimal)
			}
			Expect(net.Equal(inv.NetWeight.Decimal)).To(BeTrue())
			Expect(gross.Equal(inv.GrossWeight.Decimal)).To(BeTrue())
			Expect(value.Equal(inv.TotalValue.Decimal)).To(BeTrue())
		})

		It("should not modify the input invoice", func() {
			Expect(inv.Items[0].NetWeight.Valid).To(BeFalse())
		})
	})

	When("items arrive out of sequence", func() {
		BeforeEach(func() {
			inv = entity.Invoice{
				Number:     "R1",
				TotalValue: nd("100"),
				Items:      []entity.LineItem{item(3, ""), item(1, ""), item(2, "")},
			}
		})

		It("should give the remainder to the highest Seq", func() {
			Expect(out.Items[0].Seq).To(Equal(1))
			last := out.Items[entity.LastBySeq(out.Items)]
			Expect(last.Seq).To(Equal(3))
			Expect(last.Value.Decimal.StringFixed(2)).To(Equal("33.34"))
		})

		It("should flag equal shares", func() {
			Expect(out.Flags).To(ContainElement(FlagEqualShares))
		})
	})

	When("many equal shares round up past the total", func() {
		BeforeEach(func() {
			inv = entity.Invoice{Number: "M40", TotalValue: nd("1.00")}
			for seq := 1; seq <= 40; seq++ {
				inv.Items = append(inv.Items, item(seq, ""))
			}
		})

		It("should still sum to the total", func() {
			sum := decimal.Zero
			for _, it := range out.Items {
				sum = sum.Add(it.Value.Decimal)
			}
			Expect(sum.StringFixed(2)).To(Equal("1.00"))
		})

		It("should flag the negative remainder item only", func() {
			last := out.Items[entity.LastBySeq(out.Items)]
			Expect(last.Value.Decimal.StringFixed(2)).To(Equal("-0.17"))
			Expect(last.Flags).To(ContainElement(FlagRemainderSign))
			Expect(out.Items[0].Value.Decimal.StringFixed(2)).To(Equal("0.03"))
			Expect(out.Items[0].Flags).NotTo(ContainElement(FlagRemainderSign))
		})
	})

	When("net weight is missing but gross is stated", func() {
		BeforeEach(func() {
			inv = entity.Invoice{
				Number:      "G1",
				TotalValue:  nd("300"),
				GrossWeight: nd("100"),
				Items:       []entity.LineItem{item(1, "200"), item(2, "100")},
			}
		})

		It("should estimate net from the gross share", func() {
			Expect(out.Items[0].GrossWeight.Decimal.StringFixed(2)).To(Equal("66.67"))
			Expect(out.Items[0].NetWeight.Decimal.StringFixed(2)).To(Equal("40.00"))
			Expect(out.Items[1].NetWeight.Decimal.StringFixed(2)).To(Equal("20.00"))
			Expect(out.Items[0].NetEstimated).To(BeTrue())
			Expect(out.Flags).To(ContainElement(FlagNetEstimated))
		})
	})

	When("there is a single line item", func() {
		BeforeEach(func() {
			inv = entity.Invoice{
				Number:     "S1",
				TotalValue: nd("12.34"),
				NetWeight:  nd("5.5"),
				Items:      []entity.LineItem{item(1, "")},
			}
		})

		It("should receive every total in full", func() {
			Expect(out.Items[0].Value.Decimal.StringFixed(2)).To(Equal("12.34"))
			Expect(out.Items[0].NetWeight.Decimal.StringFixed(2)).To(Equal("5.50"))
			Expect(out.Flags).NotTo(ContainElement(FlagEqualShares))
		})
	})

	When("the invoice is a credit note", func() {
		BeforeEach(func() {
			inv = entity.Invoice{
				Number:     "CN1",
				CreditNote: true,
				TotalValue: nd("-90"),
				NetWeight:  nd("9"),
				Items:      []entity.LineItem{item(1, "60"), item(2, "30")},
			}
		})

		It("should split the negative value by magnitude", func() {
			Expect(out.Items[0].Value.Decimal.StringFixed(2)).To(Equal("-60.00"))
			Expect(out.Items[1].Value.Decimal.StringFixed(2)).To(Equal("-30.00"))
			Expect(out.Items[0].NetWeight.Decimal.StringFixed(2)).To(Equal("6.00"))
		})
	})

	When("an ordinary invoice states a negative total", func() {
		BeforeEach(func() {
			inv = entity.Invoice{
				Number:     "N1",
				TotalValue: nd("-50"),
				Items:      []entity.LineItem{item(1, "30"), item(2, "20")},
			}
		})

		It("should give every item zero and flag it", func() {
			Expect(out.Items[0].Value.Decimal.IsZero()).To(BeTrue())
			Expect(out.Items[1].Value.Decimal.IsZero()).To(BeTrue())
			Expect(out.Flags).To(ContainElement(FlagNegativeTotal))
		})
	})

	When("the total value is missing but every item declares one", func() {
		BeforeEach(func() {
			inv = entity.Invoice{
				Number: "V1",
				Items:  []entity.LineItem{item(1, "10.5"), item(2, "4.5")},
			}
		})

		It("should take the total from the items", func() {
			Expect(out.TotalValue.Decimal.StringFixed(2)).To(Equal("15.00"))
			Expect(out.Flags).To(ContainElement(FlagValueFromItems))
			Expect(out.Flags).To(ContainElement(FlagMissingWeights))
		})
	})

	When("the invoice has no line items", func() {
		BeforeEach(func() {
			inv = entity.Invoice{Number: "E1", TotalValue: nd("10")}
		})

		It("should return a structural failure", func() {
			Expect(common.IsCode(err, common.CodeStructuralFailure)).To(BeTrue())
		})
	})
})

var _ = Describe("New", func() {
	It("should reject a percentage outside [0, 1]", func() {
		_, err := New(1.5, nil)
		Expect(common.IsCode(err, common.CodeConfig)).To(BeTrue())
	})
})
