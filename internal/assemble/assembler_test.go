package assemble

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
	"github.com/joseph-ayodele/intrastat-extractor/internal/layout"
)

func page(num int, header map[string]string, rows ...map[string]string) entity.PageFields {
	p := entity.PageFields{Page: num, Fields: map[string]entity.RawField{}}
	for name, text := range header {
		p.Fields[name] = entity.RawField{Name: name, Page: num, Text: text}
	}
	if len(rows) > 0 {
		f := entity.RawField{Name: layout.FieldLineItems, Page: num}
		for i, cells := range rows {
			f.Rows = append(f.Rows, entity.RawRow{Seq: i + 1, Cells: cells})
		}
		p.Fields[layout.FieldLineItems] = f
	}
	return p
}

var _ = Describe("Assembler", func() {
	var (
		asm      *Assembler
		pages    []entity.PageFields
		invoices []entity.Invoice
		issues   []common.Issue
	)

	BeforeEach(func() {
		profile, err := layout.DefaultProfile()
		Expect(err).NotTo(HaveOccurred())
		asm = New(profile, nil)
		pages = nil
	})

	JustBeforeEach(func() {
		invoices, issues = asm.Assemble(context.Background(), "batch.pdf", pages)
	})

	When("an invoice spans two pages", func() {
		BeforeEach(func() {
			pages = []entity.PageFields{
				page(1, map[string]string{
					layout.FieldInvoiceNumber:   "9100001",
					layout.FieldCompany:         "Auto Parts SRL",
					layout.FieldVATNumber:       "ro15599111",
					layout.FieldIssueDate:       "05.03.2024",
					layout.FieldOrigin:          "Germany",
					layout.FieldDeliveringPlant: "Plant Craiova",
					layout.FieldCurrency:        "eur",
					layout.FieldTotalValue:      "1.000,00",
					layout.FieldNetWeight:       "80,5",
					layout.FieldGrossWeight:     "100,0",
				},
					map[string]string{"code": "8708 99 97", "value": "500,00"},
					map[string]string{"code": "8708 30 91", "value": "300,00"},
				),
				page(2, map[string]string{},
					map[string]string{"code": "87082990", "value": "200,00"},
				),
			}
		})

		It("should produce one invoice without issues", func() {
			Expect(issues).To(BeEmpty())
			Expect(invoices).To(HaveLen(1))
		})

		It("should keep the page order of line items", func() {
			inv := invoices[0]
			Expect(inv.Pages).To(Equal([]int{1, 2}))
			Expect(inv.Items).To(HaveLen(3))
			Expect(inv.Items[0].Seq).To(Equal(1))
			Expect(inv.Items[0].NC8).To(Equal("87089997"))
			Expect(inv.Items[2].Seq).To(Equal(3))
			Expect(inv.Items[2].Page).To(Equal(2))
			Expect(inv.Items[1].DeclaredValue.Decimal.String()).To(Equal("300"))
		})

		It("should build the header", func() {
			inv := invoices[0]
			Expect(inv.Company).To(Equal("Auto Parts SRL"))
			Expect(inv.VATNumber).To(Equal("RO15599111"))
			Expect(inv.Destination).To(Equal("RO"))
			Expect(inv.Origin).To(Equal("DE"))
			Expect(inv.DeliveryLocation).To(Equal(1593))
			Expect(inv.Currency).To(Equal("EUR"))
			Expect(inv.IssueDate).To(Equal(time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)))
			Expect(inv.TotalValue.Decimal.String()).To(Equal("1000"))
			Expect(inv.NetWeight.Decimal.String()).To(Equal("80.5"))
			Expect(inv.GrossWeight.Decimal.String()).To(Equal("100"))
			Expect(inv.Flags).To(BeEmpty())
		})
	})

	When("a page carries a different invoice number", func() {
		BeforeEach(func() {
			pages = []entity.PageFields{
				page(1, map[string]string{layout.FieldInvoiceNumber: "A1", layout.FieldCompany: "X"},
					map[string]string{"code": "11111111"}),
				page(2, map[string]string{layout.FieldInvoiceNumber: "A2", layout.FieldCompany: "X"},
					map[string]string{"code": "22222222"}),
				page(3, map[string]string{layout.FieldInvoiceNumber: "A2"},
					map[string]string{"code": "33333333"}),
			}
		})

		It("should start a new invoice", func() {
			Expect(invoices).To(HaveLen(2))
			Expect(invoices[0].Number).To(Equal("A1"))
			Expect(invoices[1].Number).To(Equal("A2"))
			Expect(invoices[1].Pages).To(Equal([]int{2, 3}))
			Expect(invoices[1].Items).To(HaveLen(2))
		})
	})

	When("the first page has no invoice number", func() {
		BeforeEach(func() {
			pages = []entity.PageFields{
				page(1, map[string]string{}, map[string]string{"code": "11111111"}),
				page(2, map[string]string{layout.FieldInvoiceNumber: "B1"}),
			}
		})

		It("should report the orphan page as ambiguous", func() {
			Expect(issues).To(HaveLen(1))
			Expect(issues[0].Code).To(Equal(common.CodeAmbiguousContinuation))
			Expect(issues[0].Page).To(Equal(1))
			Expect(invoices).To(HaveLen(1))
		})
	})

	When("a continuation page repeats a header with another value", func() {
		BeforeEach(func() {
			pages = []entity.PageFields{
				page(1, map[string]string{layout.FieldInvoiceNumber: "C1", layout.FieldCompany: "First SRL"},
					map[string]string{"code": "11111111"}),
				page(2, map[string]string{layout.FieldCompany: "Other SRL"},
					map[string]string{"code": "22222222"}),
			}
		})

		It("should exclude the page and flag the invoice", func() {
			Expect(issues).To(HaveLen(1))
			Expect(issues[0].Code).To(Equal(common.CodeAmbiguousContinuation))
			Expect(issues[0].Invoice).To(Equal("C1"))
			Expect(invoices[0].Items).To(HaveLen(1))
			Expect(invoices[0].Pages).To(Equal([]int{1}))
			Expect(invoices[0].Flags).To(ContainElement(ContainSubstring("ambiguous continuation")))
		})
	})

	When("the document is a credit note", func() {
		BeforeEach(func() {
			pages = []entity.PageFields{
				page(1, map[string]string{
					layout.FieldInvoiceNumber: "CN7",
					layout.FieldDocumentType:  "Credit Note",
					layout.FieldIssueDate:     "01.04.24",
					layout.FieldTotalValue:    "150,00",
					layout.FieldGrossWeight:   "12",
				}, map[string]string{"code": "11111111", "value": "-150,00"}),
			}
		})

		It("should negate the value but not the weights", func() {
			inv := invoices[0]
			Expect(inv.CreditNote).To(BeTrue())
			Expect(inv.TotalValue.Decimal.String()).To(Equal("-150"))
			Expect(inv.GrossWeight.Decimal.String()).To(Equal("12"))
			Expect(inv.Items[0].DeclaredValue.Decimal.String()).To(Equal("150"))
		})

		It("should assume EUR and flag it", func() {
			Expect(invoices[0].Currency).To(Equal(DefaultCurrency))
			Expect(invoices[0].Flags).To(ContainElement(ContainSubstring("currency missing")))
		})
	})

	When("header values are unreadable", func() {
		BeforeEach(func() {
			pages = []entity.PageFields{
				page(1, map[string]string{
					layout.FieldInvoiceNumber: "D1",
					layout.FieldTotalValue:    "see annex",
				}, map[string]string{"code": "8708"}),
			}
		})

		It("should leave them empty and flag them", func() {
			inv := invoices[0]
			Expect(inv.TotalValue.Valid).To(BeFalse())
			Expect(inv.IssueDate.IsZero()).To(BeTrue())
			Expect(inv.Flags).To(ContainElement("issue date missing"))
			Expect(inv.Flags).To(ContainElement(ContainSubstring("total_value unreadable")))
			Expect(inv.Items[0].NC8).To(Equal("8708"))
			Expect(inv.Items[0].Flags).To(ContainElement("nc8 code is not 8 digits"))
		})

		It("should fall back to the default delivery location", func() {
			Expect(invoices[0].DeliveryLocation).To(Equal(2093))
		})
	})
})
