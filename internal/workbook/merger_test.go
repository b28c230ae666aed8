package workbook

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
	"github.com/joseph-ayodele/intrastat-extractor/internal/layout"
)

const sheet = "Invoices"

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// enriched returns an invoice as it leaves the converter: one item per value.
func enriched(number, company string, values ...string) entity.Invoice {
	inv := entity.Invoice{
		Document:         number + ".pdf",
		Number:           number,
		Company:          company,
		VATNumber:        "RO15599111",
		IssueDate:        time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		Origin:           "DE",
		Destination:      "RO",
		DeliveryLocation: 1593,
		Currency:         "EUR",
		TargetCurrency:   "RON",
		ExchangeRate:     nd("4.9701"),
	}
	total := decimal.Zero
	for i, v := range values {
		d := decimal.RequireFromString(v)
		total = total.Add(d)
		inv.Items = append(inv.Items, entity.LineItem{
			Seq:         i + 1,
			NC8:         "87089997",
			Value:       decimal.NewNullDecimal(d),
			NetWeight:   decimal.NewNullDecimal(d),
			GrossWeight: decimal.NewNullDecimal(d.Mul(decimal.RequireFromString("1.1")).Round(2)),
			TargetValue: decimal.NewNullDecimal(d.Mul(decimal.RequireFromString("4.9701")).Round(2)),
		})
	}
	inv.TotalValue = decimal.NewNullDecimal(total)
	return inv
}

func rawValue(path, cell string) string {
	f, err := excelize.OpenFile(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	v, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	Expect(err).NotTo(HaveOccurred())
	return v
}

func formulaAt(path, cell string) string {
	f, err := excelize.OpenFile(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	v, err := f.GetCellFormula(sheet, cell)
	Expect(err).NotTo(HaveOccurred())
	return v
}

func calcAt(path, cell string) string {
	f, err := excelize.OpenFile(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	v, err := f.CalcCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	Expect(err).NotTo(HaveOccurred())
	return v
}

var _ = Describe("Merger", func() {
	var (
		merger *Merger
		dir    string
		path   string
		ctx    context.Context
	)

	BeforeEach(func() {
		profile, err := layout.DefaultProfile()
		Expect(err).NotTo(HaveOccurred())
		merger = NewMerger(profile, sheet, nil)
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "intrastat.xlsx")
		ctx = context.Background()
	})

	When("the workbook does not exist", func() {
		var (
			res Result
			err error
		)

		JustBeforeEach(func() {
			res, err = merger.Merge(ctx, path, []entity.Invoice{enriched("9100001", "Auto Parts SRL", "500", "300", "200")}, 0.6)
		})

		It("should create it with a header, the rows and a total row", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(Equal(3))
			Expect(res.Rows).To(Equal(3))
			Expect(rawValue(path, "A1")).To(Equal("Nr Crt"))
			Expect(rawValue(path, "C2")).To(Equal("9100001"))
			Expect(rawValue(path, "D2")).To(Equal("87 08 9997"))
			Expect(rawValue(path, "A4")).To(Equal("3"))
			Expect(rawValue(path, "A5")).To(Equal("Total"))
			Expect(formulaAt(path, "G5")).To(Equal("SUM(G2:G4)"))
			Expect(calcAt(path, "G5")).To(Equal("1000"))
		})

		It("should leave no temporary files behind", func() {
			entries, readErr := os.ReadDir(dir)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})
	})

	When("the same invoice is merged twice", func() {
		It("should keep one row and report the duplicate", func() {
			inv := enriched("9100001", "Auto Parts SRL", "500", "300", "200")
			_, err := merger.Merge(ctx, path, []entity.Invoice{inv}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			before, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())

			res, err := merger.Merge(ctx, path, []entity.Invoice{inv}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(Equal(0))
			Expect(res.Duplicates).To(HaveLen(1))
			Expect(res.Duplicates[0].Code).To(Equal(common.CodeDuplicateInvoice))

			after, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(Equal(before))
		})
	})

	When("a batch repeats an invoice", func() {
		It("should write it once", func() {
			inv := enriched("A1", "X SRL", "10")
			res, err := merger.Merge(ctx, path, []entity.Invoice{inv, inv}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(Equal(1))
			Expect(res.Duplicates).To(HaveLen(1))
			Expect(res.Duplicates[0].Detail).To(Equal("repeated within batch"))
		})
	})

	When("new rows are merged above an existing total row", func() {
		BeforeEach(func() {
			_, err := merger.Merge(ctx, path, []entity.Invoice{enriched("9100001", "Auto Parts SRL", "500", "300", "200")}, 0.6)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should grow every summary range by the inserted rows", func() {
			res, err := merger.Merge(ctx, path, []entity.Invoice{enriched("9100002", "Auto Parts SRL", "40", "2.5")}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(Equal(2))
			Expect(res.Rows).To(Equal(5))

			Expect(rawValue(path, "A7")).To(Equal("Total"))
			Expect(formulaAt(path, "G7")).To(Equal("SUM(G2:G6)"))
			Expect(formulaAt(path, "I7")).To(Equal("SUM(I2:I6)"))
			Expect(calcAt(path, "G7")).To(Equal("1042.5"))
		})

		It("should continue the row numbering", func() {
			_, err := merger.Merge(ctx, path, []entity.Invoice{enriched("9100002", "Auto Parts SRL", "40", "2.5")}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			Expect(rawValue(path, "A5")).To(Equal("4"))
			Expect(rawValue(path, "A6")).To(Equal("5"))
		})
	})

	When("an earlier block has its own summary row", func() {
		BeforeEach(func() {
			f := excelize.NewFile()
			Expect(f.SetSheetName("Sheet1", sheet)).To(Succeed())
			Expect(f.SetSheetRow(sheet, "A1", &[]any{"Nr Crt", "Firma", "Nr Factura Marfa", "Cod NC8", "Origine", "Destinatie", "Val Fact"})).To(Succeed())
			Expect(f.SetSheetRow(sheet, "A2", &[]any{1, "Old SRL", "OLD-1", "87 08 9997", "DE", "RO", 10})).To(Succeed())
			Expect(f.SetCellFormula(sheet, "G3", "SUM(G2:G2)")).To(Succeed())
			Expect(f.SetSheetRow(sheet, "A4", &[]any{2, "Old SRL", "OLD-2", "87 08 9997", "DE", "RO", 20})).To(Succeed())
			Expect(f.SetCellFormula(sheet, "G5", "SUM(G2:G4)")).To(Succeed())
			Expect(f.SaveAs(path)).To(Succeed())
			Expect(f.Close()).To(Succeed())
		})

		It("should only extend the trailing summary", func() {
			_, err := merger.Merge(ctx, path, []entity.Invoice{enriched("NEW-1", "New SRL", "5")}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			Expect(rawValue(path, "C5")).To(Equal("NEW-1"))
			Expect(formulaAt(path, "G3")).To(Equal("SUM(G2:G2)"))
			Expect(formulaAt(path, "G6")).To(Equal("SUM(G2:G5)"))
			Expect(calcAt(path, "G6")).To(Equal("45"))
		})
	})

	When("a value cannot be coerced", func() {
		It("should blank the cell and note it in the review column", func() {
			inv := enriched("B1", "Y SRL", "10")
			inv.Origin = "Germany"
			res, err := merger.Merge(ctx, path, []entity.Invoice{inv}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Issues).To(HaveLen(1))
			Expect(res.Issues[0].Code).To(Equal(common.CodeValidationCoercion))
			Expect(res.Issues[0].Column).To(Equal("Origine"))
			Expect(rawValue(path, "E2")).To(BeEmpty())
			Expect(rawValue(path, "T2")).To(ContainSubstring("Origine blank"))
		})
	})

	When("a key column fails coercion", func() {
		It("should keep the key so a second merge finds the duplicate", func() {
			inv := enriched("9100001", strings.Repeat("Very Long Company Name ", 5), "10")
			first, err := merger.Merge(ctx, path, []entity.Invoice{inv}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Added).To(Equal(1))
			Expect(first.Issues).To(HaveLen(1))
			Expect(first.Issues[0].Column).To(Equal("Firma"))
			Expect(rawValue(path, "B2")).To(Equal(strings.TrimSpace(inv.Company)))
			Expect(rawValue(path, "T2")).To(ContainSubstring("Firma unchecked"))

			second, err := merger.Merge(ctx, path, []entity.Invoice{inv}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Added).To(Equal(0))
			Expect(second.Duplicates).To(HaveLen(1))
		})
	})

	When("rows without aggregates follow the data", func() {
		BeforeEach(func() {
			f := excelize.NewFile()
			Expect(f.SetSheetName("Sheet1", sheet)).To(Succeed())
			Expect(f.SetSheetRow(sheet, "A1", &[]any{"Nr Crt", "Firma", "Nr Factura Marfa", "Cod NC8", "Origine", "Destinatie", "Val Fact"})).To(Succeed())
			Expect(f.SetSheetRow(sheet, "A2", &[]any{1, "A SRL", "1", "87 08 9997", "DE", "RO", 10})).To(Succeed())
			Expect(f.SetCellStr(sheet, "A3", "Checked by accountant")).To(Succeed())
			Expect(f.SetSheetRow(sheet, "A4", &[]any{"Total", "", "", "", "", "", 10})).To(Succeed())
			Expect(f.SaveAs(path)).To(Succeed())
			Expect(f.Close()).To(Succeed())
		})

		It("should insert the new rows above them", func() {
			res, err := merger.Merge(ctx, path, []entity.Invoice{enriched("2", "A SRL", "5", "7")}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(Equal(2))
			Expect(rawValue(path, "C3")).To(Equal("2"))
			Expect(rawValue(path, "C4")).To(Equal("2"))
			Expect(rawValue(path, "A4")).To(Equal("3"))
			Expect(rawValue(path, "A5")).To(Equal("Checked by accountant"))
			Expect(rawValue(path, "A6")).To(Equal("Total"))
			Expect(rawValue(path, "G6")).To(Equal("10"))
		})
	})

	When("the profile has per-row formula columns", func() {
		It("should write the transport and statistic formulas and total the statistic", func() {
			_, err := merger.Merge(ctx, path, []entity.Invoice{enriched("9100001", "Auto Parts SRL", "500", "300", "200")}, 0.6)
			Expect(err).NotTo(HaveOccurred())
			Expect(rawValue(path, "R1")).To(Equal("Transport"))
			Expect(rawValue(path, "S1")).To(Equal("Statistica"))
			Expect(formulaAt(path, "R2")).To(Equal("28000*L2/147000*I2"))
			Expect(formulaAt(path, "S3")).To(Equal("ROUND(M3+Q3*R3,0)"))
			Expect(calcAt(path, "S2")).To(Equal("2769"))
			Expect(formulaAt(path, "S5")).To(Equal("SUM(S2:S4)"))
		})
	})

	When("the same batch is written to two new files", func() {
		It("should produce identical bytes", func() {
			invoices := []entity.Invoice{
				enriched("9100002", "B SRL", "1", "2"),
				enriched("9100001", "A SRL", "500", "300", "200"),
			}
			other := filepath.Join(dir, "again.xlsx")
			_, err := merger.Merge(ctx, path, invoices, 0.6)
			Expect(err).NotTo(HaveOccurred())
			_, err = merger.Merge(ctx, other, invoices, 0.6)
			Expect(err).NotTo(HaveOccurred())

			a, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			b, err := os.ReadFile(other)
			Expect(err).NotTo(HaveOccurred())
			Expect(a).To(Equal(b))
			Expect(rawValue(path, "B2")).To(Equal("A SRL"))
		})
	})

	When("the target directory is missing", func() {
		It("should return a persistence failure", func() {
			_, err := merger.Merge(ctx, filepath.Join(dir, "missing", "out.xlsx"), []entity.Invoice{enriched("C1", "Z SRL", "1")}, 0.6)
			Expect(common.IsCode(err, common.CodePersistenceFailure)).To(BeTrue())
		})
	})
})
