// Package workbook merges enriched invoices into the Intrastat spreadsheet.
package workbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/intrastat-extractor/constants"
	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
	"github.com/joseph-ayodele/intrastat-extractor/internal/layout"
)

// trailingScan is how many rows past the last data row are inspected for
// summary formulas whose cached values may be empty.
const trailingScan = 16

// Result describes one merge.
type Result struct {
	Path       string
	Added      int
	Rows       int
	Duplicates []common.Issue
	Issues     []common.Issue
}

// Merger owns the output workbook for the duration of a merge. Merges are
// serialized.
type Merger struct {
	profile *layout.Profile
	sheet   string
	mu      sync.Mutex
	logger  *slog.Logger
}

func NewMerger(profile *layout.Profile, sheet string, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{profile: profile, sheet: sheet, logger: logger}
}

type sheetState struct {
	columns  map[string]int
	width    int
	lastData int
	used     int
	trailing []int
	keys     map[entity.Key]bool
	maxNr    int64
}

// Merge appends the rows of invoices not yet present in the workbook at path
// after its last data row and before any trailing summary rows, then replaces
// the file atomically. Only a PERSISTENCE_FAILURE is returned as an error; in
// that case the previous file is untouched.
func (m *Merger) Merge(ctx context.Context, path string, invoices []entity.Invoice, percentage float64) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	logger := common.LoggerFromContext(ctx, m.logger)
	res := Result{Path: path}

	f, fresh, err := m.open(path)
	if err != nil {
		return res, persistenceError("open workbook", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("workbook.close_error", "error", err)
		}
	}()

	st, err := newStyles(f, m.profile)
	if err != nil {
		return res, persistenceError("styles", err)
	}
	if fresh {
		if err := writeHeader(f, m.sheet, m.profile, st); err != nil {
			return res, persistenceError("write header", err)
		}
	}
	state, err := m.scan(f)
	if err != nil {
		return res, persistenceError("scan workbook", err)
	}

	records, dups := m.prepare(invoices, state.keys, decimal.NewFromFloat(percentage))
	res.Duplicates = dups
	for _, d := range dups {
		logger.Info("workbook.merge.duplicate", "invoice", d.Invoice, "detail", d.Detail)
	}
	k := len(records)
	if k == 0 && !fresh {
		res.Rows = state.lastData - 1
		logger.Info("workbook.merge.unchanged", "path", path, "duplicates", len(dups))
		return res, nil
	}

	insertAt := state.lastData + 1
	if k > 0 && (state.lastData < state.used || len(state.trailing) > 0) {
		if err := f.InsertRows(m.sheet, insertAt, k); err != nil {
			return res, persistenceError("insert rows", err)
		}
		if err := m.extendSummaries(f, state, k); err != nil {
			return res, persistenceError("extend summaries", err)
		}
	}

	nr := state.maxNr
	for i, rec := range records {
		nr++
		rec.values[KeyNrCrt] = nr
		issues, err := m.writeRow(f, insertAt+i, rec, state, st)
		if err != nil {
			return res, persistenceError("write row", err)
		}
		res.Issues = append(res.Issues, issues...)
	}
	if fresh && k > 0 {
		if err := m.writeTotals(f, state, insertAt+k, st); err != nil {
			return res, persistenceError("write totals", err)
		}
	}

	fullCalc := true
	if err := f.SetCalcProps(&excelize.CalcPropsOptions{FullCalcOnLoad: &fullCalc}); err != nil {
		return res, persistenceError("calc props", err)
	}
	if err := saveAtomic(f, path); err != nil {
		logger.Error("workbook.save.failed", "path", path, "error", err)
		return res, persistenceError("save workbook", err)
	}

	res.Added = k
	res.Rows = state.lastData - 1 + k
	logger.Info("workbook.merge.ok",
		"path", path,
		"added", k,
		"duplicates", len(dups),
		"validation_flags", len(res.Issues),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// open returns the workbook at path, or a new one when the file does not
// exist. fresh reports whether the target sheet had to be created.
func (m *Merger) open(path string) (*excelize.File, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f := excelize.NewFile()
		if err := f.SetSheetName("Sheet1", m.sheet); err != nil {
			_ = f.Close()
			return nil, false, err
		}
		return f, true, nil
	} else if err != nil {
		return nil, false, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, false, err
	}
	if idx, _ := f.GetSheetIndex(m.sheet); idx == -1 {
		if _, err := f.NewSheet(m.sheet); err != nil {
			_ = f.Close()
			return nil, false, err
		}
		return f, true, nil
	}
	return f, false, nil
}

func (m *Merger) scan(f *excelize.File) (*sheetState, error) {
	rows, err := f.GetRows(m.sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	state := &sheetState{
		columns:  map[string]int{},
		width:    len(m.profile.Columns),
		lastData: 1,
		keys:     map[entity.Key]bool{},
	}

	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}
	for i, c := range m.profile.Columns {
		state.columns[c.Key] = i + 1
		for j, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), c.Header) {
				state.columns[c.Key] = j + 1
				break
			}
		}
	}
	for i, r := range rows {
		state.width = max(state.width, len(r))
		if slices.ContainsFunc(r, func(c string) bool { return strings.TrimSpace(c) != "" }) {
			state.used = i + 1
		}
	}

	numberCol := state.columns[KeyInvoiceNumber]
	companyCol := state.columns[KeyCompany]
	nrCol, hasNr := state.columns[KeyNrCrt]
	for i := 1; i < len(rows); i++ {
		number := cellAt(rows[i], numberCol)
		if number == "" || strings.EqualFold(cellAt(rows[i], 1), m.profile.SummaryLabel) {
			continue
		}
		state.lastData = i + 1
		state.keys[entity.Key{Number: number, Company: cellAt(rows[i], companyCol)}] = true
		if hasNr {
			if n, err := strconv.ParseFloat(cellAt(rows[i], nrCol), 64); err == nil && int64(n) > state.maxNr {
				state.maxNr = int64(n)
			}
		}
	}

	for r := state.lastData + 1; r <= max(len(rows), state.lastData+trailingScan); r++ {
		has, err := m.rowHasAggregate(f, r, state.width)
		if err != nil {
			return nil, err
		}
		if has {
			state.trailing = append(state.trailing, r)
		}
	}
	return state, nil
}

func (m *Merger) rowHasAggregate(f *excelize.File, row, width int) (bool, error) {
	for c := 1; c <= width; c++ {
		cell, _ := excelize.CoordinatesToCellName(c, row)
		formula, err := f.GetCellFormula(m.sheet, cell)
		if err != nil {
			return false, err
		}
		if formula != "" && isAggregate(formula) {
			return true, nil
		}
	}
	return false, nil
}

// extendSummaries runs after the insert has moved the trailing rows down by k.
func (m *Merger) extendSummaries(f *excelize.File, state *sheetState, k int) error {
	for _, old := range state.trailing {
		row := old + k
		for c := 1; c <= state.width; c++ {
			cell, _ := excelize.CoordinatesToCellName(c, row)
			formula, err := f.GetCellFormula(m.sheet, cell)
			if err != nil {
				return err
			}
			if extended, ok := extendAggregate(formula, state.lastData, k); ok {
				if err := f.SetCellFormula(m.sheet, cell, extended); err != nil {
					return err
				}
				m.logger.Debug("workbook.summary.extended", "cell", cell, "formula", extended)
			}
		}
	}
	return nil
}

// prepare orders the new invoices by company, issue date and number, drops
// those already present or repeated within the batch, and flattens the rest.
func (m *Merger) prepare(invoices []entity.Invoice, existing map[entity.Key]bool, percentage decimal.Decimal) ([]*record, []common.Issue) {
	sorted := slices.Clone(invoices)
	slices.SortStableFunc(sorted, func(a, b entity.Invoice) int {
		if c := strings.Compare(a.Company, b.Company); c != 0 {
			return c
		}
		if c := a.IssueDate.Compare(b.IssueDate); c != 0 {
			return c
		}
		return strings.Compare(a.Number, b.Number)
	})

	seen := make(map[entity.Key]bool, len(existing)+len(sorted))
	for key := range existing {
		seen[key] = true
	}
	var (
		records []*record
		dups    []common.Issue
	)
	for i := range sorted {
		inv := &sorted[i]
		key := inv.Key()
		if seen[key] {
			detail := "already present in workbook"
			if !existing[key] {
				detail = "repeated within batch"
			}
			dups = append(dups, common.Issue{
				Code:     common.CodeDuplicateInvoice,
				Document: inv.Document,
				Invoice:  inv.Number,
				Detail:   detail,
			})
			continue
		}
		seen[key] = true
		items := slices.Clone(inv.Items)
		slices.SortStableFunc(items, func(a, b entity.LineItem) int { return a.Seq - b.Seq })
		inv.Items = items
		records = append(records, flatten(inv, percentage)...)
	}
	return records, dups
}

func (m *Merger) writeRow(f *excelize.File, row int, rec *record, state *sheetState, st *styles) ([]common.Issue, error) {
	var issues []common.Issue
	for _, col := range m.profile.Columns {
		if col.Key == KeyReview {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(state.columns[col.Key], row)
		if col.Formula != "" {
			if err := m.setFormula(f, cell, row, col, state, st); err != nil {
				return issues, err
			}
			continue
		}
		v, err := coerce(col, rec.values[col.Key])
		if err != nil {
			issues = append(issues, common.Issue{
				Code:     common.CodeValidationCoercion,
				Document: rec.invoice.Document,
				Invoice:  rec.invoice.Number,
				Row:      row,
				Column:   col.Header,
				Detail:   err.Error(),
			})
			if isKey(col.Key) {
				// Key cells are never blanked; scan reads them back for dedup.
				rec.notes = append(rec.notes, fmt.Sprintf("%s unchecked: %v", col.Header, err))
				v = strings.TrimSpace(fmt.Sprint(rec.values[col.Key]))
			} else {
				rec.notes = append(rec.notes, fmt.Sprintf("%s blank: %v", col.Header, err))
				v = nil
			}
		}
		if err := m.setCell(f, cell, col, v, st); err != nil {
			return issues, err
		}
	}
	if idx, ok := state.columns[KeyReview]; ok && m.profile.ColumnIndex(KeyReview) >= 0 {
		col := m.profile.Columns[m.profile.ColumnIndex(KeyReview)]
		cell, _ := excelize.CoordinatesToCellName(idx, row)
		var v any
		if text := rec.review(); text != "" {
			v = truncate(text, col.MaxLen)
		}
		if err := m.setCell(f, cell, col, v, st); err != nil {
			return issues, err
		}
	}
	return issues, nil
}

// setFormula writes a per-row formula column, resolving each {key} to the
// cell of that column on the same row.
func (m *Merger) setFormula(f *excelize.File, cell string, row int, col layout.Column, state *sheetState, st *styles) error {
	expr := layout.FormulaRef.ReplaceAllStringFunc(col.Formula, func(ref string) string {
		name, _ := excelize.ColumnNumberToName(state.columns[ref[1:len(ref)-1]])
		return fmt.Sprintf("%s%d", name, row)
	})
	if err := f.SetCellFormula(m.sheet, cell, expr); err != nil {
		return err
	}
	if id, ok := st.columns[col.Key]; ok {
		return f.SetCellStyle(m.sheet, cell, cell, id)
	}
	return nil
}

func isKey(key string) bool {
	return key == KeyCompany || key == KeyInvoiceNumber
}

func (m *Merger) setCell(f *excelize.File, cell string, col layout.Column, v any, st *styles) error {
	var err error
	switch x := v.(type) {
	case nil:
	case int64:
		err = f.SetCellInt(m.sheet, cell, x)
	case decimal.Decimal:
		err = f.SetCellFloat(m.sheet, cell, x.InexactFloat64(), int(col.Precision), 64)
	case time.Time:
		err = f.SetCellValue(m.sheet, cell, x)
	case string:
		err = f.SetCellStr(m.sheet, cell, x)
	default:
		err = fmt.Errorf("unsupported cell value %T", v)
	}
	if err != nil {
		return err
	}
	if id, ok := st.columns[col.Key]; ok {
		return f.SetCellStyle(m.sheet, cell, cell, id)
	}
	return nil
}

// writeTotals adds the summary row of a freshly created sheet.
func (m *Merger) writeTotals(f *excelize.File, state *sheetState, row int, st *styles) error {
	label, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetCellStr(m.sheet, label, m.profile.SummaryLabel); err != nil {
		return err
	}
	if err := f.SetCellStyle(m.sheet, label, label, st.total); err != nil {
		return err
	}
	for _, col := range m.profile.Columns {
		if !col.Total {
			continue
		}
		idx := state.columns[col.Key]
		name, _ := excelize.ColumnNumberToName(idx)
		cell, _ := excelize.CoordinatesToCellName(idx, row)
		if err := f.SetCellFormula(m.sheet, cell, fmt.Sprintf("SUM(%s2:%s%d)", name, name, row-1)); err != nil {
			return err
		}
		if id, ok := st.columns[col.Key]; ok {
			if err := f.SetCellStyle(m.sheet, cell, cell, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// saveAtomic writes to a temporary file beside path and renames it over path.
func saveAtomic(f *excelize.File, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), constants.TempPrefix+"*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := f.SaveAs(name); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func persistenceError(op string, err error) error {
	return common.NewAppError(common.CodePersistenceFailure, op, err)
}

func cellAt(row []string, col int) string {
	if col < 1 || col > len(row) {
		return ""
	}
	return strings.TrimSpace(row[col-1])
}
