package workbook

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/intrastat-extractor/internal/layout"
)

const headerFill = "90EE90"

type styles struct {
	header  int
	total   int
	columns map[string]int
}

func newStyles(f *excelize.File, p *layout.Profile) (*styles, error) {
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Family: "Arial", Size: 12},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFill}},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	total, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Family: "Arial", Size: 11},
	})
	if err != nil {
		return nil, fmt.Errorf("total style: %w", err)
	}
	s := &styles{header: header, total: total, columns: map[string]int{}}
	for _, c := range p.Columns {
		if c.NumFmt == "" {
			continue
		}
		numFmt := c.NumFmt
		id, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
		if err != nil {
			return nil, fmt.Errorf("column %s style: %w", c.Key, err)
		}
		s.columns[c.Key] = id
	}
	return s, nil
}

func writeHeader(f *excelize.File, sheet string, p *layout.Profile, st *styles) error {
	for i, c := range p.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellStr(sheet, cell, c.Header); err != nil {
			return err
		}
		if c.Width > 0 {
			name, _ := excelize.ColumnNumberToName(i + 1)
			if err := f.SetColWidth(sheet, name, name, c.Width); err != nil {
				return err
			}
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(p.Columns), 1)
	if err := f.SetCellStyle(sheet, "A1", last, st.header); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
