package pagetext

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
	// baselines closer than this (points) belong to the same text line
	rowTolerance = 2.0
)

// NativeSource reads text positions straight from the PDF content streams.
type NativeSource struct {
	logger *slog.Logger
}

func NewNativeSource(logger *slog.Logger) *NativeSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &NativeSource{logger: logger}
}

func (s *NativeSource) Pages(ctx context.Context, name string, data []byte) (results []PageResult, err error) {
	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open pdf %s: %v", name, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.logger.Error("pagetext.native.open_failed", "document", name, "error", err)
		return nil, fmt.Errorf("open pdf %s: %w", name, err)
	}

	total := r.NumPage()
	results = make([]PageResult, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, perr := s.readPage(r, i)
		if perr != nil {
			s.logger.Warn("pagetext.native.page_unreadable", "document", name, "page", i, "error", perr)
			results = append(results, PageResult{Page: Page{Number: i}, Err: unreadable(i, perr)})
			continue
		}
		results = append(results, PageResult{Page: page})
	}
	s.logger.Debug("pagetext.native.ok", "document", name, "pages", total)
	return results, nil
}

func (s *NativeSource) readPage(r *pdf.Reader, num int) (page Page, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parse content: %v", rec)
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return Page{}, fmt.Errorf("page object missing")
	}
	width, height := mediaBox(p)
	words := glyphsToWords(p.Content().Text, height)
	return Page{Number: num, Width: width, Height: height, Words: words}, nil
}

// mediaBox resolves the page size, inheriting MediaBox from the page tree
// when the page itself does not carry one.
func mediaBox(p pdf.Page) (float64, float64) {
	var box pdf.Value
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		if b := v.Key("MediaBox"); !b.IsNull() {
			box = b
			break
		}
	}
	if box.IsNull() || box.Len() < 4 {
		return defaultPageWidth, defaultPageHeight
	}
	w := box.Index(2).Float64() - box.Index(0).Float64()
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return defaultPageWidth, defaultPageHeight
	}
	return w, h
}

type glyphRow struct {
	y      float64
	glyphs []pdf.Text
}

// glyphsToWords groups glyphs into baseline rows, orders each row left to right
// and merges adjacent glyphs into words. Y is flipped to a top-left origin.
func glyphsToWords(texts []pdf.Text, pageHeight float64) []Word {
	var rows []glyphRow
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		placed := false
		for i := range rows {
			if math.Abs(rows[i].y-t.Y) < rowTolerance {
				rows[i].glyphs = append(rows[i].glyphs, t)
				placed = true
				break
			}
		}
		if !placed {
			rows = append(rows, glyphRow{y: t.Y, glyphs: []pdf.Text{t}})
		}
	}
	// PDF y grows upwards: higher baselines come first
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].y > rows[j].y })

	var words []Word
	for _, row := range rows {
		sort.SliceStable(row.glyphs, func(i, j int) bool { return row.glyphs[i].X < row.glyphs[j].X })

		var cur *Word
		var lastSize float64
		flush := func() {
			if cur != nil && strings.TrimSpace(cur.Text) != "" {
				cur.Text = strings.TrimSpace(cur.Text)
				words = append(words, *cur)
			}
			cur = nil
		}
		for _, g := range row.glyphs {
			if strings.TrimSpace(g.S) == "" {
				flush()
				continue
			}
			size := g.FontSize
			if size <= 0 {
				size = 10
			}
			top := pageHeight - row.y - size
			bottom := pageHeight - row.y
			if cur != nil && g.X-cur.X1 > 0.25*math.Max(size, lastSize) {
				flush()
			}
			if cur == nil {
				cur = &Word{X0: g.X, Y0: top, X1: g.X + g.W, Y1: bottom}
			} else {
				cur.X1 = math.Max(cur.X1, g.X+g.W)
				cur.Y0 = math.Min(cur.Y0, top)
				cur.Y1 = math.Max(cur.Y1, bottom)
			}
			cur.Text += g.S
			lastSize = size
		}
		flush()
	}
	return words
}
