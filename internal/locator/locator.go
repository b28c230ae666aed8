// Package locator extracts raw field text from configured page regions.
package locator

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
	"github.com/joseph-ayodele/intrastat-extractor/internal/layout"
	"github.com/joseph-ayodele/intrastat-extractor/internal/pagetext"
)

// Locator applies a fixed region profile to pages. It holds no mutable state.
type Locator struct {
	profile *layout.Profile
	logger  *slog.Logger
}

func New(profile *layout.Profile, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{profile: profile, logger: logger}
}

// Locate returns one RawField per configured region. Regions without text yield
// an empty field.
func (l *Locator) Locate(page pagetext.Page) entity.PageFields {
	out := entity.PageFields{Page: page.Number, Fields: make(map[string]entity.RawField, len(l.profile.Regions))}
	for _, region := range l.profile.Regions {
		lines := regionLines(page, region.Rect)
		field := entity.RawField{Name: region.Name, Page: page.Number}
		switch region.Mode {
		case layout.SingleLine:
			field.Text = extract(region, strings.Join(lines, " "))
		case layout.MultiLine:
			field.Text = extract(region, strings.Join(lines, "\n"))
		case layout.TableColumn:
			field.Rows = extractRows(region, lines)
		}
		out.Fields[region.Name] = field
	}
	return out
}

// LocateDocument locates every readable page in parallel and reports the
// unreadable ones. The result keeps page order.
func (l *Locator) LocateDocument(ctx context.Context, document string, pages []pagetext.PageResult) ([]entity.PageFields, []common.Issue) {
	logger := common.LoggerFromContext(ctx, l.logger)
	located := make([]*entity.PageFields, len(pages))
	var issues []common.Issue

	var wg sync.WaitGroup
	for i, pr := range pages {
		if pr.Err != nil {
			issues = append(issues, common.Issue{
				Code:     common.CodeUnreadablePage,
				Document: document,
				Page:     pageNumber(pr, i),
				Detail:   pr.Err.Error(),
			})
			logger.Warn("locator.page.unreadable", "page", pageNumber(pr, i), "error", pr.Err)
			continue
		}
		wg.Add(1)
		go func(i int, p pagetext.Page) {
			defer wg.Done()
			fields := l.Locate(p)
			located[i] = &fields
		}(i, pr.Page)
	}
	wg.Wait()

	out := make([]entity.PageFields, 0, len(pages))
	for _, f := range located {
		if f != nil {
			out = append(out, *f)
		}
	}
	logger.Debug("locator.document.ok", "pages", len(out), "unreadable", len(issues))
	return out, issues
}

func pageNumber(pr pagetext.PageResult, idx int) int {
	if pr.Page.Number > 0 {
		return pr.Page.Number
	}
	return idx + 1
}

func extract(region layout.Region, text string) string {
	re := region.Regexp()
	if re == nil || text == "" {
		return text
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(m[0])
}

func extractRows(region layout.Region, lines []string) []entity.RawRow {
	re := region.Regexp()
	names := re.SubexpNames()
	var rows []entity.RawRow
	for _, line := range lines {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		cells := map[string]string{}
		for i, name := range names {
			if name != "" && m[i] != "" {
				cells[name] = strings.TrimSpace(m[i])
			}
		}
		rows = append(rows, entity.RawRow{Seq: len(rows) + 1, Cells: cells})
	}
	return rows
}

type textLine struct {
	y     float64
	words []pagetext.Word
}

// regionLines selects the words whose centre lies inside the rectangle and
// rebuilds them into top-to-bottom, left-to-right lines.
func regionLines(page pagetext.Page, rect layout.Rect) []string {
	x0, y0 := rect[0]*page.Width, rect[1]*page.Height
	x1, y1 := rect[2]*page.Width, rect[3]*page.Height

	var inside []pagetext.Word
	for _, w := range page.Words {
		cx, cy := w.CenterX(), w.CenterY()
		if cx < x0 || cy < y0 || cx > x1 || cy > y1 {
			continue
		}
		// a word on a shared edge belongs to the region below or to the right
		if (cx == x1 && rect[2] < 1) || (cy == y1 && rect[3] < 1) {
			continue
		}
		inside = append(inside, w)
	}
	if len(inside) == 0 {
		return nil
	}
	sort.SliceStable(inside, func(i, j int) bool { return inside[i].CenterY() < inside[j].CenterY() })

	var lines []textLine
	for _, w := range inside {
		tol := math.Max(2, (w.Y1-w.Y0)/2)
		n := len(lines)
		if n > 0 && math.Abs(lines[n-1].y-w.CenterY()) < tol {
			lines[n-1].words = append(lines[n-1].words, w)
			continue
		}
		lines = append(lines, textLine{y: w.CenterY(), words: []pagetext.Word{w}})
	}

	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		sort.SliceStable(ln.words, func(i, j int) bool { return ln.words[i].X0 < ln.words[j].X0 })
		parts := make([]string, len(ln.words))
		for i, w := range ln.words {
			parts[i] = w.Text
		}
		if s := Normalize(strings.Join(parts, " ")); s != "" {
			out = append(out, s)
		}
	}
	return out
}
