package pagetext

import (
	"context"
	"fmt"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
)

// Word is a run of text with its bounding box in PDF points, measured from the
// top-left corner of the page.
type Word struct {
	X0, Y0, X1, Y1 float64
	Text           string
}

// CenterX and CenterY are used for region membership.
func (w Word) CenterX() float64 { return (w.X0 + w.X1) / 2 }
func (w Word) CenterY() float64 { return (w.Y0 + w.Y1) / 2 }

// Page is the positioned text of one PDF page. Number is 1-based.
type Page struct {
	Number int
	Width  float64
	Height float64
	Words  []Word
}

// PageResult carries either a page or the reason it could not be read.
type PageResult struct {
	Page Page
	Err  error
}

// Source turns PDF bytes into per-page positioned text. A returned error means
// the document as a whole could not be opened; single bad pages are reported
// through PageResult.Err.
type Source interface {
	Pages(ctx context.Context, name string, data []byte) ([]PageResult, error)
}

func unreadable(page int, cause error) error {
	return common.NewAppError(common.CodeUnreadablePage, fmt.Sprintf("page %d", page), cause)
}
