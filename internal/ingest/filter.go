package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/intrastat-extractor/constants"
)

// IsDocument reports whether path names an invoice PDF.
func IsDocument(path string) bool {
	return strings.EqualFold(filepath.Ext(path), constants.DocumentExt)
}

// IsHidden reports dot-files and dot-directories, which covers office lock
// files and our own in-progress workbook copies.
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
