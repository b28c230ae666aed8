package pagetext

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// PopplerConfig configures the pdftotext based source.
type PopplerConfig struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	TempDir   string // where PDF bytes are spooled for the tool; empty -> os.TempDir()
}

// PopplerSource shells out to `pdftotext -bbox`, which tolerates content
// streams the native parser rejects.
type PopplerSource struct {
	cfg    PopplerConfig
	runner Runner
	logger *slog.Logger
}

func NewPopplerSource(cfg PopplerConfig, logger *slog.Logger) *PopplerSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	return &PopplerSource{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner; used by tests.
func (s *PopplerSource) WithRunner(r Runner) *PopplerSource {
	s.runner = r
	return s
}

func (s *PopplerSource) Pages(ctx context.Context, name string, data []byte) ([]PageResult, error) {
	tmp, err := os.CreateTemp(s.cfg.TempDir, "intrastat-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("spool pdf: %w", err)
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil {
			s.logger.Warn("pagetext.poppler.cleanup_failed", "path", tmp.Name(), "error", err)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("spool pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("spool pdf: %w", err)
	}

	// pdftotext -bbox -enc UTF-8 <path> -
	out, errb, err := s.runner.Run(ctx, s.cfg.Pdftotext, "-bbox", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext %s: %w: %s", name, err, truncate(string(errb), 512))
	}
	pages, err := parseBBox(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("parse bbox output for %s: %w", name, err)
	}
	results := make([]PageResult, len(pages))
	for i, p := range pages {
		results[i] = PageResult{Page: p}
	}
	s.logger.Debug("pagetext.poppler.ok", "document", name, "pages", len(pages))
	return results, nil
}

// parseBBox reads the XHTML emitted by `pdftotext -bbox`:
//
//	<page width="595" height="842"><word xMin=".." yMin=".." xMax=".." yMax="..">text</word>...</page>
func parseBBox(r io.Reader) ([]Page, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var pages []Page
	cur := -1
	var word *Word
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "page":
				pages = append(pages, Page{
					Number: len(pages) + 1,
					Width:  attrFloat(t, "width"),
					Height: attrFloat(t, "height"),
				})
				cur = len(pages) - 1
			case "word":
				word = &Word{
					X0: attrFloat(t, "xMin"),
					Y0: attrFloat(t, "yMin"),
					X1: attrFloat(t, "xMax"),
					Y1: attrFloat(t, "yMax"),
				}
			}
		case xml.CharData:
			if word != nil {
				word.Text += string(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "word":
				if cur >= 0 && word != nil {
					word.Text = strings.TrimSpace(word.Text)
					if word.Text != "" {
						pages[cur].Words = append(pages[cur].Words, *word)
					}
				}
				word = nil
			case "page":
				cur = -1
			}
		}
	}
	if len(pages) == 0 {
		return nil, errors.New("no pages in output")
	}
	return pages, nil
}

func attrFloat(el xml.StartElement, name string) float64 {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			f, err := strconv.ParseFloat(a.Value, 64)
			if err == nil {
				return f
			}
		}
	}
	return 0
}
