package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/joseph-ayodele/intrastat-extractor/internal/app"
	"github.com/joseph-ayodele/intrastat-extractor/internal/assemble"
	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/ingest"
	"github.com/joseph-ayodele/intrastat-extractor/internal/layout"
	"github.com/joseph-ayodele/intrastat-extractor/internal/locator"
)

// locate prints the raw fields and assembled invoices of one PDF, for tuning
// layout profiles.
func main() {
	cfg := common.LoadConfig()

	fs := ff.NewFlagSet("locate")
	var (
		layoutPath = fs.StringLong("layout", cfg.Pipeline.LayoutPath, "layout profile JSON (embedded default when empty)")
		poppler    = fs.BoolLong("poppler", "fall back to pdftotext")
		words      = fs.BoolLong("words", "also print every positioned word")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("INTRASTAT")); err != nil || len(fs.GetArgs()) != 1 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "usage: locate [flags] <invoice.pdf>\n")
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	profile, err := layout.Load(*layoutPath)
	if err != nil {
		logger.Error("load layout", "error", err)
		os.Exit(1)
	}
	doc, err := ingest.ReadDocument(fs.GetArgs()[0])
	if err != nil {
		logger.Error("read pdf", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg.Pipeline.PopplerFallback = cfg.Pipeline.PopplerFallback || *poppler
	pages, err := app.Source(cfg.Pipeline, logger).Pages(ctx, doc.Name, doc.Data)
	if err != nil {
		logger.Error("extract pages", "error", err)
		os.Exit(1)
	}
	fields, issues := locator.New(profile, logger).LocateDocument(ctx, doc.Name, pages)
	invoices, more := assemble.New(profile, logger).Assemble(ctx, doc.Name, fields)
	issues = append(issues, more...)

	out := map[string]any{
		"document": doc.Name,
		"sha256":   doc.SHA256,
		"fields":   fields,
		"invoices": invoices,
		"issues":   issues,
	}
	if *words {
		out["pages"] = pages
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("encode", "error", err)
		os.Exit(1)
	}
}
