package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/joseph-ayodele/intrastat-extractor/internal/app"
	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
	"github.com/joseph-ayodele/intrastat-extractor/internal/ingest"
	"github.com/joseph-ayodele/intrastat-extractor/internal/pipeline"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	cfg := common.LoadConfig()

	fs := ff.NewFlagSet("intrastat-batch")
	var (
		dir        = fs.StringLong("dir", "", "directory of invoice PDFs (or pass PDF paths as arguments)")
		out        = fs.StringLong("out", cfg.Output.WorkbookPath, "output XLSX workbook, merged into when it exists")
		sheet      = fs.StringLong("sheet", cfg.Output.Sheet, "worksheet name")
		percentage = fs.Float64Long("percentage", cfg.Pipeline.Percentage, "net/gross ratio used when an invoice states only gross weight (0..1)")
		target     = fs.StringLong("target-currency", cfg.Pipeline.TargetCurrency, "currency of the converted value column")
		workers    = fs.IntLong("workers", cfg.Pipeline.Workers, "documents processed in parallel")
		layoutPath = fs.StringLong("layout", cfg.Pipeline.LayoutPath, "layout profile JSON (embedded default when empty)")
		poppler    = fs.BoolLong("poppler", "fall back to pdftotext for pages the native reader cannot parse")
		noLedger   = fs.BoolLong("no-ledger", "do not record the batch in the ledger database")
		reportPath = fs.StringLong("report", "", "write the batch report as JSON to this path")
		verbose    = fs.BoolLong("verbose", "debug logging")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("INTRASTAT")); err != nil {
		printError("%s\n", ffhelp.Flags(fs))
		printError("error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg.Output.WorkbookPath = *out
	cfg.Output.Sheet = *sheet
	cfg.Pipeline.Percentage = *percentage
	cfg.Pipeline.TargetCurrency = *target
	cfg.Pipeline.Workers = *workers
	cfg.Pipeline.LayoutPath = *layoutPath
	cfg.Pipeline.PopplerFallback = cfg.Pipeline.PopplerFallback || *poppler

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := collect(ctx, *dir, fs.GetArgs(), logger)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if len(docs) == 0 {
		printError("Error: no PDF documents found; pass --dir or PDF paths\n")
		os.Exit(1)
	}

	a, err := app.Build(ctx, cfg, app.Options{WithLedger: !*noLedger, WithStore: true}, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	report, err := a.Runner.Run(ctx, pipeline.Request{
		Documents:  docs,
		Percentage: cfg.Pipeline.Percentage,
		Output:     cfg.Output.WorkbookPath,
	})
	if report != nil && *reportPath != "" {
		if werr := writeReport(*reportPath, report); werr != nil {
			logger.Error("failed to write report", "path", *reportPath, "error", werr)
		}
	}
	if err != nil {
		logger.Error("batch failed", "error", err)
		printSummary(report)
		os.Exit(1)
	}
	printSummary(report)
}

func collect(ctx context.Context, dir string, args []string, logger *slog.Logger) ([]entity.Document, error) {
	var docs []entity.Document
	if dir != "" {
		found, failures, _, err := ingest.Discover(ctx, dir, true, logger)
		if err != nil {
			return nil, err
		}
		for _, f := range failures {
			printError("skipped %s: %s\n", f.Path, f.Err)
		}
		docs = append(docs, found...)
	}
	for _, path := range args {
		doc, err := ingest.ReadDocument(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func writeReport(path string, report *pipeline.BatchReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printSummary(r *pipeline.BatchReport) {
	if r == nil {
		return
	}
	fmt.Printf("\n=== Batch %s ===\n", r.BatchID)
	fmt.Printf("Documents: %d (failed %d, cancelled %d, timed out %d)\n", r.Documents, r.FailedDocuments, r.Cancelled, r.TimedOut)
	fmt.Printf("Invoices processed: %d, added: %d, rows added: %d\n", r.InvoicesProcessed, r.InvoicesAdded, r.RowsAdded)
	fmt.Printf("Duplicates skipped: %d\n", r.Duplicates)
	fmt.Printf("Structural failures: %d\n", r.StructuralFailures)
	fmt.Printf("Currency failures: %d\n", r.CurrencyFailures)
	fmt.Printf("Validation-flagged cells: %d\n", r.ValidationFlags)
	fmt.Printf("Unreadable pages: %d, ambiguous pages: %d\n", r.UnreadablePages, r.AmbiguousPages)
	for _, is := range r.Issues {
		fmt.Printf("  - %s\n", is.String())
	}
	fmt.Printf("Output: %s (%s)\n", r.Output, r.Elapsed.Round(1e6))
}
