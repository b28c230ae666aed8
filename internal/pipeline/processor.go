// Package pipeline runs documents through extraction, distribution and
// conversion, then merges a batch into the workbook.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/intrastat-extractor/constants"
	"github.com/joseph-ayodele/intrastat-extractor/internal/assemble"
	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/distribute"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
	"github.com/joseph-ayodele/intrastat-extractor/internal/fx"
	"github.com/joseph-ayodele/intrastat-extractor/internal/locator"
	"github.com/joseph-ayodele/intrastat-extractor/internal/pagetext"
)

// Processor coordinates page text, field location, assembly, distribution and
// conversion for one document at a time.
type Processor struct {
	source    pagetext.Source
	locator   *locator.Locator
	assembler *assemble.Assembler
	converter *fx.Converter
	sink      StatusSink
	logger    *slog.Logger
}

func NewProcessor(source pagetext.Source, loc *locator.Locator, asm *assemble.Assembler, conv *fx.Converter, sink StatusSink, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	return &Processor{source: source, locator: loc, assembler: asm, converter: conv, sink: sink, logger: logger}
}

// DocumentResult is everything one document produced. Invoices holds only
// invoices that reached READY_TO_MERGE. Err is set when the document as a
// whole could not be processed.
type DocumentResult struct {
	Document string
	SHA256   string
	Invoices []entity.Invoice
	Failed   int
	Issues   []common.Issue
	Err      error
}

// ProcessDocument runs every stage up to READY_TO_MERGE. Per-invoice failures
// are returned as issues; the remaining invoices still complete. A document
// whose context ends before every invoice is ready yields no invoices at all.
func (p *Processor) ProcessDocument(ctx context.Context, doc entity.Document, dist *distribute.Distributor) DocumentResult {
	return p.process(ctx, doc, dist, time.Now().UTC())
}

// process emits one ordered status sequence per invoice, QUEUED through
// READY_TO_MERGE or FAILED. The QUEUED and EXTRACTING steps carry the
// document's timestamps since invoices are only known after assembly. A
// document that never yields an invoice gets the sequence under an empty
// invoice number.
func (p *Processor) process(ctx context.Context, doc entity.Document, dist *distribute.Distributor, queued time.Time) DocumentResult {
	logger := common.LoggerFromContext(ctx, p.logger)
	start := time.Now()
	t := trail{document: doc.Name, queued: queued, extracting: start.UTC()}
	res := DocumentResult{Document: doc.Name, SHA256: doc.SHA256}

	pages, err := p.source.Pages(ctx, doc.Name, doc.Data)
	if err != nil {
		return p.failDocument(ctx, t, res, common.NewAppError(common.CodeStructuralFailure, "read pdf", err))
	}
	fields, issues := p.locator.LocateDocument(ctx, doc.Name, pages)
	res.Issues = append(res.Issues, issues...)
	if len(fields) == 0 {
		return p.failDocument(ctx, t, res, common.NewAppError(common.CodeStructuralFailure, "no readable pages", nil))
	}

	invoices, issues := p.assembler.Assemble(ctx, doc.Name, fields)
	res.Issues = append(res.Issues, issues...)
	if len(invoices) == 0 {
		return p.failDocument(ctx, t, res, common.NewAppError(common.CodeStructuralFailure, "no invoice number found", nil))
	}

	var (
		ready   []entity.Invoice
		pending []string
	)
	for _, inv := range invoices {
		p.begin(ctx, t, inv.Number)
		if ctx.Err() != nil {
			pending = append(pending, inv.Number)
			continue
		}
		p.emit(ctx, doc.Name, inv.Number, constants.StatusDistributing, "")
		distributed, err := dist.Distribute(ctx, inv)
		if err != nil {
			res.Failed++
			res.Issues = append(res.Issues, issueFrom(err, doc.Name, inv.Number))
			p.emit(ctx, doc.Name, inv.Number, constants.StatusFailed, err.Error())
			continue
		}

		p.emit(ctx, doc.Name, inv.Number, constants.StatusConverting, "")
		converted, err := p.converter.Convert(ctx, distributed)
		if err != nil {
			// Merged anyway with the converted fields unset.
			res.Issues = append(res.Issues, issueFrom(err, doc.Name, inv.Number))
		}
		ready = append(ready, converted)
	}

	if cause := ctx.Err(); cause != nil {
		err := common.NewAppError(common.CodeDocumentTimeout, "document did not finish in time", cause)
		for _, inv := range ready {
			pending = append(pending, inv.Number)
		}
		for _, number := range pending {
			res.Failed++
			p.emit(ctx, doc.Name, number, constants.StatusFailed, err.Error())
		}
		res.Err = err
		res.Issues = append(res.Issues, issueFrom(err, doc.Name, ""))
		logger.Warn("pipeline.document.timeout", "invoices", len(invoices), "discarded", len(pending), "error", cause)
		return res
	}

	for _, inv := range ready {
		p.emit(ctx, doc.Name, inv.Number, constants.StatusReadyToMerge, "")
	}
	res.Invoices = ready

	logger.Info("pipeline.document.ok",
		"invoices", len(res.Invoices),
		"failed", res.Failed,
		"issues", len(res.Issues),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res
}

// trail holds the document-level timestamps replayed into each invoice's
// status sequence.
type trail struct {
	document   string
	queued     time.Time
	extracting time.Time
}

func (p *Processor) begin(ctx context.Context, t trail, invoice string) {
	p.emitAt(ctx, t.document, invoice, constants.StatusQueued, "", t.queued)
	p.emitAt(ctx, t.document, invoice, constants.StatusExtracting, "", t.extracting)
}

func (p *Processor) failDocument(ctx context.Context, t trail, res DocumentResult, err error) DocumentResult {
	if ctx.Err() != nil {
		err = common.NewAppError(common.CodeDocumentTimeout, "document did not finish in time", err)
	}
	common.LoggerFromContext(ctx, p.logger).Warn("pipeline.document.failed", "error", err)
	res.Err = err
	res.Issues = append(res.Issues, issueFrom(err, res.Document, ""))
	p.begin(ctx, t, "")
	p.emit(ctx, res.Document, "", constants.StatusFailed, err.Error())
	return res
}

func (p *Processor) emit(ctx context.Context, document, invoice string, status constants.InvoiceStatus, reason string) {
	p.emitAt(ctx, document, invoice, status, reason, time.Now().UTC())
}

func (p *Processor) emitAt(ctx context.Context, document, invoice string, status constants.InvoiceStatus, reason string, at time.Time) {
	p.sink.Record(ctx, entity.StatusEvent{
		BatchID:  common.BatchIDFromContext(ctx),
		Document: document,
		Invoice:  invoice,
		Status:   status,
		Reason:   reason,
		At:       at,
	})
}

func issueFrom(err error, document, invoice string) common.Issue {
	issue := common.Issue{Document: document, Invoice: invoice, Detail: err.Error()}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		issue.Code = appErr.Code
		issue.Detail = appErr.Message
		if appErr.Cause != nil {
			issue.Detail = fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
		}
	} else {
		issue.Code = common.CodeStructuralFailure
	}
	return issue
}
