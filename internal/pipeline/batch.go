package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/intrastat-extractor/constants"
	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/distribute"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
	"github.com/joseph-ayodele/intrastat-extractor/internal/workbook"
)

// Runner processes a batch of documents on a bounded worker pool and merges
// the results into the workbook once every document has finished.
type Runner struct {
	proc    *Processor
	merger  *workbook.Merger
	sink    StatusSink
	ledger  Ledger
	workers int
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithDocumentTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLedger records batch start and completion in l. Status transitions
// reach the ledger only when it is part of the processor's sink.
func WithLedger(l Ledger) Option {
	return func(r *Runner) { r.ledger = l }
}

func NewRunner(proc *Processor, merger *workbook.Merger, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		proc:    proc,
		merger:  merger,
		workers: 4,
		timeout: 2 * time.Minute,
		logger:  logger,
	}
	for _, o := range opts {
		o(r)
	}
	r.sink = proc.sink
	return r
}

// Request is one batch.
type Request struct {
	BatchID    string
	Documents  []entity.Document
	Percentage float64
	Output     string
}

// Run processes req and merges it. Cancelling ctx stops dispatching at once;
// documents already running finish under their own timeout and documents
// never started are reported failed. Only a persistence failure is returned
// as an error, together with the report gathered so far.
func (r *Runner) Run(ctx context.Context, req Request) (*BatchReport, error) {
	start := time.Now()
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	ctx = common.WithBatchID(ctx, req.BatchID)
	logger := common.LoggerFromContext(ctx, r.logger)
	report := &BatchReport{BatchID: req.BatchID, Output: req.Output, Documents: len(req.Documents)}

	dist, err := distribute.New(req.Percentage, r.logger)
	if err != nil {
		return report, err
	}
	if r.ledger != nil {
		if err := r.ledger.StartBatch(ctx, req.BatchID, req.Documents); err != nil {
			logger.Warn("batch.ledger.start_failed", "error", err)
		}
	}
	logger.Info("batch.start", "documents", len(req.Documents), "workers", r.workers, "percentage", req.Percentage)

	results := r.process(ctx, req.Documents, dist, time.Now().UTC())

	var ready []entity.Invoice
	for _, res := range results {
		if res.Err != nil {
			report.FailedDocuments++
		}
		switch {
		case common.IsCode(res.Err, common.CodeCancelled):
			report.Cancelled++
		case common.IsCode(res.Err, common.CodeDocumentTimeout):
			report.TimedOut++
		}
		report.InvoicesProcessed += len(res.Invoices)
		report.add(res.Issues...)
		ready = append(ready, res.Invoices...)
	}

	merged, err := r.merger.Merge(context.WithoutCancel(ctx), req.Output, ready, req.Percentage)
	report.add(merged.Duplicates...)
	report.add(merged.Issues...)
	report.RowsAdded = merged.Added
	report.InvoicesAdded = report.InvoicesProcessed - len(merged.Duplicates)
	report.Elapsed = time.Since(start)
	if err != nil {
		report.InvoicesAdded = 0
		report.add(issueFrom(err, req.Output, ""))
		logger.Error("batch.merge.failed", "error", err)
	}
	if r.ledger != nil {
		if lerr := r.ledger.FinishBatch(context.WithoutCancel(ctx), req.BatchID, report.RowsAdded, len(report.Issues), err); lerr != nil {
			logger.Warn("batch.ledger.finish_failed", "error", lerr)
		}
	}
	if err != nil {
		return report, err
	}

	logger.Info("batch.ok",
		"invoices", report.InvoicesProcessed,
		"rows_added", report.RowsAdded,
		"duplicates", report.Duplicates,
		"issues", len(report.Issues),
		"elapsed_ms", report.Elapsed.Milliseconds(),
	)
	return report, nil
}

func (r *Runner) process(ctx context.Context, docs []entity.Document, dist *distribute.Distributor, queued time.Time) []DocumentResult {
	results := make([]DocumentResult, len(docs))
	started := make([]bool, len(docs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(r.workers, max(len(docs), 1)); w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobs {
				docCtx := common.WithDocument(context.WithoutCancel(ctx), docs[i].Name)
				docCtx, cancel := context.WithTimeout(docCtx, r.timeout)
				results[i] = r.proc.process(docCtx, docs[i], dist, queued)
				cancel()
				r.logger.Debug("batch.worker.done", "worker_id", workerID, "document", docs[i].Name)
			}
		}(w + 1)
	}

dispatch:
	for i := range docs {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
			started[i] = true
		}
	}
	close(jobs)
	wg.Wait()

	for i, doc := range docs {
		if started[i] {
			continue
		}
		err := common.NewAppError(common.CodeCancelled, "batch cancelled before document started", common.ErrCancelled)
		results[i] = DocumentResult{Document: doc.Name, SHA256: doc.SHA256, Err: err}
		r.emit(ctx, doc.Name, constants.StatusQueued, "", queued)
		r.emit(ctx, doc.Name, constants.StatusFailed, "cancelled", time.Now().UTC())
		r.logger.Warn("batch.document.cancelled", "document", doc.Name)
	}
	return results
}

func (r *Runner) emit(ctx context.Context, document string, status constants.InvoiceStatus, reason string, at time.Time) {
	r.sink.Record(ctx, entity.StatusEvent{
		BatchID:  common.BatchIDFromContext(ctx),
		Document: document,
		Status:   status,
		Reason:   reason,
		At:       at,
	})
}
