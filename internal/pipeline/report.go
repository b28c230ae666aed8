package pipeline

import (
	"time"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
)

// BatchReport summarizes one batch.
type BatchReport struct {
	BatchID            string         `json:"batch_id"`
	Output             string         `json:"output"`
	Documents          int            `json:"documents"`
	FailedDocuments    int            `json:"failed_documents"`
	Cancelled          int            `json:"cancelled"`
	TimedOut           int            `json:"timed_out"`
	InvoicesProcessed  int            `json:"invoices_processed"`
	InvoicesAdded      int            `json:"invoices_added"`
	RowsAdded          int            `json:"rows_added"`
	Duplicates         int            `json:"duplicates"`
	StructuralFailures int            `json:"structural_failures"`
	CurrencyFailures   int            `json:"currency_failures"`
	ValidationFlags    int            `json:"validation_flags"`
	UnreadablePages    int            `json:"unreadable_pages"`
	AmbiguousPages     int            `json:"ambiguous_pages"`
	Issues             []common.Issue `json:"issues,omitempty"`
	Elapsed            time.Duration  `json:"elapsed"`
}

func (r *BatchReport) add(issues ...common.Issue) {
	for _, is := range issues {
		switch is.Code {
		case common.CodeDuplicateInvoice:
			r.Duplicates++
		case common.CodeStructuralFailure:
			r.StructuralFailures++
		case common.CodeCurrencyFailure:
			r.CurrencyFailures++
		case common.CodeValidationCoercion:
			r.ValidationFlags++
		case common.CodeUnreadablePage:
			r.UnreadablePages++
		case common.CodeAmbiguousContinuation:
			r.AmbiguousPages++
		}
		r.Issues = append(r.Issues, is)
	}
}
