package entity

import (
	"time"

	"github.com/joseph-ayodele/intrastat-extractor/constants"
)

// StatusEvent is one invoice status transition. Invoice is empty while the
// document has not been split into invoices yet.
type StatusEvent struct {
	BatchID  string                  `json:"batch_id"`
	Document string                  `json:"document"`
	Invoice  string                  `json:"invoice,omitempty"`
	Status   constants.InvoiceStatus `json:"status"`
	Reason   string                  `json:"reason,omitempty"`
	At       time.Time               `json:"at"`
}
