package constants

// InvoiceStatus is the canonical progress state of one invoice (or of a document
// that never produced one) in a batch.
type InvoiceStatus string

// Stable values (store these exact strings in the ledger).
const (
	StatusQueued       InvoiceStatus = "QUEUED"
	StatusExtracting   InvoiceStatus = "EXTRACTING"
	StatusDistributing InvoiceStatus = "DISTRIBUTING"
	StatusConverting   InvoiceStatus = "CONVERTING"
	StatusReadyToMerge InvoiceStatus = "READY_TO_MERGE"
	StatusFailed       InvoiceStatus = "FAILED" // terminal, carries a reason
)

// Terminal reports whether no further transition can follow s.
func (s InvoiceStatus) Terminal() bool {
	return s == StatusReadyToMerge || s == StatusFailed
}
