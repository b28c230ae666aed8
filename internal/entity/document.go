package entity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Document is one source PDF.
type Document struct {
	Name   string `json:"name"`
	Data   []byte `json:"-"`
	SHA256 string `json:"sha256"`
}

// NewDocument hashes data once so the ledger can recognise repeated content.
func NewDocument(name string, data []byte) Document {
	sum := sha256.Sum256(data)
	return Document{Name: name, Data: data, SHA256: hex.EncodeToString(sum[:])}
}
