// Package ingest discovers source PDFs on disk and watches an inbox for new ones.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
)

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned uint32
	Matched uint32
	Loaded  uint32
	Failed  uint32
}

// Failure is a file that matched but could not be loaded.
type Failure struct {
	Path string
	Err  string
}

// ReadDocument loads and hashes one PDF.
func ReadDocument(path string) (entity.Document, error) {
	if !IsDocument(path) {
		return entity.Document{}, fmt.Errorf("unsupported or missing extension: %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return entity.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return entity.NewDocument(path, data), nil
}

// Discover walks root and loads every PDF, in lexical path order. Unreadable
// files are reported as failures and the walk continues.
func Discover(ctx context.Context, root string, skipHidden bool, logger *slog.Logger) ([]entity.Document, []Failure, DirStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(root) == "" {
		return nil, nil, DirStats{}, errors.New("root path is required")
	}

	var (
		docs     []entity.Document
		failures []Failure
		stats    DirStats
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			failures = append(failures, Failure{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsDocument(path) {
			return nil
		}
		stats.Matched++

		doc, err := ReadDocument(path)
		if err != nil {
			logger.Warn("ingest.file.failed", "path", path, "error", err)
			failures = append(failures, Failure{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		docs = append(docs, doc)
		stats.Loaded++
		return nil
	})
	if err != nil {
		return docs, failures, stats, fmt.Errorf("walk: %w", err)
	}
	logger.Info("ingest.discover.ok", "root", root, "matched", stats.Matched, "loaded", stats.Loaded, "failed", stats.Failed)
	return docs, failures, stats, nil
}
