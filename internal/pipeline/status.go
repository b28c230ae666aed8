package pipeline

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/intrastat-extractor/constants"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
)

// Ledger persists batches alongside their status transitions.
type Ledger interface {
	StatusSink
	StartBatch(ctx context.Context, batchID string, docs []entity.Document) error
	FinishBatch(ctx context.Context, batchID string, rowsAdded, issues int, failure error) error
}

// StatusSink receives status transitions for progress reporting.
type StatusSink interface {
	Record(ctx context.Context, ev entity.StatusEvent)
}

// LogSink writes transitions to a slog logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(_ context.Context, ev entity.StatusEvent) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelDebug
	switch {
	case ev.Status == constants.StatusFailed:
		level = slog.LevelWarn
	case ev.Status.Terminal():
		level = slog.LevelInfo
	}
	logger.Log(context.Background(), level, "pipeline.status",
		"batch_id", ev.BatchID,
		"document", ev.Document,
		"invoice", ev.Invoice,
		"status", string(ev.Status),
		"reason", ev.Reason,
	)
}

// MultiSink fans a transition out to several sinks in order.
type MultiSink []StatusSink

func (m MultiSink) Record(ctx context.Context, ev entity.StatusEvent) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, ev)
		}
	}
}
