package pagetext

import (
	"context"
	"log/slog"
)

// FallbackSource reads with Primary and consults Secondary for the whole
// document when Primary cannot open it, or for the individual pages Primary
// could not read.
type FallbackSource struct {
	Primary   Source
	Secondary Source
	Logger    *slog.Logger
}

func (s FallbackSource) Pages(ctx context.Context, name string, data []byte) ([]PageResult, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	results, err := s.Primary.Pages(ctx, name, data)
	if err != nil {
		logger.Warn("pagetext.fallback.document", "document", name, "error", err)
		return s.Secondary.Pages(ctx, name, data)
	}

	bad := 0
	for _, r := range results {
		if r.Err != nil {
			bad++
		}
	}
	if bad == 0 {
		return results, nil
	}

	alt, altErr := s.Secondary.Pages(ctx, name, data)
	if altErr != nil {
		logger.Warn("pagetext.fallback.failed", "document", name, "unreadable_pages", bad, "error", altErr)
		return results, nil
	}
	for i := range results {
		if results[i].Err != nil && i < len(alt) && alt[i].Err == nil {
			logger.Info("pagetext.fallback.page_recovered", "document", name, "page", i+1)
			results[i] = alt[i]
		}
	}
	return results, nil
}
