package source

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dealsync/backend/internal/domain/dealsync"
)

// FetchWindow retrieves every deal document of the partition in the window.
//
// The window is split into calendar-year sub-windows because the source
// refuses ranges longer than 12 months. Each sub-window follows pages until
// the server-reported total is exhausted. An error on any page marks only
// that sub-window as errored; pages fetched before the error are kept and the
// remaining sub-windows are still fetched. Nothing is retried here.
func (c *Client) FetchWindow(ctx context.Context, partition *dealsync.Partition, window dealsync.Window) *dealsync.WindowResult {
	subWindows, err := dealsync.SplitByCalendarYear(window.Start, window.End)
	if err != nil {
		return &dealsync.WindowResult{SubWindows: []dealsync.SubWindowResult{{Window: window, Err: err}}}
	}

	// each goroutine writes only its own slot
	results := make([]dealsync.SubWindowResult, len(subWindows))

	g := new(errgroup.Group)
	g.SetLimit(c.config.WindowConcurrency)
	for i, sw := range subWindows {
		g.Go(func() error {
			results[i] = c.fetchSubWindow(ctx, partition, sw)
			return nil
		})
	}
	_ = g.Wait()

	return &dealsync.WindowResult{SubWindows: results}
}

func (c *Client) fetchSubWindow(ctx context.Context, partition *dealsync.Partition, window dealsync.Window) dealsync.SubWindowResult {
	result := dealsync.SubWindowResult{Window: window}
	log := c.logger.With(
		zap.String("partition", partition.Name),
		zap.String("window", window.String()),
	)

	for page := 1; ; page++ {
		if page > c.config.MaxPages {
			result.Err = fmt.Errorf("%w: more than %d pages", dealsync.ErrSourceInvalidResponse, c.config.MaxPages)
			break
		}

		resp, err := c.FetchPage(ctx, partition, window, page)
		if err != nil {
			result.Err = fmt.Errorf("page %d: %w", page, err)
			log.Warn("Sub-window fetch failed",
				zap.Int("page", page),
				zap.Int("documents_kept", len(result.Documents)),
				zap.Error(err))
			break
		}

		result.Pages++
		result.TotalDeals = resp.TotalDeals
		for _, raw := range resp.Deals {
			if isJSONNull(raw) {
				continue
			}
			result.Documents = append(result.Documents, dealsync.SourceDocument{
				LoanCode: dealsync.PeekLoanCode(raw),
				Payload:  raw,
			})
		}

		if !resp.HasMore(page) {
			break
		}
	}

	log.Debug("Sub-window fetched",
		zap.Int("pages", result.Pages),
		zap.Int("documents", len(result.Documents)),
		zap.Bool("errored", result.Err != nil))
	return result
}

func isJSONNull(raw []byte) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// Compile-time interface check
var _ dealsync.DealSource = (*Client)(nil)
