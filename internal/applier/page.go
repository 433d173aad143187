package applier

import (
	"context"

	"domstyle-sync-server/internal/domain"
)

// Page is one connected content client's document. Calls fan out to the
// client over its session transport; errors mean the client could not
// perform the operation, not that the transport is gone.
type Page interface {
	// Context returns the page's current location.
	Context() domain.PageContext

	// ContentReady reports whether the page's dynamic frame has rendered
	// enough for selectors to be meaningful.
	ContentReady(ctx context.Context) (bool, error)

	// MatchCount runs the selector on the live document and returns how
	// many elements matched.
	MatchCount(ctx context.Context, selector string) (int, error)

	// UpsertStyle creates or replaces the style element with the given id.
	UpsertStyle(ctx context.Context, elementID, css string) error

	// RemoveStyle deletes the style element if present.
	RemoveStyle(ctx context.Context, elementID string) error

	// RunScript executes rule-provided JavaScript in the page. The caller
	// gates this on role verification.
	RunScript(ctx context.Context, ruleID, source string) error

	// CurrentURL reports the document's present href, which SPA navigation
	// changes without a load event.
	CurrentURL(ctx context.Context) (string, error)
}
