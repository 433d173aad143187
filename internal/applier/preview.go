package applier

import (
	"context"

	"domstyle-sync-server/internal/domain"
)

// PreviewElementID namespaces transient preview styles apart from applied
// rules so a reapply never clears an open preview.
func PreviewElementID(ruleID string) string { return StyleElementPrefix + "preview-" + ruleID }

// TestSelector reports how many elements the selector currently matches on
// the page.
func (s *Session) TestSelector(ctx context.Context, selector string) (int, error) {
	return s.page.MatchCount(ctx, selector)
}

// Preview injects the rule's styles without persisting anything or touching
// the applied-rule tracking. Scripts are never run from a preview.
func (s *Session) Preview(ctx context.Context, rule *domain.CustomizationRule) error {
	css := CompileCSS(rule)
	if pseudo := CompilePseudoCSS(rule); pseudo != "" {
		if css != "" {
			css += "\n"
		}
		css += pseudo
	}
	if css == "" {
		return domain.ErrInvalidSelector
	}
	return s.page.UpsertStyle(ctx, PreviewElementID(rule.ID), css)
}

// RemovePreview clears a previously injected preview.
func (s *Session) RemovePreview(ctx context.Context, ruleID string) error {
	return s.page.RemoveStyle(ctx, PreviewElementID(ruleID))
}
