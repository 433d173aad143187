package service

import (
	"fmt"
	"reflect"

	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/logger"

	"go.uber.org/zap"
)

// ConflictResolver decides the surviving content when a rule changed on both
// sides between syncs. It never touches storage or the network.
type ConflictResolver struct{}

func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{}
}

// Resolve settles one local/remote pair under the given strategy. Both sides
// must be non-nil; one-sided presence is not a conflict and is handled by the
// sync engine before resolution.
func (r *ConflictResolver) Resolve(local, remote *domain.CustomizationRule, strategy domain.Strategy) domain.Verdict {
	if RulesEquivalent(local, remote) {
		return domain.Verdict{
			Winner:     domain.WinnerRemote,
			Resolution: domain.ResolutionIdentical,
			Identical:  true,
		}
	}

	switch strategy {
	case domain.StrategyLocalWins:
		return domain.Verdict{Winner: domain.WinnerLocal, Resolution: domain.ResolutionLocalWins}

	case domain.StrategyRemoteWins:
		return domain.Verdict{Winner: domain.WinnerRemote, Resolution: domain.ResolutionRemoteWins}

	case domain.StrategyNewestWins:
		return r.resolveNewest(local, remote)

	case domain.StrategyMerge:
		merged, err := mergeRules(local, remote)
		if err != nil {
			logger.Log.Warn("rule merge failed, falling back to newest side",
				zap.String("rule_id", local.ID),
				zap.String("domain", local.Domain),
				zap.Error(err))
			verdict := r.resolveNewest(local, remote)
			verdict.Resolution = domain.ResolutionMergeFallback
			return verdict
		}
		return domain.Verdict{
			Winner:     domain.WinnerMerged,
			Resolution: domain.ResolutionMerged,
			Merged:     merged,
		}

	default:
		// Unknown strategy settles like the default rather than stalling
		// the sync run.
		return domain.Verdict{Winner: domain.WinnerRemote, Resolution: domain.ResolutionRemoteWins}
	}
}

// resolveNewest compares modification timestamps. A tie goes to remote: the
// backend is the administered store, so equal-age content defers to it.
func (r *ConflictResolver) resolveNewest(local, remote *domain.CustomizationRule) domain.Verdict {
	if local.ModifiedOn.After(remote.ModifiedOn) {
		return domain.Verdict{Winner: domain.WinnerLocal, Resolution: domain.ResolutionLocalNewer}
	}
	return domain.Verdict{Winner: domain.WinnerRemote, Resolution: domain.ResolutionRemoteNewer}
}

// mergeRules builds a combined rule with local precedence on scalar fields
// and a union of the map-valued fields. Sides that no longer describe the
// same injection target cannot be merged.
func mergeRules(local, remote *domain.CustomizationRule) (*domain.CustomizationRule, error) {
	if local.Domain != remote.Domain {
		return nil, fmt.Errorf("domain diverged: %q vs %q", local.Domain, remote.Domain)
	}
	if local.Selector != remote.Selector {
		return nil, fmt.Errorf("selector diverged: %q vs %q", local.Selector, remote.Selector)
	}

	merged := *local

	merged.Styles = mergeStringMaps(remote.Styles, local.Styles)
	merged.QueryParams = mergeStringMaps(remote.QueryParams, local.QueryParams)
	merged.PseudoClasses = mergePseudoClasses(remote.PseudoClasses, local.PseudoClasses)

	if local.CSS == "" {
		merged.CSS = remote.CSS
	}
	if local.JSCode == "" {
		merged.JSCode = remote.JSCode
	}
	if local.Description == "" {
		merged.Description = remote.Description
	}

	if remote.Version > merged.Version {
		merged.Version = remote.Version
	}
	if remote.ModifiedOn.After(merged.ModifiedOn) {
		merged.ModifiedOn = remote.ModifiedOn
	}

	return &merged, nil
}

// mergeStringMaps unions base under overlay; overlay entries win.
func mergeStringMaps(base, overlay map[string]string) map[string]string {
	if base == nil && overlay == nil {
		return nil
	}
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func mergePseudoClasses(base, overlay map[string]map[string]string) map[string]map[string]string {
	if base == nil && overlay == nil {
		return nil
	}
	out := make(map[string]map[string]string, len(base)+len(overlay))
	for pseudo, decls := range base {
		out[pseudo] = mergeStringMaps(nil, decls)
	}
	for pseudo, decls := range overlay {
		out[pseudo] = mergeStringMaps(out[pseudo], decls)
	}
	return out
}

// RulesEquivalent reports whether two rules carry the same content. Sync
// bookkeeping (version, timestamps, source, backend references) is excluded
// so a round-tripped rule still compares equal.
func RulesEquivalent(a, b *domain.CustomizationRule) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name == b.Name &&
		a.Domain == b.Domain &&
		a.Selector == b.Selector &&
		a.CSS == b.CSS &&
		a.JSCode == b.JSCode &&
		a.URLPattern == b.URLPattern &&
		a.PageType == b.PageType &&
		a.Enabled == b.Enabled &&
		a.Priority == b.Priority &&
		a.Category == b.Category &&
		a.Description == b.Description &&
		stringMapsEqual(a.Styles, b.Styles) &&
		stringMapsEqual(a.QueryParams, b.QueryParams) &&
		pseudoClassesEqual(a.PseudoClasses, b.PseudoClasses)
}

func stringMapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func pseudoClassesEqual(a, b map[string]map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !stringMapsEqual(b[k], v) {
			return false
		}
	}
	return true
}

// Differences lists the content properties diverging between two rules,
// for conflict inspection endpoints and logs.
func Differences(local, remote *domain.CustomizationRule) []domain.FieldDifference {
	var diffs []domain.FieldDifference

	add := func(property string, l, r any) {
		if !reflect.DeepEqual(l, r) {
			diffs = append(diffs, domain.FieldDifference{Property: property, Local: l, Remote: r})
		}
	}

	add("name", local.Name, remote.Name)
	add("domain", local.Domain, remote.Domain)
	add("selector", local.Selector, remote.Selector)
	add("styles", local.Styles, remote.Styles)
	add("css", local.CSS, remote.CSS)
	add("js_code", local.JSCode, remote.JSCode)
	add("url_pattern", local.URLPattern, remote.URLPattern)
	add("query_params", local.QueryParams, remote.QueryParams)
	add("page_type", local.PageType, remote.PageType)
	add("enabled", local.Enabled, remote.Enabled)
	add("priority", local.Priority, remote.Priority)
	add("category", local.Category, remote.Category)
	add("description", local.Description, remote.Description)
	add("pseudo_classes", local.PseudoClasses, remote.PseudoClasses)

	return diffs
}
