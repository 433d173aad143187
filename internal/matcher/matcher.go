// Package matcher selects the customization rules applicable to a page
// context. It is pure: no I/O, no clocks, deterministic output order.
package matcher

import (
	"regexp"
	"strings"

	"domstyle-sync-server/internal/domain"
)

// SelectApplicable filters rules down to the ones matching the page context
// and returns them sorted by priority ascending, name as tie-break. A rule
// matches only when every restriction it carries holds; restrictions it
// omits are wildcards.
func SelectApplicable(rules []*domain.CustomizationRule, page domain.PageContext) []*domain.CustomizationRule {
	pageType := DetectPageType(page.URL)

	var matched []*domain.CustomizationRule
	for _, rule := range rules {
		if Matches(rule, page, pageType) {
			matched = append(matched, rule)
		}
	}

	domain.SortRules(matched)
	return matched
}

// Matches reports whether one rule applies to the page. pageType is passed
// in so callers iterating many rules detect the platform once.
func Matches(rule *domain.CustomizationRule, page domain.PageContext, pageType domain.PageType) bool {
	if !rule.Enabled {
		return false
	}

	if rule.Domain != "" && !strings.Contains(page.Hostname, rule.Domain) {
		return false
	}

	if rule.URLPattern != "" {
		re, err := regexp.Compile(rule.URLPattern)
		if err != nil || !re.MatchString(page.URL) {
			return false
		}
	}

	if !queryParamsMatch(rule.QueryParams, page.QueryParams) {
		return false
	}

	if rule.PageType != domain.PageTypeAny && rule.PageType != pageType {
		return false
	}

	return true
}

// queryParamsMatch implements subset containment: every required key must
// equal the page's value. An empty requirement matches any query state, and
// the value "*" requires only that the key is present.
func queryParamsMatch(required, current map[string]string) bool {
	if len(required) == 0 {
		return true
	}

	for key, want := range required {
		got, ok := current[key]
		if !ok {
			return false
		}
		if want == "*" {
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}
