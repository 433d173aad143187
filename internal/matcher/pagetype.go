package matcher

import (
	"regexp"

	"domstyle-sync-server/internal/domain"
)

// Platform detection is pattern-based: each supported platform has a fixed
// list of hostname/path regexes. A URL matching any pattern of a platform is
// considered to be that page type.
var d365Patterns = []*regexp.Regexp{
	regexp.MustCompile(`\.crm[0-9]*\.dynamics\.com`),
	regexp.MustCompile(`\.api\.crm[0-9]*\.dynamics\.com`),
	regexp.MustCompile(`/main\.aspx`),
}

var sharePointPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.sharepoint\.com`),
	regexp.MustCompile(`/_layouts/`),
	regexp.MustCompile(`/sites/[^/]+`),
}

// DetectPageType classifies a URL as D365, SharePoint, or neither. D365 is
// checked first; the platforms do not overlap in practice.
func DetectPageType(url string) domain.PageType {
	for _, p := range d365Patterns {
		if p.MatchString(url) {
			return domain.PageTypeD365
		}
	}
	for _, p := range sharePointPatterns {
		if p.MatchString(url) {
			return domain.PageTypeSharePoint
		}
	}
	return domain.PageTypeAny
}
