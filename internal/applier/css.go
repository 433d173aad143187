package applier

import (
	"sort"
	"strings"

	"domstyle-sync-server/internal/domain"
)

// StyleElementPrefix namespaces the injected style elements so removal can
// find exactly what this system created.
const StyleElementPrefix = "domstyle-"

var supportedPseudoClasses = map[string]bool{
	"hover": true, "active": true, "focus": true, "focus-within": true,
	"focus-visible": true, "target": true, "valid": true, "invalid": true,
	"read-write": true, "read-only": true, "checked": true, "disabled": true,
	"enabled": true, "required": true, "optional": true, "visited": true,
	"link": true, "first-child": true, "last-child": true, "nth-child": true,
	"first-of-type": true, "last-of-type": true, "nth-of-type": true,
	"only-child": true, "only-of-type": true, "empty": true, "not": true,
	"before": true, "after": true,
}

func StyleElementID(ruleID string) string { return StyleElementPrefix + ruleID }

func PseudoElementID(ruleID string) string { return StyleElementPrefix + ruleID + "-pseudo" }

// CompileCSS renders the rule's base stylesheet fragment: the declaration
// map in deterministic order, then any raw CSS the rule was authored with.
func CompileCSS(rule *domain.CustomizationRule) string {
	var decls []string
	for _, prop := range rule.StyleProperties() {
		decls = append(decls, prop+": "+rule.Styles[prop]+";")
	}
	if raw := strings.TrimSpace(rule.CSS); raw != "" {
		if !strings.HasSuffix(raw, ";") {
			raw += ";"
		}
		decls = append(decls, raw)
	}
	if len(decls) == 0 {
		return ""
	}
	return rule.Selector + " { " + strings.Join(decls, " ") + " }"
}

// CompilePseudoCSS renders one block per supported pseudo-class. Unknown
// pseudo-class keys are skipped.
func CompilePseudoCSS(rule *domain.CustomizationRule) string {
	if len(rule.PseudoClasses) == 0 {
		return ""
	}

	var blocks []string
	for _, pseudo := range sortedKeys(rule.PseudoClasses) {
		if !supportedPseudoClasses[strings.TrimPrefix(pseudo, ":")] {
			continue
		}
		styles := rule.PseudoClasses[pseudo]
		if len(styles) == 0 {
			continue
		}

		var decls []string
		for _, prop := range sortedKeys(styles) {
			decls = append(decls, prop+": "+styles[prop]+";")
		}
		blocks = append(blocks, rule.Selector+":"+strings.TrimPrefix(pseudo, ":")+" { "+strings.Join(decls, " ")+" }")
	}
	return strings.Join(blocks, "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
