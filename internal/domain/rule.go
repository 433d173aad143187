package domain

import (
	"sort"
	"time"
)

type RuleSource string

const (
	SourceLocal      RuleSource = "local"
	SourceDataverse  RuleSource = "dataverse"
	SourceSharePoint RuleSource = "sharepoint"
)

type PageType string

const (
	PageTypeAny        PageType = ""
	PageTypeD365       PageType = "d365"
	PageTypeSharePoint PageType = "sharepoint"
)

// CustomizationRule is one CSS/JS injection spec scoped by domain, selector
// and query parameters. ID is unique within the local store; DataverseID and
// SharePointID cross-reference the mirrored record on at most one backend.
type CustomizationRule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Domain   string `json:"domain,omitempty"`
	Selector string `json:"selector"`

	// Styles holds property -> value declarations; CSS is the raw-string
	// alternative used when a rule was authored as a stylesheet fragment.
	Styles map[string]string `json:"styles,omitempty"`
	CSS    string            `json:"css,omitempty"`

	// JSCode is only ever injected for admin sessions.
	JSCode string `json:"js_code,omitempty"`

	URLPattern  string            `json:"url_pattern,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	PageType    PageType          `json:"page_type,omitempty"`

	Enabled bool `json:"enabled"`

	// Priority orders application: lower values apply first, so on a
	// selector/property collision the highest number observably wins.
	Priority int `json:"priority"`

	Category      string                       `json:"category,omitempty"`
	Description   string                       `json:"description,omitempty"`
	PseudoClasses map[string]map[string]string `json:"pseudo_classes,omitempty"`

	Version    int64     `json:"version"`
	CreatedOn  time.Time `json:"created_on"`
	ModifiedOn time.Time `json:"modified_on"`

	Source       RuleSource `json:"source"`
	DataverseID  string     `json:"dataverse_id,omitempty"`
	SharePointID string     `json:"sharepoint_id,omitempty"`
}

// StyleProperties returns the declaration keys in deterministic order.
func (r *CustomizationRule) StyleProperties() []string {
	props := make([]string, 0, len(r.Styles))
	for p := range r.Styles {
		props = append(props, p)
	}
	sort.Strings(props)
	return props
}

// SortRules orders rules by priority ascending, name as tie-break. The order
// is stable and deterministic so that repeated application yields the same
// winner for colliding declarations.
func SortRules(rules []*CustomizationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Name < rules[j].Name
	})
}

type CreateRuleRequest struct {
	Name          string                       `json:"name" validate:"required"`
	Domain        string                       `json:"domain"`
	Selector      string                       `json:"selector" validate:"required"`
	Styles        map[string]string            `json:"styles"`
	CSS           string                       `json:"css"`
	JSCode        string                       `json:"js_code"`
	URLPattern    string                       `json:"url_pattern"`
	QueryParams   map[string]string            `json:"query_params"`
	PageType      PageType                     `json:"page_type" validate:"omitempty,oneof=d365 sharepoint"`
	Enabled       *bool                        `json:"enabled"`
	Priority      int                          `json:"priority" validate:"min=0"`
	Category      string                       `json:"category"`
	Description   string                       `json:"description"`
	PseudoClasses map[string]map[string]string `json:"pseudo_classes"`
}

type UpdateRuleRequest struct {
	Name          *string                      `json:"name"`
	Domain        *string                      `json:"domain"`
	Selector      *string                      `json:"selector"`
	Styles        map[string]string            `json:"styles"`
	CSS           *string                      `json:"css"`
	JSCode        *string                      `json:"js_code"`
	URLPattern    *string                      `json:"url_pattern"`
	QueryParams   map[string]string            `json:"query_params"`
	PageType      *PageType                    `json:"page_type"`
	Enabled       *bool                        `json:"enabled"`
	Priority      *int                         `json:"priority"`
	Category      *string                      `json:"category"`
	Description   *string                      `json:"description"`
	PseudoClasses map[string]map[string]string `json:"pseudo_classes"`
}
