package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"domstyle-sync-server/internal/config"
	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/logger"

	"go.uber.org/zap"
)

// SharePointAdapter mirrors rules into a SharePoint list through the classic
// REST API with verbose OData payloads.
type SharePointAdapter struct {
	siteURL string
	list    string
	client  *http.Client
}

func NewSharePointAdapter(cfg config.SharePointConfig, timeout time.Duration) *SharePointAdapter {
	return &SharePointAdapter{
		siteURL: strings.TrimRight(cfg.SiteURL, "/"),
		list:    cfg.ListName,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *SharePointAdapter) Name() string { return "sharepoint" }

func (a *SharePointAdapter) checkConfigured() error {
	if a.siteURL == "" || a.list == "" {
		return &domain.ConfigError{
			Setting: "SHAREPOINT_SITE_URL/SHAREPOINT_LIST_NAME",
			Message: "SharePoint configuration missing. Set SHAREPOINT_SITE_URL and SHAREPOINT_LIST_NAME to the site and list holding customizations.",
		}
	}
	return nil
}

func (a *SharePointAdapter) itemsURL() string {
	return fmt.Sprintf("%s/_api/web/lists/getbytitle('%s')/items", a.siteURL, url.PathEscape(a.list))
}

// metadataType derives the list item content type SharePoint expects in the
// __metadata discriminator, e.g. "SP.Data.DOMCustomizationsListItem".
func (a *SharePointAdapter) metadataType() string {
	return "SP.Data." + strings.ReplaceAll(a.list, " ", "") + "ListItem"
}

const sharePointSelect = "ID,Title,RuleDomain,Selector,Styles,CSS,JavaScript,Enabled,Description,TargetURL,QueryParams,PageType,Priority,Category,PseudoClasses,RuleVersion,ExternalID,Created,Modified"

func (a *SharePointAdapter) Query(ctx context.Context, token, filter string) ([]Record, error) {
	if err := a.checkConfigured(); err != nil {
		return nil, err
	}

	f := "Enabled eq 1"
	if filter != "" {
		f = f + " and " + filter
	}
	q := url.Values{}
	q.Set("$select", sharePointSelect)
	q.Set("$filter", f)
	q.Set("$orderby", "Priority asc,Title asc")

	var payload struct {
		D struct {
			Results []spItem `json:"results"`
		} `json:"d"`
	}
	if err := a.get(ctx, token, a.itemsURL()+"?"+q.Encode(), &payload); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(payload.D.Results))
	for i := range payload.D.Results {
		records = append(records, a.toRecord(&payload.D.Results[i]))
	}
	return records, nil
}

func (a *SharePointAdapter) Create(ctx context.Context, token string, rule *domain.CustomizationRule) (string, error) {
	if err := a.checkConfigured(); err != nil {
		return "", err
	}

	body := a.toItem(rule)
	body["ExternalID"] = rule.ID

	req, err := a.newRequest(ctx, http.MethodPost, a.itemsURL(), token, body)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", writeError(a.Name(), resp)
	}

	var created struct {
		D struct {
			ID int `json:"ID"`
		} `json:"d"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	return strconv.Itoa(created.D.ID), nil
}

func (a *SharePointAdapter) Update(ctx context.Context, token, backendID string, rule *domain.CustomizationRule) error {
	if err := a.checkConfigured(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s(%s)", a.itemsURL(), backendID)
	req, err := a.newRequest(ctx, http.MethodPost, endpoint, token, a.toItem(rule))
	if err != nil {
		return err
	}
	req.Header.Set("IF-MATCH", "*")
	req.Header.Set("X-HTTP-Method", "MERGE")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return writeError(a.Name(), resp)
	}
	return nil
}

func (a *SharePointAdapter) FindByExternalID(ctx context.Context, token, localID string) (*Record, error) {
	if err := a.checkConfigured(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("$select", sharePointSelect)
	q.Set("$filter", fmt.Sprintf("ExternalID eq '%s'", odataEscape(localID)))

	var payload struct {
		D struct {
			Results []spItem `json:"results"`
		} `json:"d"`
	}
	if err := a.get(ctx, token, a.itemsURL()+"?"+q.Encode(), &payload); err != nil {
		logger.Log.Warn("sharepoint lookup failed, treating item as absent",
			zap.String("rule_id", localID),
			zap.Error(err))
		return nil, nil
	}
	if len(payload.D.Results) == 0 {
		return nil, nil
	}

	rec := a.toRecord(&payload.D.Results[0])
	return &rec, nil
}

func (a *SharePointAdapter) get(ctx context.Context, token, endpoint string, out any) error {
	req, err := a.newRequest(ctx, http.MethodGet, endpoint, token, nil)
	if err != nil {
		return err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.RemoteQueryError{Backend: a.Name(), Status: resp.StatusCode, Body: string(body)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *SharePointAdapter) newRequest(ctx context.Context, method, endpoint, token string, body map[string]any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json;odata=verbose")
	if body != nil {
		req.Header.Set("Content-Type", "application/json;odata=verbose")
	}
	return req, nil
}

type spItem struct {
	ID            int    `json:"ID"`
	Title         string `json:"Title"`
	RuleDomain    string `json:"RuleDomain"`
	Selector      string `json:"Selector"`
	Styles        string `json:"Styles"`
	CSS           string `json:"CSS"`
	JavaScript    string `json:"JavaScript"`
	Enabled       bool   `json:"Enabled"`
	Description   string `json:"Description"`
	TargetURL     string `json:"TargetURL"`
	QueryParams   string `json:"QueryParams"`
	PageType      string `json:"PageType"`
	Priority      int    `json:"Priority"`
	Category      string `json:"Category"`
	PseudoClasses string `json:"PseudoClasses"`
	RuleVersion   int64  `json:"RuleVersion"`
	ExternalID    string `json:"ExternalID"`
	Created       string `json:"Created"`
	Modified      string `json:"Modified"`
}

func (a *SharePointAdapter) toItem(rule *domain.CustomizationRule) map[string]any {
	item := map[string]any{
		"__metadata":  map[string]string{"type": a.metadataType()},
		"Title":       rule.Name,
		"RuleDomain":  rule.Domain,
		"Selector":    rule.Selector,
		"CSS":         rule.CSS,
		"JavaScript":  rule.JSCode,
		"Enabled":     rule.Enabled,
		"Description": rule.Description,
		"TargetURL":   rule.URLPattern,
		"PageType":    string(rule.PageType),
		"Priority":    rule.Priority,
		"Category":    rule.Category,
		"RuleVersion": rule.Version,
	}
	item["Styles"] = marshalOrEmpty(rule.Styles)
	item["QueryParams"] = marshalOrEmpty(rule.QueryParams)
	item["PseudoClasses"] = marshalOrEmpty(rule.PseudoClasses)
	return item
}

func (a *SharePointAdapter) toRecord(item *spItem) Record {
	spID := strconv.Itoa(item.ID)

	ruleID := item.ExternalID
	if ruleID == "" {
		// List items authored in SharePoint directly carry no external id.
		ruleID = "sp_" + spID
	}

	rule := &domain.CustomizationRule{
		ID:           ruleID,
		Name:         item.Title,
		Domain:       item.RuleDomain,
		Selector:     item.Selector,
		CSS:          item.CSS,
		JSCode:       item.JavaScript,
		Enabled:      item.Enabled,
		Description:  item.Description,
		URLPattern:   item.TargetURL,
		PageType:     domain.PageType(item.PageType),
		Priority:     item.Priority,
		Category:     item.Category,
		Version:      item.RuleVersion,
		CreatedOn:    parseBackendTime(item.Created),
		ModifiedOn:   parseBackendTime(item.Modified),
		Source:       domain.SourceSharePoint,
		SharePointID: spID,
	}
	if rule.Priority == 0 {
		rule.Priority = 1
	}
	if rule.Category == "" {
		rule.Category = "General"
	}

	unmarshalJSONField(item.Styles, &rule.Styles, ruleID, "styles")
	unmarshalJSONField(item.QueryParams, &rule.QueryParams, ruleID, "query params")
	unmarshalJSONField(item.PseudoClasses, &rule.PseudoClasses, ruleID, "pseudo classes")

	return Record{
		BackendID:  spID,
		ExternalID: item.ExternalID,
		Rule:       rule,
	}
}

func marshalOrEmpty(v any) string {
	switch m := v.(type) {
	case map[string]string:
		if len(m) == 0 {
			return ""
		}
	case map[string]map[string]string:
		if len(m) == 0 {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJSONField(raw string, out any, ruleID, field string) {
	if raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		logger.Log.Warn("discarding malformed list column payload",
			zap.String("rule_id", ruleID),
			zap.String("column", field),
			zap.Error(err))
	}
}
