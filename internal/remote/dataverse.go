package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"domstyle-sync-server/internal/config"
	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/logger"

	"go.uber.org/zap"
)

const dataverseAPIPath = "/api/data/v9.2"

// DataverseAdapter mirrors rules into a custom Dataverse table over OData v4.
type DataverseAdapter struct {
	orgURL       string
	table        string
	prefix       string
	requiredRole string
	client       *http.Client
}

func NewDataverseAdapter(cfg config.DataverseConfig, requiredRole string, timeout time.Duration) *DataverseAdapter {
	return &DataverseAdapter{
		orgURL:       strings.TrimRight(cfg.OrgURL, "/"),
		table:        cfg.TableName,
		prefix:       cfg.ColumnPrefix,
		requiredRole: requiredRole,
		client:       &http.Client{Timeout: timeout},
	}
}

func (a *DataverseAdapter) Name() string { return "dataverse" }

func (a *DataverseAdapter) col(name string) string { return a.prefix + name }

func (a *DataverseAdapter) selectColumns() string {
	cols := []string{
		a.table + "id",
		a.col("customizationid"),
		a.col("name"),
		a.col("domain"),
		a.col("selector"),
		a.col("styles"),
		a.col("css"),
		a.col("javascript"),
		a.col("enabled"),
		a.col("description"),
		a.col("targeturl"),
		a.col("queryparams"),
		a.col("pagetype"),
		a.col("priority"),
		a.col("category"),
		a.col("pseudoclasses"),
		a.col("version"),
		"createdon",
		"modifiedon",
	}
	return strings.Join(cols, ",")
}

func (a *DataverseAdapter) checkConfigured() error {
	if a.orgURL == "" {
		return &domain.ConfigError{
			Setting: "DATAVERSE_ORG_URL",
			Message: "Dataverse organization URL is not configured. Set DATAVERSE_ORG_URL to your Dynamics 365 environment URL.",
		}
	}
	return nil
}

func (a *DataverseAdapter) Query(ctx context.Context, token, filter string) ([]Record, error) {
	if err := a.checkConfigured(); err != nil {
		return nil, err
	}

	f := "statecode eq 0"
	if filter != "" {
		f = f + " and " + filter
	}
	q := url.Values{}
	q.Set("$select", a.selectColumns())
	q.Set("$filter", f)
	q.Set("$orderby", a.col("priority")+" asc,"+a.col("name")+" asc")

	endpoint := fmt.Sprintf("%s%s/%s?%s", a.orgURL, dataverseAPIPath, a.table, q.Encode())

	var payload struct {
		Value []map[string]any `json:"value"`
	}
	if err := a.get(ctx, token, endpoint, &payload); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(payload.Value))
	for _, row := range payload.Value {
		records = append(records, a.toRecord(row))
	}
	return records, nil
}

func (a *DataverseAdapter) Create(ctx context.Context, token string, rule *domain.CustomizationRule) (string, error) {
	if err := a.checkConfigured(); err != nil {
		return "", err
	}

	body := a.toColumns(rule)

	endpoint := fmt.Sprintf("%s%s/%s", a.orgURL, dataverseAPIPath, a.table)
	req, err := a.newRequest(ctx, http.MethodPost, endpoint, token, body)
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

	// OData-EntityId: {orgUrl}/api/data/v9.2/{table}(guid)
	entityID := resp.Header.Get("OData-EntityId")
	return extractEntityGUID(entityID), nil
}

func (a *DataverseAdapter) Update(ctx context.Context, token, backendID string, rule *domain.CustomizationRule) error {
	if err := a.checkConfigured(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s%s/%s(%s)", a.orgURL, dataverseAPIPath, a.table, backendID)
	req, err := a.newRequest(ctx, http.MethodPatch, endpoint, token, a.toColumns(rule))
	if err != nil {
		return err
	}
	req.Header.Set("If-Match", "*")

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

func (a *DataverseAdapter) FindByExternalID(ctx context.Context, token, localID string) (*Record, error) {
	if err := a.checkConfigured(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("$select", a.selectColumns())
	q.Set("$filter", fmt.Sprintf("%s eq '%s'", a.col("customizationid"), odataEscape(localID)))

	endpoint := fmt.Sprintf("%s%s/%s?%s", a.orgURL, dataverseAPIPath, a.table, q.Encode())

	var payload struct {
		Value []map[string]any `json:"value"`
	}
	if err := a.get(ctx, token, endpoint, &payload); err != nil {
		logger.Log.Warn("dataverse lookup failed, treating record as absent",
			zap.String("rule_id", localID),
			zap.Error(err))
		return nil, nil
	}
	if len(payload.Value) == 0 {
		return nil, nil
	}

	rec := a.toRecord(payload.Value[0])
	return &rec, nil
}

// VerifyRole resolves the caller's systemuser by Azure AD object id, expands
// the associated security roles and checks the customization roles.
func (a *DataverseAdapter) VerifyRole(ctx context.Context, token, aadObjectID string) (*domain.RoleInfo, error) {
	if err := a.checkConfigured(); err != nil {
		return nil, err
	}
	if aadObjectID == "" {
		return nil, fmt.Errorf("no user identifier available for role lookup")
	}

	uq := url.Values{}
	uq.Set("$filter", fmt.Sprintf("azureactivedirectoryobjectid eq %s", aadObjectID))
	uq.Set("$select", "systemuserid,fullname,domainname")
	userEndpoint := fmt.Sprintf("%s%s/systemusers?%s", a.orgURL, dataverseAPIPath, uq.Encode())

	var users struct {
		Value []struct {
			SystemUserID string `json:"systemuserid"`
			FullName     string `json:"fullname"`
		} `json:"value"`
	}
	if err := a.get(ctx, token, userEndpoint, &users); err != nil {
		return nil, err
	}
	if len(users.Value) == 0 {
		return nil, fmt.Errorf("user %s not found in Dataverse organization", aadObjectID)
	}

	rq := url.Values{}
	rq.Set("$expand", "systemuserroles_association($select=name,roleid,businessunitid)")
	roleEndpoint := fmt.Sprintf("%s%s/systemusers(%s)?%s",
		a.orgURL, dataverseAPIPath, users.Value[0].SystemUserID, rq.Encode())

	var roleData struct {
		Roles []struct {
			Name string `json:"name"`
		} `json:"systemuserroles_association"`
	}
	if err := a.get(ctx, token, roleEndpoint, &roleData); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(roleData.Roles))
	for _, r := range roleData.Roles {
		names = append(names, r.Name)
	}

	hasRequired := containsRole(names, a.requiredRole)
	hasAdmin := containsRole(names, "System Administrator")

	info := &domain.RoleInfo{
		IsAdmin: hasRequired || hasAdmin,
		Roles:   names,
	}
	switch {
	case hasRequired:
		info.PrimaryRole = a.requiredRole
	case hasAdmin:
		info.PrimaryRole = "System Administrator"
	default:
		info.PrimaryRole = "Standard User"
	}

	if info.IsAdmin {
		info.Message = fmt.Sprintf("Access granted with %s role.", info.PrimaryRole)
	} else {
		info.Message = fmt.Sprintf(
			"The %q security role is required for script customizations. Current roles: %s. Contact your system administrator to request access.",
			a.requiredRole, strings.Join(names, ", "))
	}

	logger.Log.Info("role verification completed",
		zap.String("user", users.Value[0].FullName),
		zap.Strings("roles", names),
		zap.Bool("is_admin", info.IsAdmin))

	return info, nil
}

func (a *DataverseAdapter) get(ctx context.Context, token, endpoint string, out any) error {
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

func (a *DataverseAdapter) newRequest(ctx context.Context, method, endpoint, token string, body any) (*http.Request, error) {
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
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (a *DataverseAdapter) toColumns(rule *domain.CustomizationRule) map[string]any {
	row := map[string]any{
		a.col("customizationid"): rule.ID,
		a.col("name"):            rule.Name,
		a.col("domain"):          rule.Domain,
		a.col("selector"):        rule.Selector,
		a.col("css"):             rule.CSS,
		a.col("javascript"):      rule.JSCode,
		a.col("enabled"):         rule.Enabled,
		a.col("description"):     rule.Description,
		a.col("targeturl"):       rule.URLPattern,
		a.col("pagetype"):        string(rule.PageType),
		a.col("priority"):        rule.Priority,
		a.col("category"):        rule.Category,
		a.col("version"):         rule.Version,
	}
	if len(rule.Styles) > 0 {
		if data, err := json.Marshal(rule.Styles); err == nil {
			row[a.col("styles")] = string(data)
		}
	} else {
		row[a.col("styles")] = nil
	}
	if len(rule.QueryParams) > 0 {
		if data, err := json.Marshal(rule.QueryParams); err == nil {
			row[a.col("queryparams")] = string(data)
		}
	} else {
		row[a.col("queryparams")] = nil
	}
	if len(rule.PseudoClasses) > 0 {
		if data, err := json.Marshal(rule.PseudoClasses); err == nil {
			row[a.col("pseudoclasses")] = string(data)
		}
	} else {
		row[a.col("pseudoclasses")] = nil
	}
	return row
}

func (a *DataverseAdapter) toRecord(row map[string]any) Record {
	rowID := str(row[a.table+"id"])
	externalID := str(row[a.col("customizationid")])
	if externalID == "" {
		// Rows authored in Dataverse directly carry no external id.
		externalID = "dv_" + rowID
	}

	rule := &domain.CustomizationRule{
		ID:          externalID,
		Name:        str(row[a.col("name")]),
		Domain:      str(row[a.col("domain")]),
		Selector:    str(row[a.col("selector")]),
		CSS:         str(row[a.col("css")]),
		JSCode:      str(row[a.col("javascript")]),
		Description: str(row[a.col("description")]),
		URLPattern:  str(row[a.col("targeturl")]),
		PageType:    domain.PageType(str(row[a.col("pagetype")])),
		Enabled:     boolean(row[a.col("enabled")]),
		Priority:    integer(row[a.col("priority")], 1),
		Category:    str(row[a.col("category")]),
		Version:     int64(integer(row[a.col("version")], 0)),
		CreatedOn:   parseBackendTime(str(row["createdon"])),
		ModifiedOn:  parseBackendTime(str(row["modifiedon"])),
		Source:      domain.SourceDataverse,
		DataverseID: rowID,
	}
	if rule.Category == "" {
		rule.Category = "General"
	}

	if raw := str(row[a.col("styles")]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rule.Styles); err != nil {
			logger.Log.Warn("discarding malformed styles payload",
				zap.String("rule_id", externalID), zap.Error(err))
		}
	}
	if raw := str(row[a.col("queryparams")]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rule.QueryParams); err != nil {
			logger.Log.Warn("discarding malformed query params payload",
				zap.String("rule_id", externalID), zap.Error(err))
		}
	}
	if raw := str(row[a.col("pseudoclasses")]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rule.PseudoClasses); err != nil {
			logger.Log.Warn("discarding malformed pseudo-class payload",
				zap.String("rule_id", externalID), zap.Error(err))
		}
	}

	return Record{
		BackendID:  rule.DataverseID,
		ExternalID: externalID,
		Rule:       rule,
	}
}

func writeError(backend string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &domain.RemoteWriteError{Backend: backend, Status: resp.StatusCode, Body: string(body)}
}

func extractEntityGUID(entityID string) string {
	open := strings.LastIndex(entityID, "(")
	end := strings.LastIndex(entityID, ")")
	if open < 0 || end <= open {
		return entityID
	}
	return entityID[open+1 : end]
}

// odataEscape doubles single quotes per the OData string-literal rules.
func odataEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func containsRole(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func integer(v any, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return fallback
}
