package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/remote"
)

type mockRuleRepo struct {
	mu    sync.Mutex
	rules map[string]*domain.CustomizationRule
}

func newMockRuleRepo() *mockRuleRepo {
	return &mockRuleRepo{rules: make(map[string]*domain.CustomizationRule)}
}

func (m *mockRuleRepo) Create(rule *domain.CustomizationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rules[rule.ID]; exists {
		return errors.New("rule already exists")
	}
	copied := *rule
	m.rules[rule.ID] = &copied
	return nil
}

func (m *mockRuleRepo) FindByID(id string) (*domain.CustomizationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, exists := m.rules[id]; exists {
		copied := *r
		return &copied, nil
	}
	return nil, domain.ErrRuleNotFound
}

func (m *mockRuleRepo) List() ([]*domain.CustomizationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.CustomizationRule, 0, len(m.rules))
	for _, r := range m.rules {
		copied := *r
		out = append(out, &copied)
	}
	domain.SortRules(out)
	return out, nil
}

func (m *mockRuleRepo) ListByDomain(pageDomain string) ([]*domain.CustomizationRule, error) {
	all, _ := m.List()
	var out []*domain.CustomizationRule
	for _, r := range all {
		if r.Domain == pageDomain {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepo) ListBySource(source domain.RuleSource) ([]*domain.CustomizationRule, error) {
	all, _ := m.List()
	var out []*domain.CustomizationRule
	for _, r := range all {
		if r.Source == source {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepo) Update(rule *domain.CustomizationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rules[rule.ID]; !exists {
		return domain.ErrRuleNotFound
	}
	copied := *rule
	m.rules[rule.ID] = &copied
	return nil
}

func (m *mockRuleRepo) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rules[id]; !exists {
		return domain.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

type mockStateRepo struct {
	mu     sync.Mutex
	status domain.SyncStatus
}

func (m *mockStateRepo) Get() (*domain.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := m.status
	return &copied, nil
}

func (m *mockStateRepo) SaveResult(result *domain.SyncResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.LastResult = result
	t := result.EndTime
	m.status.LastSyncTime = &t
	m.status.LastError = nil
	return nil
}

func (m *mockStateRepo) SaveError(syncErr *domain.SyncError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.LastError = syncErr
	return nil
}

func (m *mockStateRepo) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = domain.SyncStatus{HasNeverSynced: true}
	return nil
}

// mockAdapter simulates a backend keyed by its own incrementing IDs, with
// per-method failure injection.
type mockAdapter struct {
	mu      sync.Mutex
	name    string
	nextID  int
	records map[string]*remote.Record

	failCreateFor map[string]bool
	blockQuery    chan struct{}
}

func newMockAdapter(name string) *mockAdapter {
	return &mockAdapter{
		name:          name,
		nextID:        1,
		records:       make(map[string]*remote.Record),
		failCreateFor: make(map[string]bool),
	}
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Query(ctx context.Context, token, filter string) ([]remote.Record, error) {
	if m.blockQuery != nil {
		<-m.blockQuery
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]remote.Record, 0, len(m.records))
	for _, rec := range m.records {
		rule := *rec.Rule
		out = append(out, remote.Record{BackendID: rec.BackendID, ExternalID: rec.ExternalID, Rule: &rule})
	}
	return out, nil
}

func (m *mockAdapter) Create(ctx context.Context, token string, rule *domain.CustomizationRule) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateFor[rule.ID] {
		return "", &domain.RemoteWriteError{Backend: m.name, Status: 500, Body: "injected"}
	}
	backendID := fmt.Sprintf("%s-%d", m.name, m.nextID)
	m.nextID++
	rule2 := *rule
	m.records[backendID] = &remote.Record{BackendID: backendID, ExternalID: rule.ID, Rule: &rule2}
	return backendID, nil
}

func (m *mockAdapter) Update(ctx context.Context, token, backendID string, rule *domain.CustomizationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[backendID]
	if !ok {
		return &domain.RemoteWriteError{Backend: m.name, Status: 404, Body: "no such record"}
	}
	rule2 := *rule
	rec.Rule = &rule2
	return nil
}

func (m *mockAdapter) FindByExternalID(ctx context.Context, token, localID string) (*remote.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ExternalID == localID {
			rule := *rec.Rule
			return &remote.Record{BackendID: rec.BackendID, ExternalID: rec.ExternalID, Rule: &rule}, nil
		}
	}
	return nil, nil
}

func (m *mockAdapter) seed(backendID string, rule *domain.CustomizationRule, externalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rule
	m.records[backendID] = &remote.Record{BackendID: backendID, ExternalID: externalID, Rule: &copied}
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *recordingNotifier) NotifyRulesUpdated(result *domain.SyncResult) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func newTestSyncService(repo *mockRuleRepo, state *mockStateRepo, adapter *mockAdapter, notifier SyncNotifier) *SyncService {
	return NewSyncService(
		repo,
		state,
		[]remote.Adapter{adapter},
		NewConflictResolver(),
		staticTokens{token: "bearer-token"},
		notifier,
		domain.DefaultStrategy,
	)
}

func localRule(id, name string) *domain.CustomizationRule {
	return &domain.CustomizationRule{
		ID:         id,
		Name:       name,
		Domain:     "contoso.crm.dynamics.com",
		Selector:   "." + id,
		Styles:     map[string]string{"display": "none"},
		Enabled:    true,
		Priority:   1,
		Category:   "General",
		Version:    1,
		Source:     domain.SourceLocal,
		ModifiedOn: time.Now(),
	}
}

func TestSync_UploadCreatesUnseenRules(t *testing.T) {
	repo := newMockRuleRepo()
	adapter := newMockAdapter("dataverse")
	service := newTestSyncService(repo, &mockStateRepo{}, adapter, nil)

	repo.Create(localRule("r1", "Rule One"))
	repo.Create(localRule("r2", "Rule Two"))

	result, err := service.Sync(context.Background(), &domain.SyncRequest{
		Direction: domain.DirectionUpload,
		Backend:   "dataverse",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Remote.Written != 2 {
		t.Errorf("expected 2 remote writes, got %d", result.Remote.Written)
	}

	r1, _ := repo.FindByID("r1")
	if r1.DataverseID == "" {
		t.Error("expected backend reference stored on local rule")
	}
}

func TestSync_UploadIsolatesPerRuleFailures(t *testing.T) {
	repo := newMockRuleRepo()
	adapter := newMockAdapter("dataverse")
	adapter.failCreateFor["r1"] = true
	service := newTestSyncService(repo, &mockStateRepo{}, adapter, nil)

	repo.Create(localRule("r1", "Failing"))
	repo.Create(localRule("r2", "Healthy"))

	result, err := service.Sync(context.Background(), &domain.SyncRequest{
		Direction: domain.DirectionUpload,
		Backend:   "dataverse",
	})
	if err != nil {
		t.Fatalf("expected batch to complete, got %v", err)
	}
	if result.Success {
		t.Error("a run with per-rule errors must not report success")
	}
	if result.Remote.Written != 1 {
		t.Errorf("expected the healthy rule to be written, got %d", result.Remote.Written)
	}
	if len(result.Errors) != 1 || result.Errors[0].Key != "r1" {
		t.Errorf("expected one error keyed to r1, got %v", result.Errors)
	}
}

func TestSync_UploadOverwritesDivergentRemote(t *testing.T) {
	repo := newMockRuleRepo()
	adapter := newMockAdapter("dataverse")
	service := newTestSyncService(repo, &mockStateRepo{}, adapter, nil)

	local := localRule("r1", "Rule One")
	local.CSS = ".r1 { color: red; }"
	repo.Create(local)

	remoteRule := localRule("r1", "Rule One")
	remoteRule.CSS = ".r1 { color: blue; }"
	remoteRule.Version = 5
	adapter.seed("dv-77", remoteRule, "r1")

	result, err := service.Sync(context.Background(), &domain.SyncRequest{
		Direction: domain.DirectionUpload,
		Backend:   "dataverse",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Remote.Updated != 1 {
		t.Errorf("expected 1 remote update, got %d", result.Remote.Updated)
	}

	adapter.mu.Lock()
	pushed := adapter.records["dv-77"].Rule
	adapter.mu.Unlock()
	if pushed.CSS != ".r1 { color: red; }" {
		t.Errorf("expected remote record to carry local content, got %q", pushed.CSS)
	}

	got, _ := repo.FindByID("r1")
	if got.CSS != ".r1 { color: red; }" {
		t.Error("upload must never rewrite local content")
	}
	if got.Version != 2 {
		t.Errorf("expected pushed version 2, got %d", got.Version)
	}
	if got.DataverseID != "dv-77" {
		t.Errorf("expected backend ref dv-77, got %s", got.DataverseID)
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("upload is one-directional and records no conflicts, got %d", len(result.Conflicts))
	}
}

func TestSync_SecondCallFailsFastWhileRunning(t *testing.T) {
	repo := newMockRuleRepo()
	adapter := newMockAdapter("dataverse")
	adapter.blockQuery = make(chan struct{})
	service := newTestSyncService(repo, &mockStateRepo{}, adapter, nil)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		service.Sync(context.Background(), &domain.SyncRequest{
			Direction: domain.DirectionDownload,
			Backend:   "dataverse",
		})
		close(done)
	}()

	<-started
	// Wait until the first run actually holds the engine.
	deadline := time.After(2 * time.Second)
	for {
		status, _ := service.Status()
		if status.InProgress {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first sync never reached running state")
		case <-time.After(time.Millisecond):
		}
	}

	_, err := service.Sync(context.Background(), &domain.SyncRequest{
		Direction: domain.DirectionUpload,
		Backend:   "dataverse",
	})
	if !errors.Is(err, domain.ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}

	close(adapter.blockQuery)
	<-done

	status, _ := service.Status()
	if status.InProgress {
		t.Error("engine should be idle after the run finished")
	}
}

func TestSync_AuthFailurePersisted(t *testing.T) {
	repo := newMockRuleRepo()
	state := &mockStateRepo{}
	adapter := newMockAdapter("dataverse")
	service := NewSyncService(
		repo,
		state,
		[]remote.Adapter{adapter},
		NewConflictResolver(),
		staticTokens{err: domain.ErrAuthRequired},
		nil,
		domain.DefaultStrategy,
	)

	_, err := service.Sync(context.Background(), &domain.SyncRequest{
		Direction: domain.DirectionUpload,
		Backend:   "dataverse",
	})
	if !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected auth error, got %v", err)
	}

	status, _ := service.Status()
	if status.LastError == nil || status.LastError.Phase != "auth" {
		t.Errorf("expected persisted auth-phase error, got %+v", status.LastError)
	}
}

func TestSync_DownloadReplacesBackendRules(t *testing.T) {
	repo := newMockRuleRepo()
	adapter := newMockAdapter("dataverse")
	notifier := &recordingNotifier{}
	service := newTestSyncService(repo, &mockStateRepo{}, adapter, notifier)

	// A previously mirrored rule the backend no longer serves.
	stale := localRule("gone", "Stale Mirror")
	stale.Source = domain.SourceDataverse
	repo.Create(stale)

	// A locally-authored rule that must survive any download.
	authored := localRule("mine", "Local Author")
	repo.Create(authored)

	incoming := localRule("new", "Fresh Remote")
	incoming.Source = domain.SourceDataverse
	adapter.seed("dv-1", incoming, "")

	result, err := service.Sync(context.Background(), &domain.SyncRequest{
		Direction: domain.DirectionDownload,
		Backend:   "dataverse",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Local.Deleted != 1 {
		t.Errorf("expected stale mirror deleted, got %d", result.Local.Deleted)
	}
	if result.Local.Written != 1 {
		t.Errorf("expected fresh remote written, got %d", result.Local.Written)
	}
	if _, err := repo.FindByID("mine"); err != nil {
		t.Error("locally-authored rule must survive download")
	}
	if _, err := repo.FindByID("gone"); !errors.Is(err, domain.ErrRuleNotFound) {
		t.Error("stale mirror should be deleted")
	}
	if notifier.count() != 1 {
		t.Errorf("expected one rules-updated notification, got %d", notifier.count())
	}
}

func TestSync_BidirectionalIsIdempotent(t *testing.T) {
	repo := newMockRuleRepo()
	adapter := newMockAdapter("sharepoint")
	service := newTestSyncService(repo, &mockStateRepo{}, adapter, nil)

	repo.Create(localRule("r1", "Local Only"))

	remoteOnly := localRule("sp_9", "Remote Only")
	remoteOnly.Source = domain.SourceSharePoint
	adapter.seed("9", remoteOnly, "")

	req := &domain.SyncRequest{
		Direction: domain.DirectionBidirectional,
		Backend:   "sharepoint",
	}

	first, err := service.Sync(context.Background(), req)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Remote.Written != 1 || first.Local.Written != 1 {
		t.Fatalf("expected one write each way, got remote=%d local=%d",
			first.Remote.Written, first.Local.Written)
	}

	second, err := service.Sync(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Remote.Written != 0 || second.Local.Written != 0 ||
		second.Remote.Updated != 0 || second.Local.Updated != 0 {
		t.Errorf("second run must be a no-op, got %+v / %+v", second.Remote, second.Local)
	}
	for _, c := range second.Conflicts {
		if c.Resolution != domain.ResolutionIdentical {
			t.Errorf("round-tripped rules must compare identical, got %s", c.Resolution)
		}
	}
}

func TestSync_CancelStopsBatch(t *testing.T) {
	repo := newMockRuleRepo()
	adapter := newMockAdapter("dataverse")
	service := newTestSyncService(repo, &mockStateRepo{}, adapter, nil)

	for _, r := range []string{"a", "b", "c"} {
		repo.Create(localRule(r, "Rule "+r))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := service.Sync(ctx, &domain.SyncRequest{
		Direction: domain.DirectionUpload,
		Backend:   "dataverse",
	})
	if err != nil {
		t.Fatalf("cancelled batch still finalizes, got %v", err)
	}
	if result.Remote.Written != 0 {
		t.Errorf("expected no writes after cancellation, got %d", result.Remote.Written)
	}
	if result.Success {
		t.Error("a cancelled run must not report success")
	}
}

func TestSync_CancelWithoutActiveRun(t *testing.T) {
	service := newTestSyncService(newMockRuleRepo(), &mockStateRepo{}, newMockAdapter("dataverse"), nil)
	if service.Cancel() {
		t.Error("cancel with no active run must report false")
	}
}
