package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/logger"
	"domstyle-sync-server/internal/remote"
	"domstyle-sync-server/internal/repository"

	"go.uber.org/zap"
)

var errSyncCancelled = errors.New("sync cancelled before completion")

type engineState int

const (
	stateIdle engineState = iota
	stateRunning
)

// SyncNotifier is told when a sync run changed local rules, so connected
// page clients can reapply.
type SyncNotifier interface {
	NotifyRulesUpdated(result *domain.SyncResult)
}

// SyncService runs upload, download and bidirectional syncs against one of
// the configured backends. Runs are single-flight: a second Sync call while
// one is active fails fast with domain.ErrSyncInProgress.
type SyncService struct {
	ruleRepo  repository.RuleRepository
	stateRepo repository.SyncStateRepository
	adapters  map[string]remote.Adapter
	resolver  *ConflictResolver
	tokens    remote.TokenSource
	notifier  SyncNotifier

	defaultStrategy domain.Strategy

	mu        sync.Mutex
	state     engineState
	cancelled bool
}

func NewSyncService(
	ruleRepo repository.RuleRepository,
	stateRepo repository.SyncStateRepository,
	adapters []remote.Adapter,
	resolver *ConflictResolver,
	tokens remote.TokenSource,
	notifier SyncNotifier,
	defaultStrategy domain.Strategy,
) *SyncService {
	byName := make(map[string]remote.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	if !defaultStrategy.Valid() {
		defaultStrategy = domain.DefaultStrategy
	}
	return &SyncService{
		ruleRepo:        ruleRepo,
		stateRepo:       stateRepo,
		adapters:        byName,
		resolver:        resolver,
		tokens:          tokens,
		notifier:        notifier,
		defaultStrategy: defaultStrategy,
	}
}

func (s *SyncService) Sync(ctx context.Context, req *domain.SyncRequest) (*domain.SyncResult, error) {
	s.mu.Lock()
	if s.state == stateRunning {
		s.mu.Unlock()
		return nil, domain.ErrSyncInProgress
	}
	s.state = stateRunning
	s.cancelled = false
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = stateIdle
		s.mu.Unlock()
	}()

	adapter, ok := s.adapters[req.Backend]
	if !ok {
		return nil, errors.New("unknown sync backend: " + req.Backend)
	}
	strategy := req.Strategy
	if !strategy.Valid() {
		strategy = s.defaultStrategy
	}

	result := &domain.SyncResult{
		Direction: req.Direction,
		Backend:   adapter.Name(),
		StartTime: time.Now(),
	}

	logger.Log.Info("sync started",
		zap.String("direction", string(req.Direction)),
		zap.String("backend", adapter.Name()),
		zap.String("strategy", string(strategy)))

	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return s.fail(result, "auth", err)
	}

	switch req.Direction {
	case domain.DirectionUpload:
		err = s.upload(ctx, token, adapter, result)
	case domain.DirectionDownload:
		err = s.download(ctx, token, adapter, result)
	case domain.DirectionBidirectional:
		err = s.bidirectional(ctx, token, adapter, strategy, result)
	default:
		err = errors.New("unknown sync direction: " + string(req.Direction))
	}
	if err != nil {
		return s.fail(result, string(req.Direction), err)
	}

	result.EndTime = time.Now()
	result.Success = len(result.Errors) == 0

	if err := s.stateRepo.SaveResult(result); err != nil {
		logger.Log.Error("failed to persist sync result", zap.Error(err))
	}

	if s.notifier != nil && (result.Local.Written+result.Local.Updated+result.Local.Deleted) > 0 {
		s.notifier.NotifyRulesUpdated(result)
	}

	logger.Log.Info("sync finished",
		zap.Bool("success", result.Success),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("took", result.EndTime.Sub(result.StartTime)))

	return result, nil
}

// fail finalizes a run that could not proceed past a first-touch failure.
// The error is persisted so a status query after restart still explains the
// last outcome.
func (s *SyncService) fail(result *domain.SyncResult, phase string, err error) (*domain.SyncResult, error) {
	result.EndTime = time.Now()
	result.Success = false
	result.AddError(phase, "", err)

	syncErr := result.Errors[len(result.Errors)-1]
	if persistErr := s.stateRepo.SaveError(&syncErr); persistErr != nil {
		logger.Log.Error("failed to persist sync error", zap.Error(persistErr))
	}

	logger.Log.Error("sync failed",
		zap.String("phase", phase),
		zap.Error(err))

	return result, err
}

// Status is a non-blocking read combining the engine's in-memory state with
// the persisted last outcome.
func (s *SyncService) Status() (*domain.SyncStatus, error) {
	status, err := s.stateRepo.Get()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	status.InProgress = s.state == stateRunning
	s.mu.Unlock()

	return status, nil
}

// Cancel requests that the active run stop before its next per-rule step.
// The in-flight remote call is not aborted. Returns whether a run was active.
func (s *SyncService) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return false
	}
	s.cancelled = true
	return true
}

// ClearHistory wipes the persisted last result, error and sync time.
func (s *SyncService) ClearHistory() error {
	return s.stateRepo.Clear()
}

func (s *SyncService) isCancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// upload pushes every local rule to the backend. Rules never seen remotely
// are created tagged with the local id; rules already mirrored are
// overwritten with the local content at version+1. Upload is one-directional
// and never touches local content; conflict resolution belongs to the
// bidirectional mode. Per-rule failures are recorded and the batch continues.
func (s *SyncService) upload(ctx context.Context, token string, adapter remote.Adapter, result *domain.SyncResult) error {
	rules, err := s.ruleRepo.List()
	if err != nil {
		return err
	}
	result.Local.Read = len(rules)

	for _, rule := range rules {
		if s.isCancelled(ctx) {
			result.AddError("upload", "", errSyncCancelled)
			return nil
		}

		rec, err := adapter.FindByExternalID(ctx, token, rule.ID)
		if err != nil {
			result.AddError("upload", rule.ID, err)
			continue
		}

		if rec == nil {
			s.pushCreate(ctx, token, adapter, rule, result)
			continue
		}

		rule.Version++
		rule.ModifiedOn = time.Now()
		if err := adapter.Update(ctx, token, rec.BackendID, rule); err != nil {
			result.AddError("upload", rule.ID, err)
			continue
		}
		result.Remote.Updated++
		setBackendRef(adapter.Name(), rule, rec.BackendID)
		if err := s.ruleRepo.Update(rule); err != nil {
			result.AddError("upload", rule.ID, err)
		}
	}

	return nil
}

func (s *SyncService) pushCreate(ctx context.Context, token string, adapter remote.Adapter, rule *domain.CustomizationRule, result *domain.SyncResult) {
	backendID, err := adapter.Create(ctx, token, rule)
	if err != nil {
		result.AddError("upload", rule.ID, err)
		return
	}
	result.Remote.Written++

	setBackendRef(adapter.Name(), rule, backendID)
	if err := s.ruleRepo.Update(rule); err != nil {
		result.AddError("upload", rule.ID, err)
	}
}

func (s *SyncService) storeBackendRef(backend string, rule *domain.CustomizationRule, backendID string, result *domain.SyncResult) {
	if currentBackendRef(backend, rule) == backendID {
		return
	}
	setBackendRef(backend, rule, backendID)
	if err := s.ruleRepo.Update(rule); err != nil {
		result.AddError("upload", rule.ID, err)
	}
}

// download replaces this backend's previously-synced rules wholesale with
// the backend's current active records. Locally-authored rules and rules
// mirrored from the other backend are never touched.
func (s *SyncService) download(ctx context.Context, token string, adapter remote.Adapter, result *domain.SyncResult) error {
	records, err := adapter.Query(ctx, token, "")
	if err != nil {
		return err
	}
	result.Remote.Read = len(records)

	locals, err := s.ruleRepo.List()
	if err != nil {
		return err
	}
	result.Local.Read = len(locals)

	backendSource := sourceForBackend(adapter.Name())

	remoteByID := make(map[string]remote.Record, len(records))
	for _, rec := range records {
		remoteByID[rec.Rule.ID] = rec
	}

	localByID := make(map[string]*domain.CustomizationRule, len(locals))
	for _, rule := range locals {
		localByID[rule.ID] = rule
	}

	// Drop mirrored rules the backend no longer serves.
	for _, rule := range locals {
		if rule.Source != backendSource {
			continue
		}
		if s.isCancelled(ctx) {
			result.AddError("download", "", errSyncCancelled)
			return nil
		}
		if _, stillRemote := remoteByID[rule.ID]; !stillRemote {
			if err := s.ruleRepo.Delete(rule.ID); err != nil {
				result.AddError("download", rule.ID, err)
				continue
			}
			result.Local.Deleted++
		}
	}

	for _, rec := range records {
		if s.isCancelled(ctx) {
			result.AddError("download", "", errSyncCancelled)
			return nil
		}

		existing, ok := localByID[rec.Rule.ID]
		if !ok {
			if err := s.ruleRepo.Create(rec.Rule); err != nil {
				result.AddError("download", rec.Rule.ID, err)
				continue
			}
			result.Local.Written++
			continue
		}

		if existing.Source == domain.SourceLocal {
			// Locally-authored rules are preserved on download.
			continue
		}

		if err := s.ruleRepo.Update(rec.Rule); err != nil {
			result.AddError("download", rec.Rule.ID, err)
			continue
		}
		result.Local.Updated++
	}

	return nil
}

// bidirectional correlates both sides by the human-readable (domain, name)
// key, settles overlaps through the resolver and copies one-sided rules
// across. Repeating the run with no intervening edits is a no-op.
func (s *SyncService) bidirectional(ctx context.Context, token string, adapter remote.Adapter, strategy domain.Strategy, result *domain.SyncResult) error {
	records, err := adapter.Query(ctx, token, "")
	if err != nil {
		return err
	}
	result.Remote.Read = len(records)

	locals, err := s.ruleRepo.List()
	if err != nil {
		return err
	}
	result.Local.Read = len(locals)

	remoteByKey := make(map[string]remote.Record, len(records))
	for _, rec := range records {
		remoteByKey[correlationKey(rec.Rule)] = rec
	}

	matched := make(map[string]bool, len(locals))

	for _, rule := range locals {
		if s.isCancelled(ctx) {
			result.AddError("bidirectional", "", errSyncCancelled)
			return nil
		}

		key := correlationKey(rule)
		rec, ok := remoteByKey[key]
		if !ok {
			s.pushCreate(ctx, token, adapter, rule, result)
			continue
		}
		matched[key] = true

		verdict := s.resolver.Resolve(rule, rec.Rule, strategy)
		result.Conflicts = append(result.Conflicts, conflictRecord(rule, rec.Rule, verdict))

		switch {
		case verdict.Identical:
			s.storeBackendRef(adapter.Name(), rule, rec.BackendID, result)

		case verdict.Winner == domain.WinnerRemote:
			adoptContent(rule, rec.Rule)
			setBackendRef(adapter.Name(), rule, rec.BackendID)
			if err := s.ruleRepo.Update(rule); err != nil {
				result.AddError("bidirectional", rule.ID, err)
				continue
			}
			result.Local.Updated++

		default:
			if verdict.Winner == domain.WinnerMerged {
				adoptContent(rule, verdict.Merged)
			}
			rule.Version++
			rule.ModifiedOn = time.Now()
			if err := adapter.Update(ctx, token, rec.BackendID, rule); err != nil {
				result.AddError("bidirectional", rule.ID, err)
				continue
			}
			result.Remote.Updated++
			setBackendRef(adapter.Name(), rule, rec.BackendID)
			if err := s.ruleRepo.Update(rule); err != nil {
				result.AddError("bidirectional", rule.ID, err)
				continue
			}
			if verdict.Winner == domain.WinnerMerged {
				result.Local.Updated++
			}
		}
	}

	// Remote-only records come down as new local rules.
	for _, rec := range records {
		if s.isCancelled(ctx) {
			result.AddError("bidirectional", "", errSyncCancelled)
			return nil
		}
		if matched[correlationKey(rec.Rule)] {
			continue
		}
		if _, exists := localIndexByKey(locals, correlationKey(rec.Rule)); exists {
			continue
		}
		if err := s.ruleRepo.Create(rec.Rule); err != nil {
			result.AddError("bidirectional", rec.Rule.ID, err)
			continue
		}
		result.Local.Written++
	}

	return nil
}

func correlationKey(rule *domain.CustomizationRule) string {
	return rule.Domain + "\x00" + rule.Name
}

func localIndexByKey(rules []*domain.CustomizationRule, key string) (int, bool) {
	for i, r := range rules {
		if correlationKey(r) == key {
			return i, true
		}
	}
	return 0, false
}

func conflictRecord(local, remoteRule *domain.CustomizationRule, verdict domain.Verdict) domain.ConflictRecord {
	rec := domain.ConflictRecord{
		RuleID:         local.ID,
		Domain:         local.Domain,
		LocalModified:  local.ModifiedOn,
		RemoteModified: remoteRule.ModifiedOn,
		Resolution:     verdict.Resolution,
	}
	if !verdict.Identical {
		rec.Differences = Differences(local, remoteRule)
	}
	return rec
}

// adoptContent copies the winning side's content onto dst while keeping its
// local identity and backend references intact.
func adoptContent(dst, src *domain.CustomizationRule) {
	dst.Name = src.Name
	dst.Domain = src.Domain
	dst.Selector = src.Selector
	dst.Styles = src.Styles
	dst.CSS = src.CSS
	dst.JSCode = src.JSCode
	dst.URLPattern = src.URLPattern
	dst.QueryParams = src.QueryParams
	dst.PageType = src.PageType
	dst.Enabled = src.Enabled
	dst.Priority = src.Priority
	dst.Category = src.Category
	dst.Description = src.Description
	dst.PseudoClasses = src.PseudoClasses
	dst.Version = src.Version
	dst.ModifiedOn = src.ModifiedOn
}

func setBackendRef(backend string, rule *domain.CustomizationRule, backendID string) {
	switch backend {
	case "dataverse":
		rule.DataverseID = backendID
	case "sharepoint":
		rule.SharePointID = backendID
	}
}

func currentBackendRef(backend string, rule *domain.CustomizationRule) string {
	switch backend {
	case "dataverse":
		return rule.DataverseID
	case "sharepoint":
		return rule.SharePointID
	}
	return ""
}

func sourceForBackend(backend string) domain.RuleSource {
	if backend == "sharepoint" {
		return domain.SourceSharePoint
	}
	return domain.SourceDataverse
}
