package service

import (
	"fmt"
	"regexp"
	"time"

	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/repository"

	"github.com/andybalholm/cascadia"
	"github.com/google/uuid"
)

type RuleService struct {
	repo     repository.RuleRepository
	notifier SyncNotifier
}

func NewRuleService(repo repository.RuleRepository, notifier SyncNotifier) *RuleService {
	return &RuleService{
		repo:     repo,
		notifier: notifier,
	}
}

func (s *RuleService) Create(req *domain.CreateRuleRequest) (*domain.CustomizationRule, error) {
	if err := ValidateSelector(req.Selector); err != nil {
		return nil, err
	}
	if err := validateURLPattern(req.URLPattern); err != nil {
		return nil, err
	}

	now := time.Now()
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	priority := req.Priority
	if priority == 0 {
		priority = 1
	}
	category := req.Category
	if category == "" {
		category = "General"
	}

	rule := &domain.CustomizationRule{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Domain:        req.Domain,
		Selector:      req.Selector,
		Styles:        req.Styles,
		CSS:           req.CSS,
		JSCode:        req.JSCode,
		URLPattern:    req.URLPattern,
		QueryParams:   req.QueryParams,
		PageType:      req.PageType,
		Enabled:       enabled,
		Priority:      priority,
		Category:      category,
		Description:   req.Description,
		PseudoClasses: req.PseudoClasses,
		Version:       1,
		CreatedOn:     now,
		ModifiedOn:    now,
		Source:        domain.SourceLocal,
	}

	if err := s.repo.Create(rule); err != nil {
		return nil, err
	}

	s.notifyChanged()
	return rule, nil
}

func (s *RuleService) Get(id string) (*domain.CustomizationRule, error) {
	return s.repo.FindByID(id)
}

func (s *RuleService) List() ([]*domain.CustomizationRule, error) {
	return s.repo.List()
}

func (s *RuleService) Update(id string, req *domain.UpdateRuleRequest) (*domain.CustomizationRule, error) {
	rule, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}

	if req.Selector != nil {
		if err := ValidateSelector(*req.Selector); err != nil {
			return nil, err
		}
		rule.Selector = *req.Selector
	}
	if req.URLPattern != nil {
		if err := validateURLPattern(*req.URLPattern); err != nil {
			return nil, err
		}
		rule.URLPattern = *req.URLPattern
	}
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Domain != nil {
		rule.Domain = *req.Domain
	}
	if req.Styles != nil {
		rule.Styles = req.Styles
	}
	if req.CSS != nil {
		rule.CSS = *req.CSS
	}
	if req.JSCode != nil {
		rule.JSCode = *req.JSCode
	}
	if req.QueryParams != nil {
		rule.QueryParams = req.QueryParams
	}
	if req.PageType != nil {
		rule.PageType = *req.PageType
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Category != nil {
		rule.Category = *req.Category
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.PseudoClasses != nil {
		rule.PseudoClasses = req.PseudoClasses
	}

	rule.Version++
	rule.ModifiedOn = time.Now()

	if err := s.repo.Update(rule); err != nil {
		return nil, err
	}

	s.notifyChanged()
	return rule, nil
}

func (s *RuleService) Delete(id string) error {
	if err := s.repo.Delete(id); err != nil {
		return err
	}
	s.notifyChanged()
	return nil
}

// Export returns all rules for backup files.
func (s *RuleService) Export() ([]*domain.CustomizationRule, error) {
	return s.repo.List()
}

// Import inserts rules from a backup, re-keying each so an import into a
// store that already holds the rule never collides. Invalid entries are
// skipped and reported.
func (s *RuleService) Import(rules []*domain.CustomizationRule) (imported int, skipped []string, err error) {
	now := time.Now()
	for _, rule := range rules {
		if rule.Name == "" || ValidateSelector(rule.Selector) != nil {
			skipped = append(skipped, rule.Name)
			continue
		}

		copied := *rule
		copied.ID = uuid.New().String()
		copied.Source = domain.SourceLocal
		copied.DataverseID = ""
		copied.SharePointID = ""
		copied.Version = 1
		copied.CreatedOn = now
		copied.ModifiedOn = now

		if err := s.repo.Create(&copied); err != nil {
			skipped = append(skipped, rule.Name)
			continue
		}
		imported++
	}

	if imported > 0 {
		s.notifyChanged()
	}
	return imported, skipped, nil
}

func (s *RuleService) notifyChanged() {
	if s.notifier != nil {
		s.notifier.NotifyRulesUpdated(nil)
	}
}

// ValidateSelector parses the CSS selector and rejects anything a page
// client would fail to query.
func ValidateSelector(selector string) error {
	if selector == "" {
		return fmt.Errorf("%w: selector is empty", domain.ErrInvalidSelector)
	}
	if _, err := cascadia.ParseGroup(selector); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSelector, err)
	}
	return nil
}

func validateURLPattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("invalid URL pattern: %w", err)
	}
	return nil
}
