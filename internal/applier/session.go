package applier

import (
	"context"
	"sync"
	"time"

	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/logger"
	"domstyle-sync-server/internal/matcher"

	"go.uber.org/zap"
)

// State is the session's position in the apply lifecycle.
type State string

const (
	StateIdle              State = "idle"
	StateDetecting         State = "detecting"
	StateWaitingForContent State = "waiting_for_content"
	StateApplying          State = "applying"
	StateWatching          State = "watching"
	StateClosed            State = "closed"
)

// AppliedStyle tracks one injected style element for later removal.
type AppliedStyle struct {
	RuleID    string    `json:"rule_id"`
	ElementID string    `json:"element_id"`
	Selector  string    `json:"selector"`
	HasPseudo bool      `json:"has_pseudo"`
	AppliedAt time.Time `json:"applied_at"`
}

// Session drives customization of one page. It moves Idle → Detecting →
// WaitingForContent → Applying → Watching, then reapplies on significant
// mutations and navigations until closed.
type Session struct {
	applier *Applier
	page    Page

	mu            sync.Mutex
	state         State
	applied       map[string]AppliedStyle
	retryAttempts map[string]int
	retryTimers   map[string]*time.Timer
	debounce      *time.Timer
	lastHref      string

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	closeOnce sync.Once
}

// NewSession prepares an idle session for the page. Start begins the
// lifecycle.
func (a *Applier) NewSession(page Page) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		applier:       a,
		page:          page,
		state:         StateIdle,
		applied:       make(map[string]AppliedStyle),
		retryAttempts: make(map[string]int),
		retryTimers:   make(map[string]*time.Timer),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev != next {
		logger.Log.Debug("apply session state change",
			zap.String("url", s.page.Context().URL),
			zap.String("from", string(prev)),
			zap.String("to", string(next)))
	}
}

// Start runs the lifecycle in the calling goroutine until Close. Callers
// run it in a goroutine per connected page.
func (s *Session) Start() {
	defer close(s.done)

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.setState(StateDetecting)
	pageCtx := s.page.Context()
	logger.Log.Info("page session detecting",
		zap.String("url", pageCtx.URL),
		zap.String("page_type", string(matcher.DetectPageType(pageCtx.URL))))

	s.waitForContent()
	if s.ctx.Err() != nil {
		return
	}

	s.setState(StateApplying)
	s.applyAll()

	s.setState(StateWatching)
	s.watch()
}

// waitForContent polls the page's readiness indicator. The ceiling is a
// deadline, not a failure: dynamic frames sometimes never report ready and
// selectors may still resolve.
func (s *Session) waitForContent() {
	s.setState(StateWaitingForContent)

	deadline := time.Now().Add(s.applier.timings.ContentWaitCeiling)
	ticker := time.NewTicker(s.applier.timings.ContentPoll)
	defer ticker.Stop()

	for {
		ready, err := s.page.ContentReady(s.ctx)
		if err == nil && ready {
			return
		}
		if time.Now().After(deadline) {
			logger.Log.Debug("content wait ceiling reached, applying anyway",
				zap.String("url", s.page.Context().URL))
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// applyAll loads the current rule set, selects what matches this page and
// applies each rule. Per-rule failures are logged and skipped.
func (s *Session) applyAll() {
	rules, err := s.applier.rules.List()
	if err != nil {
		logger.Log.Error("failed to load rules for apply", zap.Error(err))
		return
	}

	pageCtx := s.page.Context()
	applicable := matcher.SelectApplicable(rules, pageCtx)

	matchedIDs := make(map[string]bool, len(applicable))
	for _, rule := range applicable {
		matchedIDs[rule.ID] = true
		s.applyRule(rule)
	}

	// Styles from rules that no longer match this page come off.
	s.mu.Lock()
	var stale []string
	for id := range s.applied {
		if !matchedIDs[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		s.RemoveRule(id)
	}

	logger.Log.Info("customizations applied",
		zap.String("url", pageCtx.URL),
		zap.Int("matched", len(applicable)),
		zap.Int("removed", len(stale)))
}

func (s *Session) applyRule(rule *domain.CustomizationRule) {
	count, err := s.page.MatchCount(s.ctx, rule.Selector)
	if err != nil {
		logger.Log.Warn("selector query failed",
			zap.String("rule_id", rule.ID),
			zap.String("selector", rule.Selector),
			zap.Error(err))
		return
	}
	if count == 0 {
		s.scheduleRetry(rule)
		return
	}

	s.mu.Lock()
	delete(s.retryAttempts, rule.ID)
	if t, ok := s.retryTimers[rule.ID]; ok {
		t.Stop()
		delete(s.retryTimers, rule.ID)
	}
	s.mu.Unlock()

	elementID := StyleElementID(rule.ID)
	if css := CompileCSS(rule); css != "" {
		if err := s.page.UpsertStyle(s.ctx, elementID, css); err != nil {
			logger.Log.Warn("style injection failed",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
			return
		}
	}

	hasPseudo := false
	if pseudoCSS := CompilePseudoCSS(rule); pseudoCSS != "" {
		if err := s.page.UpsertStyle(s.ctx, PseudoElementID(rule.ID), pseudoCSS); err != nil {
			logger.Log.Warn("pseudo-class style injection failed",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
		} else {
			hasPseudo = true
		}
	}

	if rule.JSCode != "" {
		s.runScript(rule)
	}

	s.mu.Lock()
	s.applied[rule.ID] = AppliedStyle{
		RuleID:    rule.ID,
		ElementID: elementID,
		Selector:  rule.Selector,
		HasPseudo: hasPseudo,
		AppliedAt: time.Now(),
	}
	s.mu.Unlock()
}

// runScript executes rule JavaScript only for verified admins. Anything
// short of a fresh positive verification skips the script.
func (s *Session) runScript(rule *domain.CustomizationRule) {
	if !s.applier.gate.IsAdmin(s.ctx) {
		logger.Log.Info("script skipped, session is not verified admin",
			zap.String("rule_id", rule.ID))
		return
	}

	if err := s.page.RunScript(s.ctx, rule.ID, rule.JSCode); err != nil {
		execErr := &domain.ApplyExecutionError{RuleID: rule.ID, Err: err}
		logger.Log.Warn("rule script failed", zap.Error(execErr))
	}
}

func (s *Session) scheduleRetry(rule *domain.CustomizationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	attempt := s.retryAttempts[rule.ID]
	backoff := s.applier.timings.RetryBackoff
	if attempt >= len(backoff) {
		logger.Log.Debug("selector never appeared, giving up until next trigger",
			zap.String("rule_id", rule.ID),
			zap.String("selector", rule.Selector))
		delete(s.retryAttempts, rule.ID)
		return
	}
	s.retryAttempts[rule.ID] = attempt + 1

	ruleCopy := *rule
	s.retryTimers[rule.ID] = time.AfterFunc(backoff[attempt], func() {
		if s.ctx.Err() != nil {
			return
		}
		s.applyRule(&ruleCopy)
	})
}

// RemoveRule deletes the rule's style elements and tracking entry.
func (s *Session) RemoveRule(ruleID string) {
	s.mu.Lock()
	entry, ok := s.applied[ruleID]
	delete(s.applied, ruleID)
	delete(s.retryAttempts, ruleID)
	if t, exists := s.retryTimers[ruleID]; exists {
		t.Stop()
		delete(s.retryTimers, ruleID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	if err := s.page.RemoveStyle(s.ctx, entry.ElementID); err != nil {
		logger.Log.Warn("style removal failed",
			zap.String("rule_id", ruleID), zap.Error(err))
	}
	if entry.HasPseudo {
		if err := s.page.RemoveStyle(s.ctx, PseudoElementID(ruleID)); err != nil {
			logger.Log.Warn("pseudo style removal failed",
				zap.String("rule_id", ruleID), zap.Error(err))
		}
	}
}

// Applied returns a snapshot of the tracked style elements.
func (s *Session) Applied() []AppliedStyle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AppliedStyle, 0, len(s.applied))
	for _, entry := range s.applied {
		out = append(out, entry)
	}
	return out
}

// NotifyMutation feeds one observed DOM mutation. Only significant changes
// (more than 3 added nodes or more than 100 characters of text) trigger a
// reapply; attribute noise is ignored.
func (s *Session) NotifyMutation(addedNodes, textLength int) {
	if addedNodes <= 3 && textLength <= 100 {
		return
	}
	s.trigger()
}

// NotifyNavigation feeds a history navigation observed by the page.
func (s *Session) NotifyNavigation(url string) {
	s.mu.Lock()
	s.lastHref = url
	s.mu.Unlock()
	s.trigger()
}

// NotifyRulesChanged asks the session to reapply because the rule set moved.
func (s *Session) NotifyRulesChanged() {
	s.trigger()
}

// trigger arms the shared debounce timer. Bursts of mutation and navigation
// events collapse into one reapply.
func (s *Session) trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || s.state == StateIdle {
		return
	}

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.applier.timings.ReapplyDebounce, func() {
		if s.ctx.Err() != nil {
			return
		}
		s.setState(StateApplying)
		s.applyAll()
		s.setState(StateWatching)
	})
}

// watch blocks until the session closes, polling the href as a fallback for
// navigations that fire no history event.
func (s *Session) watch() {
	ticker := time.NewTicker(s.applier.timings.HrefPoll)
	defer ticker.Stop()

	s.mu.Lock()
	s.lastHref = s.page.Context().URL
	s.mu.Unlock()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			href, err := s.page.CurrentURL(s.ctx)
			if err != nil {
				continue
			}
			s.mu.Lock()
			changed := href != "" && href != s.lastHref
			if changed {
				s.lastHref = href
			}
			s.mu.Unlock()
			if changed {
				s.trigger()
			}
		}
	}
}

// Close tears down timers and the watcher. Injected styles stay on the page;
// the page client clears its own document on unload.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		if s.debounce != nil {
			s.debounce.Stop()
		}
		for id, t := range s.retryTimers {
			t.Stop()
			delete(s.retryTimers, id)
		}
		s.mu.Unlock()

		s.cancel()
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.done
		}
	})
}
