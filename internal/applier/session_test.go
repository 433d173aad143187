package applier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"domstyle-sync-server/internal/domain"
)

type fakePage struct {
	mu          sync.Mutex
	ctx         domain.PageContext
	ready       bool
	matches     map[string]int
	styles      map[string]string
	scripts     []string
	currentURL  string
	upsertCalls int
}

func newFakePage(url, hostname string) *fakePage {
	return &fakePage{
		ctx:        domain.PageContext{URL: url, Hostname: hostname, QueryParams: map[string]string{}},
		ready:      true,
		matches:    map[string]int{},
		styles:     map[string]string{},
		currentURL: url,
	}
}

func (p *fakePage) Context() domain.PageContext { return p.ctx }

func (p *fakePage) ContentReady(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready, nil
}

func (p *fakePage) MatchCount(_ context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.matches[selector], nil
}

func (p *fakePage) UpsertStyle(_ context.Context, elementID, css string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.styles[elementID] = css
	p.upsertCalls++
	return nil
}

func (p *fakePage) RemoveStyle(_ context.Context, elementID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.styles, elementID)
	return nil
}

func (p *fakePage) RunScript(_ context.Context, ruleID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, ruleID)
	return nil
}

func (p *fakePage) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentURL, nil
}

func (p *fakePage) style(elementID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	css, ok := p.styles[elementID]
	return css, ok
}

func (p *fakePage) setMatches(selector string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matches[selector] = n
}

func (p *fakePage) scriptRuns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scripts)
}

type staticRules struct {
	rules []*domain.CustomizationRule
}

func (s *staticRules) List() ([]*domain.CustomizationRule, error) { return s.rules, nil }

type staticGate struct{ admin bool }

func (g *staticGate) IsAdmin(context.Context) bool { return g.admin }

func testTimings() Timings {
	return Timings{
		ContentPoll:        5 * time.Millisecond,
		ContentWaitCeiling: 50 * time.Millisecond,
		RetryBackoff:       []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		ReapplyDebounce:    10 * time.Millisecond,
		HrefPoll:           10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func basicRule(id, selector string) *domain.CustomizationRule {
	return &domain.CustomizationRule{
		ID:       id,
		Name:     id,
		Selector: selector,
		Styles:   map[string]string{"display": "none"},
		Enabled:  true,
		Priority: 1,
	}
}

func startSession(t *testing.T, page *fakePage, rules []*domain.CustomizationRule, admin bool) *Session {
	t.Helper()
	a := New(&staticRules{rules: rules}, &staticGate{admin: admin}, testTimings())
	session := a.NewSession(page)
	go session.Start()
	t.Cleanup(session.Close)
	return session
}

func TestSessionAppliesMatchingRule(t *testing.T) {
	page := newFakePage("https://org.crm.dynamics.com/main.aspx", "org.crm.dynamics.com")
	page.setMatches(".header", 2)

	session := startSession(t, page, []*domain.CustomizationRule{basicRule("r1", ".header")}, false)

	waitFor(t, time.Second, func() bool {
		_, ok := page.style("domstyle-r1")
		return ok
	})
	if session.State() != StateWatching {
		t.Errorf("expected watching state, got %s", session.State())
	}

	css, _ := page.style("domstyle-r1")
	if !strings.Contains(css, ".header { display: none; }") {
		t.Errorf("unexpected compiled css %q", css)
	}
}

func TestSessionContentWaitCeilingProceeds(t *testing.T) {
	page := newFakePage("https://org.crm.dynamics.com/main.aspx", "org.crm.dynamics.com")
	page.mu.Lock()
	page.ready = false
	page.mu.Unlock()
	page.setMatches(".late", 1)

	startSession(t, page, []*domain.CustomizationRule{basicRule("r1", ".late")}, false)

	waitFor(t, time.Second, func() bool {
		_, ok := page.style("domstyle-r1")
		return ok
	})
}

func TestSessionRetriesMissingSelector(t *testing.T) {
	page := newFakePage("https://org.crm.dynamics.com/main.aspx", "org.crm.dynamics.com")
	page.setMatches(".async-widget", 0)

	startSession(t, page, []*domain.CustomizationRule{basicRule("r1", ".async-widget")}, false)

	time.Sleep(5 * time.Millisecond)
	page.setMatches(".async-widget", 1)

	waitFor(t, time.Second, func() bool {
		_, ok := page.style("domstyle-r1")
		return ok
	})
}

func TestSessionGivesUpAfterBackoffSchedule(t *testing.T) {
	page := newFakePage("https://org.crm.dynamics.com/main.aspx", "org.crm.dynamics.com")
	page.setMatches(".never", 0)

	startSession(t, page, []*domain.CustomizationRule{basicRule("r1", ".never")}, false)

	// Let every backoff step elapse.
	time.Sleep(100 * time.Millisecond)
	if _, ok := page.style("domstyle-r1"); ok {
		t.Fatal("style must not be applied for a selector that never matches")
	}
}

func TestSessionScriptGating(t *testing.T) {
	rule := basicRule("r1", ".admin-area")
	rule.JSCode = "console.log('hi')"

	denied := newFakePage("https://org.crm.dynamics.com/main.aspx", "org.crm.dynamics.com")
	denied.setMatches(".admin-area", 1)
	startSession(t, denied, []*domain.CustomizationRule{rule}, false)

	waitFor(t, time.Second, func() bool {
		_, ok := denied.style("domstyle-r1")
		return ok
	})
	if denied.scriptRuns() != 0 {
		t.Fatal("script must not run without verified admin role")
	}

	granted := newFakePage("https://org.crm.dynamics.com/main.aspx", "org.crm.dynamics.com")
	granted.setMatches(".admin-area", 1)
	startSession(t, granted, []*domain.CustomizationRule{rule}, true)

	waitFor(t, time.Second, func() bool { return granted.scriptRuns() == 1 })
}

func TestSessionPseudoClassElement(t *testing.T) {
	rule := basicRule("r1", ".btn")
	rule.PseudoClasses = map[string]map[string]string{
		"hover": {"background": "red"},
	}

	page := newFakePage("https://org.crm.dynamics.com/main.aspx", "org.crm.dynamics.com")
	page.setMatches(".btn", 1)
	startSession(t, page, []*domain.CustomizationRule{rule}, false)

	waitFor(t, time.Second, func() bool {
		_, ok := page.style("domstyle-r1-pseudo")
		return ok
	})

	css, _ := page.style("domstyle-r1-pseudo")
	if !strings.Contains(css, ".btn:hover { background: red; }") {
		t.Errorf("unexpected pseudo css %q", css)
	}
}

func TestSessionMutationHeuristic(t *testing.T) {
	page := newFakePage("https://org.crm.dynamics.com/main.aspx", "org.crm.dynamics.com")
	page.setMatches(".header", 1)

	session := startSession(t, page, []*domain.CustomizationRule{basicRule("r1", ".header")}, false)

	waitFor(t, time.Second, func() bool {
		_, ok := page.style("domstyle-r1")
		return ok
	})

	page.mu.Lock()
	before := page.upsertCalls
	page.mu.Unlock()

	// Below both thresholds: no reapply.
	session.NotifyMutation(2, 50)
	time.Sleep(50 * time.Millisecond)

	page.mu.Lock()
	unchanged := page.upsertCalls == before
	page.mu.Unlock()
	if !unchanged {
		t.Fatal("insignificant mutation must not trigger reapply")
	}

	// Above the node threshold: reapply happens after the debounce.
	session.NotifyMutation(10, 0)
	waitFor(t, time.Second, func() bool {
		page.mu.Lock()
		defer page.mu.Unlock()
		return page.upsertCalls > before
	})
}

func TestSessionRemoveRule(t *testing.T) {
	rule := basicRule("r1", ".header")
	rule.PseudoClasses = map[string]map[string]string{"hover": {"color": "blue"}}

	page := newFakePage("https://org.crm.dynamics.com/main.aspx", "org.crm.dynamics.com")
	page.setMatches(".header", 1)
	session := startSession(t, page, []*domain.CustomizationRule{rule}, false)

	waitFor(t, time.Second, func() bool {
		_, ok := page.style("domstyle-r1-pseudo")
		return ok
	})

	session.RemoveRule("r1")

	if _, ok := page.style("domstyle-r1"); ok {
		t.Error("base style element should be removed")
	}
	if _, ok := page.style("domstyle-r1-pseudo"); ok {
		t.Error("pseudo style element should be removed")
	}
	if len(session.Applied()) != 0 {
		t.Error("tracking entry should be removed")
	}
}

func TestSessionPreview(t *testing.T) {
	page := newFakePage("https://org.crm.dynamics.com/main.aspx", "org.crm.dynamics.com")
	session := startSession(t, page, nil, false)

	rule := basicRule("p1", ".panel")
	if err := session.Preview(context.Background(), rule); err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if _, ok := page.style("domstyle-preview-p1"); !ok {
		t.Fatal("preview style element missing")
	}

	if err := session.RemovePreview(context.Background(), "p1"); err != nil {
		t.Fatalf("RemovePreview returned error: %v", err)
	}
	if _, ok := page.style("domstyle-preview-p1"); ok {
		t.Fatal("preview style element should be removed")
	}
}
