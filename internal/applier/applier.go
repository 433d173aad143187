package applier

import (
	"context"
	"time"

	"domstyle-sync-server/internal/domain"
)

// RuleProvider supplies the current rule set on each (re)apply.
type RuleProvider interface {
	List() ([]*domain.CustomizationRule, error)
}

// RoleGate answers whether the current session may run rule scripts. A
// stale or failed verification answers false.
type RoleGate interface {
	IsAdmin(ctx context.Context) bool
}

// Timings collects every interval the session state machine uses. Tests
// shrink them; production uses Default.
type Timings struct {
	// ContentPoll is the interval between content-ready checks, and
	// ContentWaitCeiling bounds the whole wait. Hitting the ceiling
	// proceeds to apply anyway.
	ContentPoll        time.Duration
	ContentWaitCeiling time.Duration

	// RetryBackoff schedules re-attempts for rules whose selector matched
	// nothing. After the last entry the rule is given up until the next
	// reapply trigger.
	RetryBackoff []time.Duration

	// ReapplyDebounce coalesces mutation and navigation triggers.
	ReapplyDebounce time.Duration

	// HrefPoll is the fallback poll catching SPA navigations that fire no
	// history event.
	HrefPoll time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		ContentPoll:        500 * time.Millisecond,
		ContentWaitCeiling: 10 * time.Second,
		RetryBackoff:       []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		ReapplyDebounce:    500 * time.Millisecond,
		HrefPoll:           2 * time.Second,
	}
}

// Applier builds per-page apply sessions over a shared rule source and
// role gate.
type Applier struct {
	rules   RuleProvider
	gate    RoleGate
	timings Timings
}

func New(rules RuleProvider, gate RoleGate, timings Timings) *Applier {
	if timings.ContentPoll <= 0 {
		timings = DefaultTimings()
	}
	return &Applier{
		rules:   rules,
		gate:    gate,
		timings: timings,
	}
}
