package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncInProgress rejects a sync attempt while another run is active.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrAuthRequired means no valid token or session exists.
	ErrAuthRequired = errors.New("authentication required")

	// ErrRuleNotFound is returned by the rule store for unknown ids.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrConflictResolution flags a malformed remote payload hit during merge.
	ErrConflictResolution = errors.New("conflict resolution failed")

	// ErrInvalidSelector flags a CSS selector that fails to parse or query.
	ErrInvalidSelector = errors.New("invalid selector")
)

// ConfigError names a missing remote backend setting. Its text is shown to
// users as remediation guidance, not a stack trace.
type ConfigError struct {
	Setting string
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// RemoteQueryError carries the status and body of a failed remote read.
type RemoteQueryError struct {
	Backend string
	Status  int
	Body    string
}

func (e *RemoteQueryError) Error() string {
	return fmt.Sprintf("%s query failed: %d %s", e.Backend, e.Status, e.Body)
}

// RemoteWriteError carries the status and body of a failed remote write.
type RemoteWriteError struct {
	Backend string
	Status  int
	Body    string
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("%s write failed: %d %s", e.Backend, e.Status, e.Body)
}

// ApplyExecutionError wraps a customization's own JS failure. It is logged
// per rule and never crashes the apply session.
type ApplyExecutionError struct {
	RuleID string
	Err    error
}

func (e *ApplyExecutionError) Error() string {
	return fmt.Sprintf("customization %s script failed: %v", e.RuleID, e.Err)
}

func (e *ApplyExecutionError) Unwrap() error { return e.Err }
