package remote

import (
	"context"
	"time"

	"domstyle-sync-server/internal/domain"
)

// Record is one rule as it exists on a backend: the content plus the
// backend's own identifier, which local rules keep as a cross-reference.
type Record struct {
	// BackendID is the record's identity on the remote store (a Dataverse
	// row GUID or a SharePoint item ID).
	BackendID string

	// ExternalID is the local rule id the record was tagged with on
	// creation. Empty for records authored directly on the backend.
	ExternalID string

	Rule *domain.CustomizationRule
}

// Adapter abstracts one remote rule store. The bearer token is injected per
// call; adapters never manage token lifecycle.
type Adapter interface {
	Name() string

	// Query returns the backend's active records ordered by priority then
	// name. filter narrows the result set with a backend-native expression;
	// empty means all active records.
	Query(ctx context.Context, token, filter string) ([]Record, error)

	// Create writes a new record tagged with the rule's local id and
	// returns the backend identifier.
	Create(ctx context.Context, token string, rule *domain.CustomizationRule) (string, error)

	// Update overwrites the record's content fields in place.
	Update(ctx context.Context, token, backendID string, rule *domain.CustomizationRule) error

	// FindByExternalID locates the record previously created for a local
	// rule. Not-found returns (nil, nil); transient lookup failures do the
	// same, so the caller falls through to create rather than stalling the
	// batch.
	FindByExternalID(ctx context.Context, token, localID string) (*Record, error)
}

// RoleVerifier checks the caller's security roles on the backend. Only the
// Dataverse adapter implements it; SharePoint carries no role model the
// server consults.
type RoleVerifier interface {
	VerifyRole(ctx context.Context, token, aadObjectID string) (*domain.RoleInfo, error)
}

// TokenSource supplies the bearer token for outbound calls. It fails with
// domain.ErrAuthRequired when no valid session exists.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

func parseBackendTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	// SharePoint verbose payloads omit the offset on some tenants.
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t
	}
	return time.Time{}
}
