package service

import (
	"context"
	"sync"
	"time"

	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/logger"
	"domstyle-sync-server/internal/remote"
	"domstyle-sync-server/pkg/token"

	"go.uber.org/zap"
)

// AuthService caches the bearer token handed over by clients and the role
// verification derived from it. The server never acquires tokens itself;
// clients hold the identity session and deposit fresh tokens here.
//
// Token and role freshness are bounded separately. Role checks go stale
// faster, and a stale role always reads as non-admin.
type AuthService struct {
	verifier     remote.RoleVerifier
	tokenMaxAge  time.Duration
	roleMaxAge   time.Duration
	requiredRole string

	mu             sync.Mutex
	bearer         string
	tokenStoredAt  time.Time
	role           *domain.RoleInfo
	roleVerifiedAt time.Time
}

func NewAuthService(verifier remote.RoleVerifier, tokenMaxAge, roleMaxAge time.Duration, requiredRole string) *AuthService {
	return &AuthService{
		verifier:     verifier,
		tokenMaxAge:  tokenMaxAge,
		roleMaxAge:   roleMaxAge,
		requiredRole: requiredRole,
	}
}

// StoreToken accepts a client-deposited bearer token. Tokens whose claims
// already expired are rejected; storing a new token invalidates the cached
// role so the next role read re-verifies under the new identity.
func (s *AuthService) StoreToken(raw string) error {
	if raw == "" {
		return domain.ErrAuthRequired
	}
	if token.Expired(raw, time.Now()) {
		return domain.ErrAuthRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if raw != s.bearer {
		s.role = nil
		s.roleVerifiedAt = time.Time{}
	}
	s.bearer = raw
	s.tokenStoredAt = time.Now()
	return nil
}

// AccessToken returns the cached bearer token if still trustworthy. It is
// the remote.TokenSource used by sync runs.
func (s *AuthService) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bearer == "" {
		return "", domain.ErrAuthRequired
	}
	now := time.Now()
	if token.Expired(s.bearer, now) || now.Sub(s.tokenStoredAt) > s.tokenMaxAge {
		s.bearer = ""
		return "", domain.ErrAuthRequired
	}
	return s.bearer, nil
}

// CurrentRole returns the caller's verified role, re-verifying against the
// backend when the cache is stale. Verification failures fail closed: the
// result is a non-admin role carrying the failure message, never an error
// that a caller might interpret as "assume admin".
func (s *AuthService) CurrentRole(ctx context.Context) *domain.RoleInfo {
	s.mu.Lock()
	if s.role != nil && time.Since(s.roleVerifiedAt) <= s.roleMaxAge {
		cached := *s.role
		s.mu.Unlock()
		return &cached
	}
	s.mu.Unlock()

	bearer, err := s.AccessToken(ctx)
	if err != nil {
		return s.deniedRole("Sign in to verify your security role.")
	}

	claims, err := token.Inspect(bearer)
	if err != nil {
		return s.deniedRole("The session token could not be inspected for role verification.")
	}

	info, err := s.verifier.VerifyRole(ctx, bearer, claims.ObjectID)
	if err != nil {
		logger.Log.Warn("role verification failed, denying script privileges",
			zap.Error(err))
		return s.deniedRole("Role verification failed: " + err.Error())
	}
	info.VerifiedAt = time.Now()

	s.mu.Lock()
	s.role = info
	s.roleVerifiedAt = info.VerifiedAt
	s.mu.Unlock()

	cached := *info
	return &cached
}

// IsAdmin is the gate for script injection. Absent, stale or failing role
// state reads as false.
func (s *AuthService) IsAdmin(ctx context.Context) bool {
	return s.CurrentRole(ctx).IsAdmin
}

// SignOut clears the cached token and role.
func (s *AuthService) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bearer = ""
	s.tokenStoredAt = time.Time{}
	s.role = nil
	s.roleVerifiedAt = time.Time{}
}

func (s *AuthService) deniedRole(message string) *domain.RoleInfo {
	return &domain.RoleInfo{
		IsAdmin:    false,
		Message:    message,
		VerifiedAt: time.Now(),
	}
}
