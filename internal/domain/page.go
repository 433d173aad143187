package domain

import "time"

// PageContext describes the page a content client currently runs on.
type PageContext struct {
	URL         string            `json:"url" validate:"required"`
	Hostname    string            `json:"hostname" validate:"required"`
	QueryParams map[string]string `json:"query_params"`
}

// RoleInfo is the cached result of a security-role verification.
type RoleInfo struct {
	IsAdmin     bool      `json:"is_admin"`
	Roles       []string  `json:"roles"`
	PrimaryRole string    `json:"primary_role,omitempty"`
	Message     string    `json:"message,omitempty"`
	VerifiedAt  time.Time `json:"verified_at,omitempty"`
}
