package domain

import (
	"slices"
	"time"
)

// Permission grants access to an administrative action
type Permission string

const (
	// PermissionReindex allows requesting a full collection resync
	PermissionReindex Permission = "TYPESENSE_COLLECTION_REINDEX"
	// PermissionManage allows creating, editing and deleting collections
	PermissionManage Permission = "TYPESENSE_COLLECTION_MANAGE"
	// PermissionView allows reading collections and sync state
	PermissionView Permission = "TYPESENSE_COLLECTION_VIEW"
	// PermissionRecordChanges allows pushing record lifecycle events
	PermissionRecordChanges Permission = "TYPESENSE_RECORD_CHANGES"
)

// AllPermissions returns every permission, as granted to the administrator
func AllPermissions() []Permission {
	return []Permission{PermissionReindex, PermissionManage, PermissionView, PermissionRecordChanges}
}

// AuthContext contains the authenticated principal for request context
type AuthContext struct {
	Subject     string       `json:"subject"`
	Permissions []Permission `json:"permissions"`
}

// Can reports whether the principal holds a permission
func (a *AuthContext) Can(p Permission) bool {
	return a != nil && slices.Contains(a.Permissions, p)
}

// LoginRequest represents a login attempt
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned after successful authentication
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenClaims represents the JWT token payload
type TokenClaims struct {
	Subject     string       `json:"sub"`
	Permissions []Permission `json:"permissions"`
	IssuedAt    int64        `json:"iat"`
	ExpiresAt   int64        `json:"exp"`
}

// Principal is a configured account allowed to log in
type Principal struct {
	Username     string       `yaml:"username" json:"username"`
	PasswordHash string       `yaml:"password_hash" json:"-"`
	Permissions  []Permission `yaml:"permissions" json:"permissions"`
}
