package driving

import (
	"context"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// AuthService authenticates administrators and API callers
type AuthService interface {
	// Authenticate validates credentials and issues a token
	Authenticate(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error)

	// ValidateToken validates a JWT token and returns the auth context
	ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error)
}
