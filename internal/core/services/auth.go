package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driving"
)

// Ensure authService implements AuthService
var _ driving.AuthService = (*authService)(nil)

// DefaultTokenTTL is how long issued tokens stay valid
const DefaultTokenTTL = 24 * time.Hour

// authService authenticates configured principals and issues signed tokens
type authService struct {
	principals  map[string]domain.Principal
	authAdapter driven.AuthAdapter
	tokenTTL    time.Duration
}

// NewAuthService creates a new AuthService. A principal without permissions
// is granted all of them.
func NewAuthService(principals []domain.Principal, authAdapter driven.AuthAdapter, tokenTTL time.Duration) driving.AuthService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	byName := make(map[string]domain.Principal, len(principals))
	for _, p := range principals {
		if len(p.Permissions) == 0 {
			p.Permissions = domain.AllPermissions()
		}
		byName[p.Username] = p
	}
	return &authService{
		principals:  byName,
		authAdapter: authAdapter,
		tokenTTL:    tokenTTL,
	}
}

// Authenticate validates credentials and issues a token
func (s *authService) Authenticate(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, domain.ErrInvalidInput
	}

	principal, ok := s.lookup(req.Username)
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}
	if !s.authAdapter.VerifyPassword(req.Password, principal.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	token, err := s.authAdapter.GenerateToken(&domain.TokenClaims{
		Subject:     principal.Username,
		Permissions: principal.Permissions,
		IssuedAt:    now.Unix(),
		ExpiresAt:   expiresAt.Unix(),
	})
	if err != nil {
		return nil, err
	}

	return &domain.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// lookup compares usernames in constant time
func (s *authService) lookup(username string) (domain.Principal, bool) {
	var found domain.Principal
	ok := false
	for name, p := range s.principals {
		if subtle.ConstantTimeCompare([]byte(name), []byte(username)) == 1 {
			found, ok = p, true
		}
	}
	return found, ok
}

// ValidateToken validates a JWT token and returns the auth context
func (s *authService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	if token == "" {
		return nil, domain.ErrTokenInvalid
	}

	claims, err := s.authAdapter.ParseToken(token)
	if errors.Is(err, domain.ErrTokenExpired) {
		return nil, domain.ErrTokenExpired
	}
	if err != nil {
		return nil, domain.ErrTokenInvalid
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, domain.ErrTokenExpired
	}

	// tokens of removed principals stop working
	if _, ok := s.principals[claims.Subject]; !ok {
		return nil, domain.ErrTokenInvalid
	}

	return &domain.AuthContext{
		Subject:     claims.Subject,
		Permissions: claims.Permissions,
	}, nil
}
