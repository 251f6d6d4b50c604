package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

func newTestAdapter(secret string) *Adapter {
	return NewAdapter(Config{Secret: secret, BcryptCost: bcrypt.MinCost})
}

func claimsFor(subject string, ttl time.Duration, perms ...domain.Permission) *domain.TokenClaims {
	now := time.Now()
	return &domain.TokenClaims{
		Subject:     subject,
		Permissions: perms,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
	}
}

func TestNewAdapter_Defaults(t *testing.T) {
	a := NewAdapter(Config{Secret: "s"})
	assert.Equal(t, bcrypt.DefaultCost, a.cost)
	assert.Equal(t, DefaultIssuer, a.issuer)
}

func TestPrincipalPasswords(t *testing.T) {
	a := newTestAdapter("s")

	hash, err := a.HashPassword("hook-secret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"), "expected a bcrypt hash, got %q", hash)

	again, err := a.HashPassword("hook-secret")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "hashes are salted")

	assert.True(t, a.VerifyPassword("hook-secret", hash))
	assert.False(t, a.VerifyPassword("hook-secreT", hash))
	assert.False(t, a.VerifyPassword("hook-secret", "plain-text-in-config"))

	_, err = a.HashPassword("")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestToken_RoundTrip(t *testing.T) {
	a := newTestAdapter("admin-secret")
	original := claimsFor("cms", time.Hour, domain.PermissionRecordChanges, domain.PermissionView)

	token, err := a.GenerateToken(original)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	parsed, err := a.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestToken_Rejections(t *testing.T) {
	a := newTestAdapter("admin-secret")

	expired, err := a.GenerateToken(claimsFor("admin", -time.Minute))
	require.NoError(t, err)
	foreign, err := newTestAdapter("other-secret").GenerateToken(claimsFor("admin", time.Hour))
	require.NoError(t, err)
	otherIssuer, err := NewAdapter(Config{Secret: "admin-secret", Issuer: "cms"}).GenerateToken(claimsFor("admin", time.Hour))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    DefaultIssuer,
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", expired, domain.ErrTokenExpired},
		{"wrong secret", foreign, domain.ErrTokenInvalid},
		{"wrong issuer", otherIssuer, domain.ErrTokenInvalid},
		{"alg none", unsigned, domain.ErrTokenInvalid},
		{"garbage", "invalid.token.here", domain.ErrTokenInvalid},
		{"empty", "", domain.ErrTokenInvalid},
		{"two parts", "header.payload", domain.ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ParseToken(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestToken_LeewayAcceptsSkew(t *testing.T) {
	strict := newTestAdapter("s")
	lenient := NewAdapter(Config{Secret: "s", BcryptCost: bcrypt.MinCost, Leeway: time.Minute})

	token, err := strict.GenerateToken(claimsFor("admin", -10*time.Second))
	require.NoError(t, err)

	_, err = strict.ParseToken(token)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
	_, err = lenient.ParseToken(token)
	assert.NoError(t, err)
}

func TestGenerateToken_RequiresSubject(t *testing.T) {
	a := newTestAdapter("s")
	_, err := a.GenerateToken(&domain.TokenClaims{ExpiresAt: time.Now().Add(time.Hour).Unix()})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = a.GenerateToken(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
