package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.AuthAdapter = (*Adapter)(nil)

// DefaultIssuer is written to and required on every admin token.
const DefaultIssuer = "sercha-typesense"

// Config configures an Adapter.
type Config struct {
	// Secret signs admin tokens with HS256.
	Secret string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// Issuer defaults to DefaultIssuer.
	Issuer string
	// Leeway tolerates clock skew between API instances.
	Leeway time.Duration
}

type adminClaims struct {
	Permissions []domain.Permission `json:"permissions"`
	jwt.RegisteredClaims
}

// Adapter verifies principal passwords with bcrypt and issues admin API tokens.
type Adapter struct {
	secret []byte
	cost   int
	parser *jwt.Parser
	issuer string
}

// NewAdapter creates an auth adapter.
func NewAdapter(cfg Config) *Adapter {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	return &Adapter{
		secret: []byte(cfg.Secret),
		cost:   cfg.BcryptCost,
		issuer: cfg.Issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.Leeway),
		),
	}
}

// HashPassword produces the hash stored in a principal's password_hash.
func (a *Adapter) HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: empty password", domain.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (a *Adapter) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (a *Adapter) GenerateToken(claims *domain.TokenClaims) (string, error) {
	if claims == nil || claims.Subject == "" {
		return "", fmt.Errorf("%w: token subject required", domain.ErrInvalidInput)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{
		Permissions: claims.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a token. Expired tokens yield domain.ErrTokenExpired,
// any other failure domain.ErrTokenInvalid.
func (a *Adapter) ParseToken(raw string) (*domain.TokenClaims, error) {
	var claims adminClaims
	_, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", domain.ErrTokenInvalid)
	}

	parsed := &domain.TokenClaims{
		Subject:     claims.Subject,
		Permissions: claims.Permissions,
		ExpiresAt:   claims.ExpiresAt.Unix(),
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Unix()
	}
	return parsed, nil
}
