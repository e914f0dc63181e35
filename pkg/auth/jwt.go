// Package auth mints and validates the system-to-system tokens exchanged
// with the CRM.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultIssuer  = "ayende-pos"
	DefaultTTL     = 5 * time.Minute
	Subject        = "system-to-system"
	ScopeIntegrate = "integration"
	SourcePOS      = "pos"
)

var (
	ErrMissingSecret = errors.New("integration secret not configured")
	ErrInvalidToken  = errors.New("invalid integration token")
)

type JWTService interface {
	GenerateIntegrationToken(tenantID string) (string, error)
	ValidateToken(token string) (*IntegrationClaims, error)
}

// IntegrationClaims are carried by every outbound CRM call.
type IntegrationClaims struct {
	TenantID  string `json:"tenantId"`
	Scope     string `json:"scope"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
	jwt.RegisteredClaims
}

type jwtService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService returns an HS256 token service. An empty issuer or a
// non-positive ttl falls back to the defaults.
func NewJWTService(secret, issuer string, ttl time.Duration) JWTService {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &jwtService{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

func (s *jwtService) GenerateIntegrationToken(tenantID string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}
	now := s.now()
	claims := IntegrationClaims{
		TenantID:  tenantID,
		Scope:     ScopeIntegrate,
		Source:    SourcePOS,
		Timestamp: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *jwtService) ValidateToken(token string) (*IntegrationClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}
	claims := &IntegrationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Scope != ScopeIntegrate {
		return nil, fmt.Errorf("%w: unexpected scope %q", ErrInvalidToken, claims.Scope)
	}
	return claims, nil
}
