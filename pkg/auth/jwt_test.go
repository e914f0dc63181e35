package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrationTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "", 0)

	token, err := svc.GenerateIntegrationToken("tenant-1")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.Equal(t, Subject, claims.Subject)
	assert.Equal(t, ScopeIntegrate, claims.Scope)
	assert.Equal(t, SourcePOS, claims.Source)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), claims.ExpiresAt.Time, 5*time.Second)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", "", 0)
	token, err := svc.GenerateIntegrationToken("tenant-1")
	require.NoError(t, err)

	_, err = NewJWTService("other", "", 0).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTService("secret", "someone-else", 0).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTService("secret", "", time.Minute).(*jwtService)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.GenerateIntegrationToken("tenant-1")
	require.NoError(t, err)
	_, err = svc.ValidateToken(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMissingSecret(t *testing.T) {
	_, err := NewJWTService("", "", 0).GenerateIntegrationToken("tenant-1")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
