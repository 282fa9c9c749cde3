package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wablast/blast-core/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		SecretKey: "test-secret-key-for-jwt-signing-32-chars",
		Issuer:    "test-issuer",
		Audience:  "test-audience",
		Algorithm: "HS256",
	}
}

// createTestTokenService creates a token service for testing with symmetric key
func createTestTokenService(t *testing.T) *TokenServiceImpl {
	t.Helper()
	service, err := NewTokenService(testJWTConfig())
	require.NoError(t, err)
	return service
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*config.JWTConfig)
		expectError bool
	}{
		{name: "valid symmetric key configuration", mutate: func(*config.JWTConfig) {}},
		{name: "missing secret key", mutate: func(c *config.JWTConfig) { c.SecretKey = "" }, expectError: true},
		{name: "unsupported algorithm", mutate: func(c *config.JWTConfig) { c.Algorithm = "RS256" }, expectError: true},
		{name: "empty issuer and audience", mutate: func(c *config.JWTConfig) { c.Issuer = ""; c.Audience = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testJWTConfig()
			tt.mutate(&cfg)
			service, err := NewTokenService(cfg)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, service)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, service)
			}
		})
	}
}

func TestGenerateToken(t *testing.T) {
	service := createTestTokenService(t)

	t.Run("TenantRequiresKlien", func(t *testing.T) {
		_, err := service.GenerateToken(0, RoleTenant, time.Hour)
		assert.Error(t, err)
	})

	t.Run("UnknownRole", func(t *testing.T) {
		_, err := service.GenerateToken(7, "bot", time.Hour)
		assert.Error(t, err)
	})

	t.Run("TokensAreUnique", func(t *testing.T) {
		a, err := service.GenerateToken(7, RoleTenant, time.Hour)
		require.NoError(t, err)
		b, err := service.GenerateToken(7, RoleTenant, time.Hour)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
		assert.Contains(t, a, "eyJ")
	})
}

func TestValidateToken(t *testing.T) {
	service := createTestTokenService(t)

	tenant, err := service.GenerateToken(123, RoleTenant, 15*time.Minute)
	require.NoError(t, err)
	admin, err := service.GenerateToken(0, RoleAdmin, 15*time.Minute)
	require.NoError(t, err)

	t.Run("Tenant", func(t *testing.T) {
		claims, err := service.ValidateToken(tenant)
		require.NoError(t, err)
		assert.Equal(t, uint(123), claims.KlienID)
		assert.Equal(t, RoleTenant, claims.Role)
		assert.False(t, claims.IsAdmin())
		assert.NotEmpty(t, claims.TokenID)
		assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
	})

	t.Run("Admin", func(t *testing.T) {
		claims, err := service.ValidateToken(admin)
		require.NoError(t, err)
		assert.True(t, claims.IsAdmin())
		assert.Zero(t, claims.KlienID)
	})

	t.Run("Expired", func(t *testing.T) {
		expired, err := service.GenerateToken(123, RoleTenant, -time.Minute)
		require.NoError(t, err)
		_, err = service.ValidateToken(expired)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("Malformed", func(t *testing.T) {
		for _, token := range []string{"", "invalid.token.format", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature"} {
			_, err := service.ValidateToken(token)
			assert.ErrorIs(t, err, ErrTokenInvalid, token)
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		cfg := testJWTConfig()
		cfg.SecretKey = "another-secret-key-for-jwt-signing-32"
		other, err := NewTokenService(cfg)
		require.NoError(t, err)
		_, err = other.ValidateToken(tenant)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("WrongAudience", func(t *testing.T) {
		cfg := testJWTConfig()
		cfg.Audience = "someone-else"
		other, err := NewTokenService(cfg)
		require.NoError(t, err)
		_, err = other.ValidateToken(tenant)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("TenantWithoutKlien", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"klien_id": 0,
			"role":     RoleTenant,
			"iat":      time.Now().Unix(),
			"exp":      time.Now().Add(time.Hour).Unix(),
			"iss":      "test-issuer",
			"aud":      "test-audience",
		}).SignedString([]byte(testJWTConfig().SecretKey))
		require.NoError(t, err)
		_, err = service.ValidateToken(forged)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("NoneAlgorithmRejected", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"klien_id": 123,
			"role":     RoleAdmin,
			"iat":      time.Now().Unix(),
			"exp":      time.Now().Add(time.Hour).Unix(),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = service.ValidateToken(unsigned)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}
