package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wablast/blast-core/config"
	"github.com/wablast/blast-core/utils"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// Actor roles carried in the "role" claim
const (
	RoleTenant = "tenant"
	RoleAdmin  = "admin"
)

// TokenService verifies the bearer tokens callers present. Tokens are minted by the
// account service; GenerateToken exists for operators and tests.
type TokenService interface {
	GenerateToken(klienID uint, role string, ttl time.Duration) (string, error)
	ValidateToken(token string) (*ActorClaims, error)
}

// ActorClaims identifies who is calling
type ActorClaims struct {
	KlienID   uint      `json:"klien_id"` // 0 for platform admins
	Role      string    `json:"role"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsAdmin reports whether the actor may use the admin surface
func (c *ActorClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// TokenServiceImpl implements TokenService with HS256
type TokenServiceImpl struct {
	secretKey []byte
	issuer    string
	audience  string
}

// NewTokenService creates a new token service
func NewTokenService(cfg config.JWTConfig) (*TokenServiceImpl, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("secret key is required")
	}
	if cfg.Algorithm != "" && cfg.Algorithm != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	return &TokenServiceImpl{
		secretKey: []byte(cfg.SecretKey),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
	}, nil
}

// GenerateToken signs a token for the given actor
func (s *TokenServiceImpl) GenerateToken(klienID uint, role string, ttl time.Duration) (string, error) {
	switch role {
	case RoleTenant:
		if klienID == 0 {
			return "", fmt.Errorf("tenant token requires a klien id")
		}
	case RoleAdmin:
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}

	tokenID, err := generateTokenID()
	if err != nil {
		return "", err
	}

	now := utils.UTCNow()
	claims := jwt.MapClaims{
		"klien_id": klienID,
		"role":     role,
		"jti":      tokenID,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
		"iss":      s.issuer,
		"aud":      s.audience,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// ValidateToken validates a JWT token and returns claims
func (s *TokenServiceImpl) ValidateToken(token string) (*ActorClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (any, error) {
		return s.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsedToken.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	klienID, ok := claims["klien_id"].(float64)
	if !ok || klienID < 0 {
		return nil, ErrTokenInvalid
	}
	role, ok := claims["role"].(string)
	if !ok || (role != RoleTenant && role != RoleAdmin) {
		return nil, ErrTokenInvalid
	}
	if role == RoleTenant && klienID == 0 {
		return nil, ErrTokenInvalid
	}
	tokenID, _ := claims["jti"].(string)
	issuedAt, ok := claims["iat"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}
	expiresAt, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}

	return &ActorClaims{
		KlienID:   uint(klienID),
		Role:      role,
		TokenID:   tokenID,
		IssuedAt:  time.Unix(int64(issuedAt), 0),
		ExpiresAt: time.Unix(int64(expiresAt), 0),
	}, nil
}

// generateTokenID generates a unique token ID
func generateTokenID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", bytes), nil
}
