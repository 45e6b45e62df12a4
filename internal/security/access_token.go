package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go-auth-service/internal/model"
)

type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AccessTokenCodec mints and checks HS256 access tokens. It never reads the
// wall clock; callers pass now.
type AccessTokenCodec struct {
	secret []byte
	ttl    time.Duration
}

func NewAccessTokenCodec(secret string, ttl time.Duration) (*AccessTokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("access token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("access token ttl must be positive")
	}
	return &AccessTokenCodec{secret: []byte(secret), ttl: ttl}, nil
}

func (c *AccessTokenCodec) TTL() time.Duration {
	return c.ttl
}

func (c *AccessTokenCodec) Encode(subjectID string, role model.Role, now time.Time) (string, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", fmt.Errorf("%w: empty subject", model.ErrInvalidInput)
	}
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", model.ErrInvalidRole, role)
	}

	// exp is rounded up to whole seconds so the token never dies before now+ttl.
	exp := now.Add(c.ttl)
	if truncated := exp.Truncate(time.Second); !truncated.Equal(exp) {
		exp = truncated.Add(time.Second)
	}

	claims := accessClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Decode returns model.ErrTokenMalformed, model.ErrTokenSignatureInvalid or
// model.ErrTokenExpired on failure.
func (c *AccessTokenCodec) Decode(tokenString string, now time.Time) (*model.AuthClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, model.ErrTokenSignatureInvalid
		}
		return nil, model.ErrTokenMalformed
	}

	role := model.Role(claims.Role)
	if claims.Subject == "" || claims.ExpiresAt == nil || !role.Valid() {
		return nil, model.ErrTokenMalformed
	}

	if now.After(claims.ExpiresAt.Time) {
		return nil, model.ErrTokenExpired
	}

	decoded := &model.AuthClaims{
		UserID:    claims.Subject,
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		decoded.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return decoded, nil
}
