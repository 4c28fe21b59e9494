package auth

import (
	"errors"
	"fmt"
	"time"

	"shop-service/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var jwtSigningMethod = jwt.SigningMethodHS256

var ErrInvalidToken = errors.New("invalid access token")

// Claims is the access token issued by the account service.
type Claims struct {
	UserID  int64 `json:"user_id"`
	IsStaff bool  `json:"is_staff"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller derived from Claims.
type Principal struct {
	UserID  int64
	IsStaff bool
}

// MintAccessToken signs a token for the principal. Token issuance belongs to
// the account service; this is used by the bootstrap command and tests.
func MintAccessToken(cfg config.AuthConfig, now time.Time, p Principal) (string, error) {
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if cfg.TTLMinutes <= 0 {
		return "", fmt.Errorf("jwt ttl minutes must be positive")
	}

	claims := Claims{
		UserID:  p.UserID,
		IsStaff: p.IsStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.JWTIssuer,
			Subject:   fmt.Sprintf("%d", p.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.TTLMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates the token and returns the caller.
func ParseAccessToken(cfg config.AuthConfig, tokenString string) (Principal, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwtSigningMethod.Alg()})}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return Principal{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}

	return Principal{UserID: claims.UserID, IsStaff: claims.IsStaff}, nil
}
