package api

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail parsing or verification
var ErrInvalidToken = errors.New("invalid token")

// ErrNoUserID is returned for valid tokens that name no user
var ErrNoUserID = errors.New("token has no user id")

// Claims are the JWT claims accepted by the API. The user id is carried in
// "id"; tokens issued by older clients use "_id".
type Claims struct {
	UserID       string `json:"id,omitempty"`
	LegacyUserID string `json:"_id,omitempty"`
	jwt.RegisteredClaims
}

// User returns the user id named by the claims
func (c *Claims) User() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.LegacyUserID
}

// IssueToken signs an HS256 token for userID. A zero ttl issues a token
// without expiry.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrNoUserID
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies tokenString and returns the user id it carries
func ParseToken(secret, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.User() == "" {
		return "", ErrNoUserID
	}
	return claims.User(), nil
}

type contextKey struct{}

var userIDKey = contextKey{}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user id of a request
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
