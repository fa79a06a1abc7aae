package strata

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const userIDKey contextKey = "userID"

// RequireAuth validates JWT bearer tokens from the Authorization header.
// The signing secret is the first registration argument. On success the
// user ID from the token's "sub" claim is added to the request context;
// otherwise the pipeline short-circuits with a 401 response.
//
// Usage:
//
//	stack.Use(strata.RequireAuth, "your-secret-key")
//
//	func protected(ctx context.Context, r *http.Request) strata.Response {
//	    userID, _ := strata.GetUserID(ctx)
//	    ...
//	}
func RequireAuth(next Handler, args []any, block Block) Handler {
	secret := args[0].(string)

	return func(ctx context.Context, r *http.Request) Response {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			return JSON(http.StatusUnauthorized, map[string]string{
				"error": "missing authorization header",
			})
		}

		// Expected format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid authorization format",
			})
		}

		userID, err := ValidateJWT(parts[1], secret)
		if err != nil {
			return JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid token",
			})
		}

		return next(WithUserID(ctx, userID), r)
	}
}

// BasicAuth enforces HTTP basic authentication against a static set of
// users. The first registration argument maps usernames to bcrypt hashes
// (see HashPassword); an optional second argument sets the realm.
//
//	users := map[string]string{"admin": adminHash}
//	stack.Use(strata.BasicAuth, users, "metrics")
func BasicAuth(next Handler, args []any, block Block) Handler {
	users := args[0].(map[string]string)
	realm := "restricted"
	if len(args) > 1 {
		realm = args[1].(string)
	}

	challenge := http.Header{}
	challenge.Set("WWW-Authenticate", `Basic realm="`+realm+`"`)

	return func(ctx context.Context, r *http.Request) Response {
		username, password, ok := r.BasicAuth()
		if ok {
			if hash, found := users[username]; found && CheckPassword(password, hash) == nil {
				return next(WithUserID(ctx, username), r)
			}
		}

		return WithHeaders(JSON(http.StatusUnauthorized, map[string]string{
			"error": "unauthorized",
		}), challenge)
	}
}

// GenerateJWT creates a signed JWT token for the given user ID.
// The token includes standard claims (subject, issued at, expiration).
//
// Example:
//
//	token, err := strata.GenerateJWT("user123", "secret", 24*time.Hour)
func GenerateJWT(userID string, secret string, expiration time.Duration) (string, error) {
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateJWT parses and validates a JWT token string. It verifies the
// signature and expiration and returns the user ID from the "sub" claim.
func ValidateJWT(tokenString string, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method is HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	userID, ok := claims["sub"].(string)
	if !ok {
		return "", errors.New("missing user ID in token")
	}

	return userID, nil
}

// WithUserID adds a user ID to the request context.
// This is typically called by authentication middleware.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the user ID from the request context.
// Returns the user ID and a boolean indicating if it was found.
//
// This should be called in handlers protected by RequireAuth or BasicAuth.
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}
