// Package interceptors provides the HTTP middleware shared by every route:
// principal resolution, rate limiting, request logging and CORS.
package interceptors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidToken    = errors.New("invalid token")
)

type contextKey string

const userIDKey contextKey = "user_id"

// SigningMethod is the only accepted algorithm.
var SigningMethod = jwt.SigningMethodHS256

// Claims are the token claims; the subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// ContextWithUserID stores the authenticated principal in ctx.
func ContextWithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserIDFromContext returns the principal stored by the auth middleware.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// Authenticator resolves bearer tokens into principals.
type Authenticator struct {
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator creates an authenticator for HS256 tokens signed with secret.
func NewAuthenticator(secret []byte, logger *slog.Logger) *Authenticator {
	return &Authenticator{secret: secret, logger: logger}
}

// Principal validates token and returns its subject.
func (a *Authenticator) Principal(token string) (uuid.UUID, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		method, ok := t.Method.(*jwt.SigningMethodHMAC)
		if !ok || method != SigningMethod {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return a.secret, nil
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, keyFunc,
		jwt.WithValidMethods([]string{SigningMethod.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return uuid.Nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return userID, nil
}

// Middleware rejects requests without a valid bearer token with 401 and
// stores the principal in the request context otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			WriteError(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
			return
		}

		userID, err := a.Principal(token)
		if err != nil {
			a.logger.DebugContext(r.Context(), "rejected bearer token", slog.Any("error", err))
			WriteError(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
	})
}

// IssueToken signs a token for userID. Used by the CLI for local testing.
func IssueToken(secret []byte, userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "wellspend",
		},
	}
	signed, err := jwt.NewWithClaims(SigningMethod, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WriteError writes a JSON {"error": msg} body with status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteJSON encodes body as the JSON response.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
