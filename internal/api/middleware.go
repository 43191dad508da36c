/**
 * @description
 * Middleware for the finance-service router: the bearer-token gate that turns
 * an HS256 JWT into an owner id on the request context, and the per-owner
 * posting rate limit backed by Redis.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 * - github.com/google/uuid: Owner ids.
 */

package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const ownerIDContextKey contextKey = "ownerID"

// UserIDHeader carries a trusted owner id when header fallback is enabled.
const UserIDHeader = "X-User-Id"

// AuthConfig configures the authentication gate.
type AuthConfig struct {
	Secret string
	// AllowHeaderFallback accepts X-User-Id when no bearer token is sent.
	// Only enable it behind a gateway that strips the header from clients.
	AllowHeaderFallback bool
}

// AuthMiddleware rejects requests without a valid bearer token and stores the
// token's owner id in the request context.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				if cfg.AllowHeaderFallback {
					if ownerID, err := uuid.Parse(strings.TrimSpace(r.Header.Get(UserIDHeader))); err == nil {
						next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
						return
					}
				}
				writeError(w, http.StatusUnauthorized, "Authorization header required", "")
				return
			}

			tokenString, ok := bearerToken(authHeader)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format", "")
				return
			}

			ownerID, err := validateToken(cfg.Secret, tokenString)
			if err != nil {
				log.Printf("level=warn component=api msg=\"token rejected\" path=%s err=%v", r.URL.Path, err)
				writeError(w, http.StatusUnauthorized, "Invalid token", "")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
		})
	}
}

func bearerToken(authHeader string) (string, bool) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func validateToken(secret, tokenString string) (uuid.UUID, error) {
	if secret == "" {
		return uuid.Nil, errors.New("jwt secret not configured")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
	)
	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	if !token.Valid {
		return uuid.Nil, errors.New("token is not valid")
	}

	// The original client issues userId; standard issuers use sub.
	for _, claim := range []string{"userId", "sub"} {
		raw, ok := claims[claim].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		ownerID, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return uuid.Nil, fmt.Errorf("claim %s is not a uuid: %w", claim, err)
		}
		return ownerID, nil
	}
	return uuid.Nil, errors.New("owner id not found in token")
}

// WithOwnerID returns a copy of ctx carrying ownerID.
func WithOwnerID(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerIDContextKey, ownerID)
}

// GetOwnerID retrieves the authenticated owner id from the request context.
func GetOwnerID(ctx context.Context) (uuid.UUID, bool) {
	ownerID, ok := ctx.Value(ownerIDContextKey).(uuid.UUID)
	return ownerID, ok && ownerID != uuid.Nil
}

// RateLimiter counts hits for a subject within a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitMiddleware allows at most limit requests per owner per window for
// the given scope. Limiter failures let the request through.
func RateLimitMiddleware(limiter RateLimiter, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, ok := GetOwnerID(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, ownerID.String(), limit, window)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s owner_id=%s err=%v", scope, ownerID, err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				log.Printf("level=info component=api outcome=rate_limited scope=%s owner_id=%s count=%d", scope, ownerID, count)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many requests, retry later", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
