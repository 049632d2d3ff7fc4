package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/mir00r/grace-cache/pkg/logger"
)

type claimsContextKey struct{}

// AdminClaims are the claims carried by admin API tokens
type AdminClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope. A token without scopes
// grants every scope.
func (c *AdminClaims) HasScope(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// JWTAuthMiddleware guards the admin API with HS256 bearer tokens
type JWTAuthMiddleware struct {
	secret []byte
	logger *logger.Logger
}

// NewJWTAuthMiddleware creates the middleware. An empty secret is rejected.
func NewJWTAuthMiddleware(secret string, log *logger.Logger) (*JWTAuthMiddleware, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTAuthMiddleware{
		secret: []byte(secret),
		logger: log.MiddlewareLogger("jwt_auth"),
	}, nil
}

// JWTAuth returns the authentication middleware
func (jm *JWTAuthMiddleware) JWTAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				jm.logger.WithFields(map[string]interface{}{
					"path":   r.URL.Path,
					"method": r.Method,
					"ip":     clientIP(r),
				}).Warn("JWT token missing")
				writeJWTError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := jm.ValidateToken(token)
			if err != nil {
				jm.logger.WithFields(map[string]interface{}{
					"error":  err.Error(),
					"path":   r.URL.Path,
					"method": r.Method,
					"ip":     clientIP(r),
				}).Warn("JWT validation failed")
				writeJWTError(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			jm.logger.WithFields(map[string]interface{}{
				"subject": claims.Subject,
				"path":    r.URL.Path,
				"method":  r.Method,
			}).Debug("JWT authentication successful")

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects authenticated requests whose token lacks scope
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims != nil && !claims.HasScope(scope) {
				writeJWTError(w, "Insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext returns the claims stored by JWTAuth, or nil
func ClaimsFromContext(ctx context.Context) *AdminClaims {
	claims, _ := ctx.Value(claimsContextKey{}).(*AdminClaims)
	return claims
}

// ValidateToken parses tokenString and checks its signature and lifetime
func (jm *JWTAuthMiddleware) ValidateToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	// exp and nbf are checked by the parser when present
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("token has no expiry")
	}

	return claims, nil
}

// IssueToken signs a token for subject valid for ttl
func (jm *JWTAuthMiddleware) IssueToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jm.secret)
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

func writeJWTError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     message,
		"status":    statusCode,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
