package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// RoleAdmin is required by every state changing control surface route
const RoleAdmin = "admin"

const claimsKey contextKey = "jwt_claims"

// Claims are the claims of a control surface token
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether role was granted
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ClaimsFromContext returns the claims of an authenticated request
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// JWTAuth validates HS256 bearer tokens signed with a shared secret
type JWTAuth struct {
	secret []byte
	logger *logger.Logger
	now    func() time.Time
}

// NewJWTAuth creates the guard. An empty secret disables it.
func NewJWTAuth(secret string, log *logger.Logger) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
		logger: log.WithField("middleware", "jwt_auth"),
		now:    time.Now,
	}
}

// Enabled reports whether tokens are checked at all
func (ja *JWTAuth) Enabled() bool {
	return len(ja.secret) > 0
}

// IssueToken signs a token for subject carrying roles, valid for ttl
func (ja *JWTAuth) IssueToken(subject string, roles []string, ttl time.Duration) (string, error) {
	if !ja.Enabled() {
		return "", fmt.Errorf("no jwt secret configured")
	}
	now := ja.now()
	claims := &Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "sip-dispatcher",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ja.secret)
}

// Require returns a middleware admitting only tokens granted role
func (ja *JWTAuth) Require(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ja.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				ja.logger.WithFields(map[string]interface{}{
					"path":   r.URL.Path,
					"method": r.Method,
					"ip":     r.RemoteAddr,
				}).Warn("JWT token missing")
				writeJWTError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := ja.validateToken(token)
			if err != nil {
				ja.logger.WithFields(map[string]interface{}{
					"error":  err.Error(),
					"path":   r.URL.Path,
					"method": r.Method,
				}).Warn("JWT validation failed")
				writeJWTError(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			if role != "" && !claims.HasRole(role) {
				ja.logger.WithFields(map[string]interface{}{
					"subject":       claims.Subject,
					"required_role": role,
					"path":          r.URL.Path,
				}).Warn("Insufficient roles for access")
				writeJWTError(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func (ja *JWTAuth) validateToken(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return ja.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func writeJWTError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sip-dispatcher"`)
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     message,
		"code":      code,
		"timestamp": time.Now(),
	})
}
