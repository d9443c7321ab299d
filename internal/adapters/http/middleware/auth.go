// Package middleware - Authentication middleware.
//
// Operator endpoints are protected with bearer tokens. Verification is
// pluggable through AuthConfig.TokenValidator; the production validator
// checks HMAC-signed JWTs.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// AuthSubjectKey stores the authenticated subject in the gin context.
	AuthSubjectKey = "auth_subject"
	// AuthRoleKey stores the subject's role in the gin context.
	AuthRoleKey = "auth_role"
)

// AuthConfig configures the authentication middleware.
type AuthConfig struct {
	// TokenValidator verifies the bearer token and returns its claims.
	TokenValidator func(token string) (*AuthClaims, error)
	// SkipPaths lists paths that bypass authentication.
	SkipPaths []string
}

// AuthClaims are the verified token claims.
type AuthClaims struct {
	Subject string
	Role    string
	Exp     time.Time
}

// Auth enforces bearer token authentication.
//
// Flow:
// 1. Extract the token from the Authorization header
// 2. Verify it through TokenValidator
// 3. Store the claims in the request context
// 4. Continue, or abort with 401
func Auth(config *AuthConfig) gin.HandlerFunc {
	skipMap := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipMap[path] = true
	}

	return func(c *gin.Context) {
		if skipMap[c.Request.URL.Path] {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithUnauthorized(c, "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWithUnauthorized(c, "Invalid authorization header format")
			return
		}

		token := parts[1]
		if token == "" {
			abortWithUnauthorized(c, "Token is required")
			return
		}

		claims, err := config.TokenValidator(token)
		if err != nil {
			abortWithUnauthorized(c, "Invalid or expired token")
			return
		}

		if claims.Exp.Before(time.Now()) {
			abortWithUnauthorized(c, "Token has expired")
			return
		}

		c.Set(AuthSubjectKey, claims.Subject)
		c.Set(AuthRoleKey, claims.Role)

		c.Next()
	}
}

// abortWithUnauthorized sends a 401 response.
func abortWithUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
		"request_id": GetRequestID(c),
		"timestamp":  time.Now().UTC(),
	})
}

// RequireRole restricts a route group to the given roles.
//
// Must run after Auth.
func RequireRole(roles ...string) gin.HandlerFunc {
	roleMap := make(map[string]bool)
	for _, role := range roles {
		roleMap[role] = true
	}

	return func(c *gin.Context) {
		role := GetAuthRole(c)
		if role == "" {
			abortWithForbidden(c, "Subject role not found")
			return
		}

		if !roleMap[role] {
			abortWithForbidden(c, "Insufficient permissions")
			return
		}

		c.Next()
	}
}

// abortWithForbidden sends a 403 response.
func abortWithForbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "FORBIDDEN",
			"message": message,
		},
		"request_id": GetRequestID(c),
		"timestamp":  time.Now().UTC(),
	})
}

// ============================================
// Context helpers
// ============================================

// GetAuthSubject returns the authenticated subject identifier.
func GetAuthSubject(c *gin.Context) string {
	if subject, exists := c.Get(AuthSubjectKey); exists {
		if s, ok := subject.(string); ok {
			return s
		}
	}
	return ""
}

// GetAuthRole returns the authenticated subject's role.
func GetAuthRole(c *gin.Context) string {
	if role, exists := c.Get(AuthRoleKey); exists {
		if s, ok := role.(string); ok {
			return s
		}
	}
	return ""
}

// ============================================
// JWT validation
// ============================================

// jwtClaims is the JWT payload: registered claims plus the role.
type jwtClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTValidator returns a TokenValidator that verifies HS256-signed tokens
// against the shared secret and the expected issuer.
func JWTValidator(secret, issuer string) func(token string) (*AuthClaims, error) {
	key := []byte(secret)
	return func(tokenString string) (*AuthClaims, error) {
		claims := &jwtClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
		if err != nil {
			return nil, fmt.Errorf("parse token: %w", err)
		}
		if !token.Valid {
			return nil, fmt.Errorf("token is not valid")
		}

		var exp time.Time
		if claims.ExpiresAt != nil {
			exp = claims.ExpiresAt.Time
		}
		return &AuthClaims{
			Subject: claims.Subject,
			Role:    claims.Role,
			Exp:     exp,
		}, nil
	}
}

// GenerateJWT signs a token for the subject. Used by operator tooling and
// by tests.
func GenerateJWT(secret, issuer, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ============================================
// Development/Testing Helpers
// ============================================

// MockTokenValidator accepts any token and grants the operator role.
//
// Development only; production wires JWTValidator.
func MockTokenValidator(token string) (*AuthClaims, error) {
	return &AuthClaims{
		Subject: token,
		Role:    "operator",
		Exp:     time.Now().Add(24 * time.Hour),
	}, nil
}
