package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDLocal = "user_id"
	rolesLocal  = "roles"
)

// RoleClearing marks the payout side allowed to report withdrawal clearing results.
const RoleClearing = "clearing"

// Claims are the token claims the API understands.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth validates HS256 bearer tokens and exposes the subject as the
// "user_id" local and the role claim as the "roles" local.
func JWTAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		raw := strings.TrimSpace(authz[len("Bearer "):])

		var claims Claims
		token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
		if err != nil || !token.Valid {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if claims.Subject == "" {
			return fiber.NewError(http.StatusUnauthorized, "token has no subject")
		}

		c.Locals(userIDLocal, claims.Subject)
		c.Locals(rolesLocal, claims.Roles)
		return c.Next()
	}
}

// RequireRole admits only callers whose token carries role. It must run after JWTAuth.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals(rolesLocal).([]string)
		if !slices.Contains(roles, role) {
			return fiber.NewError(http.StatusForbidden, "requires the "+role+" role")
		}
		return c.Next()
	}
}

// SignToken issues an HS256 token for subject. Used by operators and tests.
func SignToken(secret []byte, subject string, ttl time.Duration, roles ...string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
