package middleware // middleware contains reusable HTTP middleware functions

import (
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/golang-jwt/jwt/v5" // JWT library for parsing and validating tokens
	"github.com/labstack/echo/v4"  // Echo framework used for defining middleware and handlers
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject and role claims into the request context.  The
// provided secret must match the one used when issuing tokens.  Handlers use
// `c.Get("net_id")` and `c.Get("role")` to read the authenticated caller,
// and the role claim decides whether seat edits run with privileged rights.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Read the Authorization header.  A valid header starts with
			// "Bearer " followed by the JWT.
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// Parse the token with HS256 and our secret.  Tokens signed with
			// any other method are rejected.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			// Store the subject (campus net ID) and role claims in the
			// context for handlers and downstream middleware.
			c.Set("net_id", claims["sub"])
			c.Set("role", claims["role"])
			return next(c)
		}
	}
}

// callerNetID extracts the authenticated net ID stored by JWTAuth.  It
// returns "anon" for unauthenticated or malformed contexts so rate limit
// keys stay well formed.
func callerNetID(c echo.Context) string {
	if v := c.Get("net_id"); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "anon"
}

// callerRole extracts the role claim stored by JWTAuth, or "" when absent.
func callerRole(c echo.Context) string {
	if v := c.Get("role"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
