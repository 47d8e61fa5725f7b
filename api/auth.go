package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Roles carried in the roles claim.
const (
	RoleHospital = "hospital"
	RoleDriver   = "driver"
	RoleAdmin    = "admin"
)

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	userRolesKey contextKey = "user_roles"
)

// Claims is the bearer token payload.
type Claims struct {
	jwt.RegisteredClaims
	HospitalID string   `json:"hospital_id,omitempty"`
	Roles      []string `json:"roles"`
}

// JWTMiddleware validates HS256 bearer tokens signed with secret. An empty
// secret disables authentication and every request acts as admin.
func JWTMiddleware(secret []byte, issuer string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(secret) == 0 {
				setUser(c, "dev-user", []string{RoleAdmin})
				return next(c)
			}
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
			if issuer != "" {
				opts = append(opts, jwt.WithIssuer(issuer))
			}
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
				return secret, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			setUser(c, claims.Subject, claims.Roles)
			return next(c)
		}
	}
}

func setUser(c echo.Context, id string, roles []string) {
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, userIDKey, id)
	ctx = context.WithValue(ctx, userRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

// UserIDFromContext returns the subject of the authenticated token.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// RolesFromContext returns the roles of the authenticated token.
func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(userRolesKey).([]string)
	return roles
}

// RequireRole lets the request through when the user holds one of roles.
// Admins pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, has := range RolesFromContext(c.Request().Context()) {
				if has == RoleAdmin {
					return next(c)
				}
				for _, want := range roles {
					if has == want {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
