// Package auth authenticates requests and carries the resulting project
// scope through the request context.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/search"
)

type contextKey string

const identityKey contextKey = "auth.identity"

// Identity is the authenticated caller. Project scopes every read and
// write; SuperAdmin bypasses project isolation.
type Identity struct {
	Project    uuid.UUID
	UserID     string
	SuperAdmin bool
	Scopes     []string
}

// Scope converts the identity into the scope the storage layer enforces.
func (id Identity) Scope() search.Scope {
	return search.Scope{ProjectID: id.Project, SuperAdmin: id.SuperAdmin}
}

// Claims is the JWT payload the server accepts.
type Claims struct {
	jwt.RegisteredClaims
	ProjectID  string   `json:"project_id"`
	SuperAdmin bool     `json:"super_admin,omitempty"`
	Scopes     []string `json:"scopes,omitempty"`
}

// FromContext returns the identity stored by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// IdentityFor returns the identity for an echo request.
func IdentityFor(c echo.Context) (Identity, bool) {
	return FromContext(c.Request().Context())
}

func withIdentity(c echo.Context, id Identity) {
	req := c.Request()
	c.SetRequest(req.WithContext(context.WithValue(req.Context(), identityKey, id)))
}

// JWTMiddleware validates HS256 bearer tokens signed with the configured
// secret and stores the resulting identity in the request context.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	key := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := bearerToken(c.Request())
			if err != nil {
				return unauthorized(c, err.Error())
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				return unauthorized(c, "invalid or expired token")
			}

			id := Identity{
				UserID:     claims.Subject,
				SuperAdmin: claims.SuperAdmin,
				Scopes:     claims.Scopes,
			}
			if claims.ProjectID != "" {
				project, err := uuid.Parse(claims.ProjectID)
				if err != nil {
					return unauthorized(c, "token carries a malformed project id")
				}
				id.Project = project
			}
			if id.Project == uuid.Nil && !id.SuperAdmin {
				return unauthorized(c, "token carries no project")
			}

			withIdentity(c, id)
			return next(c)
		}
	}
}

// DevMiddleware skips token verification. Every request runs as a
// superAdmin unless it names a project via X-Project-ID. Only wired when
// AUTH_DISABLED=true or the server runs in development without a secret.
func DevMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := Identity{UserID: "dev", SuperAdmin: true}
			if header := c.Request().Header.Get("X-Project-ID"); header != "" {
				project, err := uuid.Parse(header)
				if err != nil {
					return unauthorized(c, "malformed X-Project-ID header")
				}
				id.Project = project
				id.SuperAdmin = false
			}
			withIdentity(c, id)
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("Authorization header is not a bearer token")
	}
	return parts[1], nil
}

func unauthorized(c echo.Context, msg string) error {
	outcome := fhir.NewOperationOutcome(fhir.IssueSeverityError, "security", msg)
	return c.JSON(http.StatusUnauthorized, outcome)
}
