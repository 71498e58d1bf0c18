package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const testSecret = "test-secret-key-for-unit-tests-only"

var testProject = uuid.MustParse("0d9b8a3e-5a1f-4f7c-9c4e-2d7f1b6a8e01")

func signToken(t *testing.T, claims Claims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, Identity, bool) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var id Identity
	var seen bool
	h := mw(func(c echo.Context) error {
		id, seen = IdentityFor(c)
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	return rec, id, seen
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ProjectID: testProject.String(),
		Scopes:    []string{"fhir.read", "fhir.write"},
	}
	req := httptest.NewRequest(http.MethodGet, "/fhir/R4/Patient", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, claims, testSecret))

	rec, id, seen := runMiddleware(t, JWTMiddleware(testSecret), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !seen {
		t.Fatal("identity not stored in context")
	}
	if id.Project != testProject || id.UserID != "user-1" || id.SuperAdmin {
		t.Errorf("identity = %+v", id)
	}
	if len(id.Scopes) != 2 {
		t.Errorf("scopes = %v", id.Scopes)
	}
}

func TestJWTMiddlewareRejections(t *testing.T) {
	expired := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		ProjectID: testProject.String(),
	}
	noProject := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong key", "Bearer " + signToken(t, noProject, "other-secret")},
		{"expired", "Bearer " + signToken(t, expired, testSecret)},
		{"no project no admin", "Bearer " + signToken(t, noProject, testSecret)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/fhir/R4/Patient", nil)
			if tc.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.header)
			}
			rec, _, seen := runMiddleware(t, JWTMiddleware(testSecret), req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if seen {
				t.Error("handler ran with identity despite rejection")
			}
		})
	}
}

func TestJWTMiddlewareSuperAdminNeedsNoProject(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		SuperAdmin: true,
	}
	req := httptest.NewRequest(http.MethodGet, "/fhir/R4/Patient", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, claims, testSecret))

	rec, id, _ := runMiddleware(t, JWTMiddleware(testSecret), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !id.SuperAdmin || id.Project != uuid.Nil {
		t.Errorf("identity = %+v", id)
	}
	if !id.Scope().SuperAdmin {
		t.Error("scope did not carry superAdmin")
	}
}

func TestDevMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/fhir/R4/Patient", nil)
	rec, id, _ := runMiddleware(t, DevMiddleware(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !id.SuperAdmin || id.UserID != "dev" {
		t.Errorf("identity = %+v", id)
	}

	req = httptest.NewRequest(http.MethodGet, "/fhir/R4/Patient", nil)
	req.Header.Set("X-Project-ID", testProject.String())
	rec, id, _ = runMiddleware(t, DevMiddleware(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if id.SuperAdmin || id.Project != testProject {
		t.Errorf("identity = %+v", id)
	}

	req = httptest.NewRequest(http.MethodGet, "/fhir/R4/Patient", nil)
	req.Header.Set("X-Project-ID", "not-a-uuid")
	rec, _, seen := runMiddleware(t, DevMiddleware(), req)
	if rec.Code != http.StatusUnauthorized || seen {
		t.Errorf("status = %d, seen = %v", rec.Code, seen)
	}
}
