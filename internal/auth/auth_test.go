package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimjoonhwaan/metaworkflow/internal/config"
	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
)

// fakeKeySet satisfies oidc.KeySet to bypass signature verification.
type fakeKeySet struct{}

func (fakeKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

func signFake(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header, _ := json.Marshal(map[string]interface{}{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func testAuth() *Auth {
	verifier := oidc.NewVerifier("https://test-issuer.com", fakeKeySet{}, &oidc.Config{
		SkipClientIDCheck: true,
	})
	return &Auth{verifier: verifier, log: logging.NewLogger()}
}

func run(a *Auth, req *http.Request) (*httptest.ResponseRecorder, Claims, bool) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got Claims
	var seen bool
	handler := a.Middleware()(func(c echo.Context) error {
		got, seen = FromContext(c)
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, got, seen
}

func TestMiddlewareBearerToken(t *testing.T) {
	token := signFake(t, map[string]interface{}{
		"iss":   "https://test-issuer.com",
		"aud":   "api://default",
		"sub":   "user-1",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
		"email": "user@acme.com",
		"scp":   []string{"openid", "workflow:write"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)

	rec, claims, seen := run(testAuth(), req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, seen)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user@acme.com", claims.Email)
	assert.True(t, claims.HasScope(ScopeWorkflowWrite))
	assert.False(t, claims.HasScope(ScopeWorkflowRead))
}

func TestMiddlewareMissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	rec, _, seen := run(testAuth(), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, seen)
}

func TestMiddlewareExpiredToken(t *testing.T) {
	token := signFake(t, map[string]interface{}{
		"iss": "https://test-issuer.com",
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)

	rec, _, _ := run(testAuth(), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareBypassMode(t *testing.T) {
	cfg := &config.Config{Environment: "DEV"}
	cfg.Auth.DevModeBypass = true

	a, err := New(context.Background(), cfg, logging.NewLogger())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	rec, claims, seen := run(a, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, seen)
	assert.Equal(t, "dev@localhost", claims.Email)
	assert.True(t, claims.HasScope(ScopeWorkflowWrite))
}

func TestNewRequiresIssuer(t *testing.T) {
	cfg := &config.Config{Environment: "PROD"}
	_, err := New(context.Background(), cfg, logging.NewLogger())
	assert.Error(t, err)
}

func TestRequireScope(t *testing.T) {
	e := echo.New()

	call := func(claims interface{}) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if claims != nil {
			c.Set(ContextKey, claims)
		}
		handler := RequireScope(ScopeWorkflowWrite)(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})
		if err := handler(c); err != nil {
			e.HTTPErrorHandler(err, c)
		}
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call(Claims{Scopes: []string{ScopeWorkflowWrite}}))
	assert.Equal(t, http.StatusForbidden, call(Claims{Scopes: []string{ScopeWorkflowRead}}))
	assert.Equal(t, http.StatusUnauthorized, call(nil))
}
