package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, Principal{ID: "u-1", Email: "CSR@Example.com", Name: "Casey", Role: RoleCSR}, time.Hour)
	require.NoError(t, err)

	p, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.ID)
	assert.Equal(t, "csr@example.com", p.Email)
	assert.Equal(t, "Casey", p.Name)
	assert.True(t, p.IsStaff())

	_, err = ParseToken("another-secret", token)
	assert.Error(t, err)

	_, err = IssueToken(testSecret, Principal{ID: "u-1", Role: "superuser"}, time.Hour)
	assert.Error(t, err)
}

func TestParseTokenRejects(t *testing.T) {
	sign := func(method jwt.SigningMethod, claims Claims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return token
	}
	valid := jwt.RegisteredClaims{
		Subject:   "u-1",
		Issuer:    TokenIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	t.Run("Expired", func(t *testing.T) {
		claims := Claims{Role: RoleCustomer, RegisteredClaims: valid}
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := ParseToken(testSecret, sign(jwt.SigningMethodHS256, claims))
		assert.Error(t, err)
	})

	t.Run("Wrong issuer", func(t *testing.T) {
		claims := Claims{Role: RoleCustomer, RegisteredClaims: valid}
		claims.Issuer = "someone-else"
		_, err := ParseToken(testSecret, sign(jwt.SigningMethodHS256, claims))
		assert.Error(t, err)
	})

	t.Run("Wrong algorithm", func(t *testing.T) {
		_, err := ParseToken(testSecret, sign(jwt.SigningMethodHS512, Claims{Role: RoleCustomer, RegisteredClaims: valid}))
		assert.Error(t, err)
	})

	t.Run("Unknown role", func(t *testing.T) {
		_, err := ParseToken(testSecret, sign(jwt.SigningMethodHS256, Claims{Role: "root", RegisteredClaims: valid}))
		assert.Error(t, err)
	})

	t.Run("Customer without email", func(t *testing.T) {
		_, err := ParseToken(testSecret, sign(jwt.SigningMethodHS256, Claims{Role: RoleCustomer, RegisteredClaims: valid}))
		assert.Error(t, err)

		_, err = IssueToken(testSecret, Principal{ID: "u-1", Role: RoleCustomer}, time.Hour)
		assert.Error(t, err)
	})

	t.Run("Staff without email", func(t *testing.T) {
		p, err := ParseToken(testSecret, sign(jwt.SigningMethodHS256, Claims{Role: RoleSystem, RegisteredClaims: valid}))
		require.NoError(t, err)
		assert.Equal(t, "u-1", p.ID)
	})

	t.Run("Missing expiry", func(t *testing.T) {
		claims := Claims{Role: RoleCustomer, RegisteredClaims: valid}
		claims.ExpiresAt = nil
		_, err := ParseToken(testSecret, sign(jwt.SigningMethodHS256, claims))
		assert.Error(t, err)
	})
}

func TestRequireAuth(t *testing.T) {
	e := echo.New()
	handler := RequireAuth(testSecret)(func(c echo.Context) error {
		user := GetCurrentUser(c)
		return c.String(http.StatusOK, user.Email)
	})

	t.Run("Valid token", func(t *testing.T) {
		token, _ := IssueToken(testSecret, Principal{ID: "u-1", Email: "alice@example.com", Role: RoleCustomer}, time.Hour)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		rec := httptest.NewRecorder()

		assert.NoError(t, handler(e.NewContext(req, rec)))
		assert.Equal(t, "alice@example.com", rec.Body.String())
	})

	for name, header := range map[string]string{
		"Missing header": "",
		"Wrong scheme":   "Basic dXNlcjpwYXNz",
		"Garbage token":  "Bearer not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set(echo.HeaderAuthorization, header)
			}
			err := handler(e.NewContext(req, httptest.NewRecorder()))
			he, ok := err.(*echo.HTTPError)
			require.True(t, ok)
			assert.Equal(t, http.StatusUnauthorized, he.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	handler := RequireRole(RoleCSR, RoleAdmin)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set(ContextKeyUser, &Principal{ID: "u-1", Role: RoleAdmin})
	assert.NoError(t, handler(c))

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set(ContextKeyUser, &Principal{ID: "u-2", Role: RoleCustomer})
	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, he.Code)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err = handler(c)
	he, ok = err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}
