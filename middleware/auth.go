package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	// ContextKeyUser is the context key for the authenticated principal
	ContextKeyUser = "user"
	// TokenIssuer is the iss claim on tokens this service issues and accepts
	TokenIssuer = "consenthub"
)

// Roles carried in the role claim
const (
	RoleCustomer = "customer"
	RoleCSR      = "csr"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

var validRoles = map[string]bool{RoleCustomer: true, RoleCSR: true, RoleAdmin: true, RoleSystem: true}

// Principal is the caller identified by a bearer token
type Principal struct {
	ID    string
	Email string
	Name  string
	Role  string
}

// IsStaff reports whether the principal works requests rather than submits them
func (p *Principal) IsStaff() bool {
	return p != nil && (p.Role == RoleCSR || p.Role == RoleAdmin || p.Role == RoleSystem)
}

// Claims is the token payload
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for p valid for ttl
func IssueToken(secret string, p Principal, ttl time.Duration) (string, error) {
	if !validRoles[p.Role] {
		return "", fmt.Errorf("unknown role %q", p.Role)
	}
	if p.Role == RoleCustomer && strings.TrimSpace(p.Email) == "" {
		return "", errors.New("customer tokens need an email")
	}
	now := time.Now()
	claims := Claims{
		Email: strings.ToLower(p.Email),
		Name:  p.Name,
		Role:  p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies signature, issuer and expiry and returns the principal
func ParseToken(secret, tokenString string) (*Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !validRoles[claims.Role] {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	if claims.Subject == "" && claims.Email == "" {
		return nil, errors.New("token has no subject")
	}
	if claims.Role == RoleCustomer && strings.TrimSpace(claims.Email) == "" {
		return nil, errors.New("customer token has no email")
	}
	return &Principal{
		ID:    claims.Subject,
		Email: strings.ToLower(claims.Email),
		Name:  claims.Name,
		Role:  claims.Role,
	}, nil
}

// RequireAuth rejects requests without a valid bearer token
func RequireAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(tokenString) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing bearer token")
			}

			principal, err := ParseToken(secret, strings.TrimSpace(tokenString))
			if err != nil {
				c.Logger().Debugf("rejected token: %v", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(ContextKeyUser, principal)
			return next(c)
		}
	}
}

// RequireRole is middleware that requires specific roles
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := GetCurrentUser(c)
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
			}

			// Check if user has one of the required roles
			for _, role := range roles {
				if user.Role == role {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
		}
	}
}

// GetCurrentUser retrieves the current principal from context
func GetCurrentUser(c echo.Context) *Principal {
	user, ok := c.Get(ContextKeyUser).(*Principal)
	if !ok {
		return nil
	}
	return user
}
