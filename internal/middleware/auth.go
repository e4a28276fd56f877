package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const accountEmailKey = "account_email"

// AccountClaims is the bearer token issued by the storefront account
// service. Only the email is used here.
type AccountClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AuthMiddleware reads an optional "Authorization: Bearer" token. Requests
// without one pass through anonymously; a token that is present but invalid
// is rejected. An empty secret disables account tokens.
func AuthMiddleware(secret string, now func() time.Time) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" || secret == "" {
				return next(c)
			}

			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "malformed authorization header")
			}

			var claims AccountClaims
			_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				return []byte(secret), nil
			},
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
				jwt.WithExpirationRequired(),
				jwt.WithTimeFunc(now),
			)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}

			c.Set(accountEmailKey, strings.TrimSpace(claims.Email))
			return next(c)
		}
	}
}

// AccountEmail is the email of the signed-in account, or "".
func AccountEmail(c echo.Context) string {
	email, _ := c.Get(accountEmailKey).(string)
	return email
}

// SignAccountToken issues a token AuthMiddleware accepts.
func SignAccountToken(secret, email string, expiresAt time.Time) (string, error) {
	claims := AccountClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
