package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ashabalin/webshop/internal/tokens"
)

const (
	accessClaimsKey  = "access_claims"
	refreshClaimsKey = "refresh_claims"
	rawRefreshKey    = "raw_refresh_token"
)

// Guard authenticates requests from the Authorization header. Both token
// kinds share one extraction path parameterized over the claims type; the
// guard never touches the database.
type Guard struct {
	Codec *tokens.Codec
}

func NewGuard(codec *tokens.Codec) *Guard {
	return &Guard{Codec: codec}
}

func (g *Guard) RequireAccess(next echo.HandlerFunc) echo.HandlerFunc {
	return require(g.Codec.ParseAccess, func(c echo.Context, claims *tokens.AccessClaims, _ string) {
		c.Set(accessClaimsKey, claims)
		c.Set("user_id", claims.Subject)
		c.Set("role", claims.Role)
	})(next)
}

func (g *Guard) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return g.RequireAccess(func(c echo.Context) error {
		if claims := AccessFromContext(c); claims == nil || claims.Role != "admin" {
			return echo.NewHTTPError(http.StatusForbidden, "admin access required")
		}
		return next(c)
	})
}

// RequireRefresh keeps the raw bearer string around: the session service
// needs it to match the stored digest.
func (g *Guard) RequireRefresh(next echo.HandlerFunc) echo.HandlerFunc {
	return require(g.Codec.ParseRefresh, func(c echo.Context, claims *tokens.RefreshClaims, raw string) {
		c.Set(refreshClaimsKey, claims)
		c.Set(rawRefreshKey, raw)
	})(next)
}

func require[T any](parse func(string) (*T, error), inject func(echo.Context, *T, string)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := bearerToken(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims, err := parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			inject(c, claims, raw)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	const prefix = "Bearer "

	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(header, prefix) {
		return "", echo.ErrUnauthorized
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", echo.ErrUnauthorized
	}
	return token, nil
}

func AccessFromContext(c echo.Context) *tokens.AccessClaims {
	claims, _ := c.Get(accessClaimsKey).(*tokens.AccessClaims)
	return claims
}

func RefreshFromContext(c echo.Context) *tokens.RefreshClaims {
	claims, _ := c.Get(refreshClaimsKey).(*tokens.RefreshClaims)
	return claims
}

func RawRefreshToken(c echo.Context) string {
	raw, _ := c.Get(rawRefreshKey).(string)
	return raw
}
