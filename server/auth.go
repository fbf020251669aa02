package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

const sessionScope = "vellum.session"

func hashAdminPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), 10)
}

// principalFromToken validates a session JWT the external auth service
// issued and loads the matching principal. Tokens are ES256-signed with
// the shared session key.
func (s *Server) principalFromToken(tokenstr string) (*models.Principal, error) {
	if s.sessionKey == nil {
		return nil, fmt.Errorf("no session key configured")
	}

	token, err := new(jwt.Parser).Parse(tokenstr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unsupported signing method: %v", t.Header["alg"])
		}

		return s.sessionKey.Public(), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	scope, _ := claims["scope"].(string)
	if scope != sessionScope {
		return nil, fmt.Errorf("unexpected token scope")
	}

	exp, ok := claims["exp"].(float64)
	if !ok || exp < float64(time.Now().UTC().Unix()) {
		return nil, fmt.Errorf("expired token")
	}

	sub, _ := claims["sub"].(string)
	addr, ok := helpers.CanonicalAddress(sub)
	if !ok {
		return nil, fmt.Errorf("malformed subject address")
	}

	p, err := s.getPrincipalByAddress(addr)
	if err != nil {
		return nil, err
	}

	if !p.IsActive {
		return nil, fmt.Errorf("principal deactivated")
	}

	return p, nil
}

func bearerToken(e echo.Context) string {
	authheader := e.Request().Header.Get("authorization")
	pts := strings.Split(authheader, " ")
	if len(pts) != 2 || !strings.EqualFold(pts[0], "bearer") {
		return ""
	}
	return pts[1]
}

func (s *Server) handleSessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(e echo.Context) error {
		tokenstr := bearerToken(e)
		if tokenstr == "" {
			return e.JSON(401, map[string]string{"error": "Unauthorized"})
		}

		p, err := s.principalFromToken(tokenstr)
		if err != nil {
			s.logger.Error("error validating session", "error", err)
			return helpers.InputError(e, to.StringPtr("InvalidToken"))
		}

		e.Set("principal", p)

		if err := next(e); err != nil {
			e.Error(err)
		}

		return nil
	}
}

// handleOptionalSessionMiddleware attaches a principal when a valid
// token is present and continues anonymously otherwise. Verification is
// open to the world.
func (s *Server) handleOptionalSessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(e echo.Context) error {
		if tokenstr := bearerToken(e); tokenstr != "" {
			if p, err := s.principalFromToken(tokenstr); err == nil {
				e.Set("principal", p)
			}
		}

		if err := next(e); err != nil {
			e.Error(err)
		}

		return nil
	}
}

func (s *Server) handleAdminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(e echo.Context) error {
		if len(s.config.AdminPasswordHash) == 0 {
			return helpers.AuthError(e, to.StringPtr("AdminDisabled"))
		}

		pass := e.Request().Header.Get("admin-password")
		if err := bcrypt.CompareHashAndPassword(s.config.AdminPasswordHash, []byte(pass)); err != nil {
			return helpers.AuthError(e, nil)
		}

		if err := next(e); err != nil {
			e.Error(err)
		}

		return nil
	}
}

// principal returns the authed principal for the request, or nil for
// anonymous callers.
func principal(e echo.Context) *models.Principal {
	p, _ := e.Get("principal").(*models.Principal)
	return p
}
