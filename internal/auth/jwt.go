// Package auth is the identity/session collaborator: it validates bearer
// tokens issued elsewhere and exposes the current user to handlers. No
// permission decisions happen here or anywhere in this service.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

const localsUserKey = "current_user"

// User is the authenticated caller. Role is carried for display and event
// payloads only.
type User struct {
	ID   string
	Role string
}

type Validator struct {
	pub    *rsa.PublicKey
	secret []byte
}

func NewValidatorRS256(publicKeyPath string) (*Validator, error) {
	b, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	return &Validator{pub: pub}, nil
}

func NewValidatorHS256(secret string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &Validator{secret: []byte(secret)}, nil
}

// Validate checks the token signature and returns the user it identifies.
func (v *Validator) Validate(tokenStr string) (User, error) {
	keyFn := func(t *jwt.Token) (any, error) {
		if v.pub != nil {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return v.pub, nil
		}
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}
	token, err := jwt.Parse(tokenStr, keyFn)
	if err != nil {
		return User{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, errors.New("invalid claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return User{}, errors.New("missing sub claim")
	}
	role, _ := claims["role"].(string)
	return User{ID: sub, Role: role}, nil
}

// Middleware authenticates the request and stores the user in locals.
func Middleware(v *Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		hdr := c.Get("Authorization")
		if hdr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization"})
		}
		parts := strings.SplitN(hdr, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization"})
		}
		user, err := v.Validate(parts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(localsUserKey, user)
		return c.Next()
	}
}

// CurrentUser returns the authenticated user set by Middleware.
func CurrentUser(c *fiber.Ctx) (User, error) {
	u, ok := c.Locals(localsUserKey).(User)
	if !ok || u.ID == "" {
		return User{}, domain.ErrNotAuthenticated
	}
	return u, nil
}
