package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/dakael7/gravitylabs/internal/httpx"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/validation"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessCookie = "gl_access"

	LocalActorID     = "actorID"
	LocalRole        = "role"
	LocalDisplayName = "displayName"
)

// Claims identify an actor. Subject is the actor id; for customers it is
// their email, which is also their conversation key.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role models.Role
	Name string
}

// ConversationKey is the only conversation a customer may touch.
func (a Actor) ConversationKey() string {
	return validation.NormalizeConversationKey(a.ID)
}

// CanAccess reports whether the actor may read or write the conversation.
func (a Actor) CanAccess(conversationKey string) bool {
	if a.Role.IsStaff() {
		return true
	}
	return a.ConversationKey() == validation.NormalizeConversationKey(conversationKey)
}

// IssueToken signs an HS256 access token.
func IssueToken(secret string, actor Actor, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	if !actor.Role.Valid() {
		return "", errors.New("invalid role")
	}
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		Name: actor.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates an access token and returns its actor.
func ParseToken(secret, tokenString string) (Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Actor{}, errors.New("invalid or expired token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return Actor{}, errors.New("invalid token")
	}
	role := models.Role(strings.ToLower(claims.Role))
	if !role.Valid() {
		return Actor{}, errors.New("invalid role")
	}
	return Actor{ID: claims.Subject, Role: role, Name: claims.Name}, nil
}

func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		var tokenString string
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return httpx.Unauthorized(c, "invalid_authorization", "Invalid authorization format")
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Cookies(AccessCookie)
		}

		if tokenString == "" {
			return httpx.Unauthorized(c, "missing_access_token", "Missing access token")
		}

		actor, err := ParseToken(secret, tokenString)
		if err != nil {
			return httpx.Unauthorized(c, "invalid_access_token", "Invalid or expired token")
		}

		c.Locals(LocalActorID, actor.ID)
		c.Locals(LocalRole, string(actor.Role))
		c.Locals(LocalDisplayName, actor.Name)

		return c.Next()
	}
}

// ActorFrom reads the actor stored by AuthRequired.
func ActorFrom(c *fiber.Ctx) (Actor, error) {
	id, err := httpx.LocalString(c, LocalActorID)
	if err != nil {
		return Actor{}, err
	}
	role, err := httpx.LocalString(c, LocalRole)
	if err != nil {
		return Actor{}, err
	}
	name, _ := c.Locals(LocalDisplayName).(string)
	return Actor{ID: id, Role: models.Role(role), Name: name}, nil
}
