package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/kabar-go-api/internal/utils"
)

// JWTProtected returns a middleware that validates JWT bearer tokens.
// Websocket upgrades may carry the token as a "token" query parameter
// instead of an Authorization header, since browser websocket clients
// cannot set custom headers.
//
// The validated subject is stored as a canonical string user id under the
// "user_id" local. Numeric subjects are normalised to their decimal form so
// downstream code never has to compare mixed representations.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" {
			tokenString = strings.TrimSpace(c.Query("token"))
		}
		if tokenString == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization required")
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}

		userID := extractUserIDFromClaims(claims)
		if userID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "token subject missing")
		}

		c.Locals("user_id", userID)

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	authorization := c.Get("Authorization")
	if authorization == "" {
		return ""
	}

	const bearer = "Bearer "
	if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
		return ""
	}

	return strings.TrimSpace(authorization[len(bearer):])
}

func extractUserIDFromClaims(claims jwt.MapClaims) string {
	keys := []string{"sub", "user_id", "id"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if normalized := normalizeUserID(value); normalized != "" {
				return normalized
			}
		}
	}

	return ""
}

func normalizeUserID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v < 0 {
			return ""
		}
		return strconv.FormatUint(uint64(v), 10)
	case int:
		if v < 0 {
			return ""
		}
		return strconv.Itoa(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}
