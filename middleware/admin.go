// middleware/admin.go
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"
)

// AdminKeyMiddleware guards operational routes with a shared secret taken from
// the X-Admin-Key header or an "adminKey" body field. An empty expected key
// disables the routes entirely.
func AdminKeyMiddleware(expectedKey string) fiber.Handler {
	if expectedKey == "" {
		log.Println("⚠️ [ADMIN_AUTH] ADMIN_KEY is not set, admin routes are disabled")
	}

	return func(c *fiber.Ctx) error {
		if expectedKey == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin routes are disabled",
			})
		}

		key := c.Get("X-Admin-Key")
		if key == "" && len(c.Body()) > 0 {
			var body struct {
				AdminKey string `json:"adminKey"`
			}
			if err := json.Unmarshal(c.Body(), &body); err == nil {
				key = body.AdminKey
			}
		}

		if key == "" {
			log.Printf("🚫 [ADMIN_AUTH] Missing admin key for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "admin key missing",
			})
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(expectedKey)) != 1 {
			log.Printf("❌ [ADMIN_AUTH] Invalid admin key for %s", c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "invalid admin key",
			})
		}

		log.Printf("✅ [ADMIN_AUTH] Admin request accepted for %s", c.Path())
		return c.Next()
	}
}
