package middleware

import (
	"maildossier/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
)

// Session keys shared by the auth flow and the protected handlers
const (
	SessionAuthenticated = "authenticated"
	SessionEmail         = "user_email"
	SessionToken         = "oauth_token"
	SessionLoginTime     = "login_time"
	SessionState         = "oauth_state"
)

// LocalUserEmail is the Locals key holding the signed-in mailbox address
const LocalUserEmail = "user_email"

// RequireAuth rejects requests whose session has not completed the OAuth
// flow and exposes the owner's address through Locals
func RequireAuth(store *session.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			return utils.InternalServerError("Session error", err)
		}

		authenticated, _ := sess.Get(SessionAuthenticated).(bool)
		email, _ := sess.Get(SessionEmail).(string)
		if !authenticated || email == "" {
			return utils.UnauthorizedError("Authentication required", nil)
		}

		c.Locals(LocalUserEmail, email)
		return c.Next()
	}
}

// UserEmail returns the address stored by RequireAuth, or ""
func UserEmail(c *fiber.Ctx) string {
	email, _ := c.Locals(LocalUserEmail).(string)
	return email
}
