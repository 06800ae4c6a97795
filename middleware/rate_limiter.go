package middleware

import (
	"sync"
	"time"

	"maildossier/utils"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// KeyFunc names the bucket a request is charged to
type KeyFunc func(c *fiber.Ctx) string

// KeyByIP charges requests to the client address
func KeyByIP(c *fiber.Ctx) string {
	return c.IP()
}

// KeyByUser charges requests to the signed-in mailbox, falling back to the
// client address before authentication
func KeyByUser(c *fiber.Ctx) string {
	if email := UserEmail(c); email != "" {
		return "user:" + email
	}
	return c.IP()
}

// RateLimiter allows requests per duration for each key, with a burst of
// requests. A non-positive requests value disables limiting.
func RateLimiter(requests int, duration time.Duration, key KeyFunc) fiber.Handler {
	if requests <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if key == nil {
		key = KeyByIP
	}

	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		clients = make(map[string]*client)
		mu      sync.Mutex
	)

	// idle clients are forgotten after 10 minutes
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			for k, c := range clients {
				if time.Since(c.lastSeen) > 10*time.Minute {
					delete(clients, k)
				}
			}
			mu.Unlock()
		}
	}()

	every := rate.Every(duration / time.Duration(requests))
	return func(c *fiber.Ctx) error {
		k := key(c)

		mu.Lock()
		cl, exists := clients[k]
		if !exists {
			cl = &client{limiter: rate.NewLimiter(every, requests)}
			clients[k] = cl
		}
		cl.lastSeen = time.Now()
		mu.Unlock()

		if !cl.limiter.Allow() {
			return utils.NewAppError(fiber.StatusTooManyRequests, "Rate limit exceeded. Please try again later.", nil).
				WithKind(utils.CodeRateLimited)
		}
		return c.Next()
	}
}
