// Package handlers holds what the api and web handlers share
package handlers

import (
	"fmt"
	"strings"

	"maildossier/middleware"
	"maildossier/utils"

	"github.com/gofiber/fiber/v2"
)

// IsAPIRequest reports whether the error should be rendered as JSON
func IsAPIRequest(c *fiber.Ctx) bool {
	if c == nil {
		return false
	}
	path := c.Path()
	return strings.HasPrefix(path, "/api") || strings.HasPrefix(path, "/ws")
}

// ErrorHandler renders errors as {"error", "code"} JSON for API routes and
// as the error page otherwise. Errors tagged with a kind get the localised
// message for that kind when one exists.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()
	kind := ""

	if appErr, ok := utils.AsAppError(err); ok {
		code = appErr.Code
		kind = appErr.Kind
		message = appErr.Message
		fields := map[string]interface{}{"path": c.Path(), "status": code}
		for k, v := range appErr.Context {
			fields[k] = v
		}
		if code >= fiber.StatusInternalServerError {
			utils.Log.WithFields(fields).Error("Application error: %v", appErr)
		} else {
			utils.Log.WithFields(fields).Debug("Request rejected: %v", appErr)
		}
		if kind != "" {
			id := "error_" + strings.ToLower(kind)
			if msg := utils.T(middleware.Localizer(c), id); msg != id {
				message = msg
			}
		}
	} else if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	} else {
		utils.Log.WithField("path", c.Path()).Error("Unhandled error: %v", err)
		message = "Internal server error"
	}

	if IsAPIRequest(c) {
		body := fiber.Map{"error": message}
		if kind != "" {
			body["code"] = kind
		}
		return c.Status(code).JSON(body)
	}

	return c.Status(code).Render("error", fiber.Map{
		"Title":     fmt.Sprintf("%d", code),
		"Lang":      c.Locals("lang"),
		"Localizer": middleware.Localizer(c),
		"Error":     message,
		"Code":      code,
	})
}
