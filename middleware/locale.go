package middleware

import (
	"maildossier/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// matcher must list tags in the same order as utils.SupportedLanguages
var matcher = language.NewMatcher([]language.Tag{language.English, language.Japanese})

// LocaleMiddleware picks the response language from the lang query
// parameter, then the lang cookie, then Accept-Language
func LocaleMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		lang := c.Query("lang")
		if lang == "" {
			lang = c.Cookies("lang")
		}

		if !utils.IsSupportedLanguage(lang) {
			tags, _, _ := language.ParseAcceptLanguage(c.Get(fiber.HeaderAcceptLanguage))
			_, idx, _ := matcher.Match(tags...)
			lang = utils.SupportedLanguages[idx]
		}

		c.Locals("localizer", utils.GetLocalizer(lang))
		c.Locals("lang", lang)

		utils.Log.Debug("Locale detected: %s for path: %s", lang, c.Path())
		return c.Next()
	}
}

// Localizer returns the request's localizer, or the default one when the
// locale middleware did not run
func Localizer(c *fiber.Ctx) *i18n.Localizer {
	if l, ok := c.Locals("localizer").(*i18n.Localizer); ok {
		return l
	}
	return utils.Localizer
}
