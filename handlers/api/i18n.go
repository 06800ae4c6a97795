package api

import (
	"maildossier/utils"

	"github.com/gofiber/fiber/v2"
)

// clientMessages are the translation keys the frontend looks up
var clientMessages = []string{
	"threads_searching",
	"threads_none_found",
	"analysis_running",
	"metadata_processing",
	"dossier_generating",
	"dossier_saved",
	"dossier_deleted",
	"confirm_delete_dossier",
	"auth_signed_out",
	"error_network",
	"error_404",
	"error_500",
	"error_auth_required",
	"error_gmail_not_configured",
	"error_llm_not_configured",
	"error_rate_limited",
}

// I18nHandler handles i18n-related requests
type I18nHandler struct{}

// GetTranslations returns translations for the client-side JavaScript
func (h *I18nHandler) GetTranslations(c *fiber.Ctx) error {
	lang := c.Params("lang")
	if !utils.IsSupportedLanguage(lang) {
		lang = "en"
	}

	localizer := utils.GetLocalizer(lang)
	translations := make(map[string]string, len(clientMessages))
	for _, id := range clientMessages {
		translations[id] = utils.T(localizer, id)
	}

	return c.JSON(translations)
}
