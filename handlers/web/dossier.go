package web

import (
	"errors"
	"html"
	"html/template"
	"regexp"
	"strings"

	"maildossier/middleware"
	"maildossier/storage"
	"maildossier/utils"

	"github.com/gofiber/fiber/v2"
)

var boldPattern = regexp.MustCompile(`\*\*(.+?)\*\*`)

// DossierHandler renders saved dossiers as pages
type DossierHandler struct {
	history *storage.DossierStorage
}

// NewDossierHandler creates a new instance of DossierHandler
func NewDossierHandler(history *storage.DossierStorage) *DossierHandler {
	return &DossierHandler{history: history}
}

func page(c *fiber.Ctx, title string, data fiber.Map) fiber.Map {
	data["Title"] = title
	data["Lang"] = c.Locals("lang")
	data["Localizer"] = middleware.Localizer(c)
	return data
}

// HandleList shows the caller's dossier history
func (h *DossierHandler) HandleList(c *fiber.Ctx) error {
	dossiers, err := h.history.ListByUser(middleware.UserEmail(c))
	if err != nil {
		return utils.InternalServerError("Failed to list dossiers", err)
	}
	title := utils.T(middleware.Localizer(c), "dossier_history")
	return c.Render("dossiers", page(c, title, fiber.Map{"Dossiers": dossiers}))
}

// HandleView shows one saved dossier
func (h *DossierHandler) HandleView(c *fiber.Ctx) error {
	d, err := h.history.Get(middleware.UserEmail(c), c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return utils.NotFoundError("Dossier not found", nil)
		}
		return utils.InternalServerError("Failed to read dossier", err)
	}

	return c.Render("dossier", page(c, d.Title(), fiber.Map{
		"Dossier":       d,
		"MeetingFlow":   RenderDocument(d.MeetingFlow),
		"ClientDossier": RenderDocument(d.ClientDossier),
	}))
}

// RenderDocument turns the plain-text and light markdown output of the
// model into sanitized HTML: headings, bullet lists and bold text
func RenderDocument(text string) template.HTML {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	var b strings.Builder
	inList := false
	closeList := func() {
		if inList {
			b.WriteString("</ul>\n")
			inList = false
		}
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			closeList()
		case strings.HasPrefix(line, "### "):
			closeList()
			b.WriteString("<h5>" + inline(line[4:]) + "</h5>\n")
		case strings.HasPrefix(line, "## "):
			closeList()
			b.WriteString("<h4>" + inline(line[3:]) + "</h4>\n")
		case strings.HasPrefix(line, "# "):
			closeList()
			b.WriteString("<h3>" + inline(line[2:]) + "</h3>\n")
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "), strings.HasPrefix(line, "• "):
			if !inList {
				b.WriteString("<ul>\n")
				inList = true
			}
			item := strings.TrimSpace(strings.TrimLeft(line, "-*• "))
			b.WriteString("<li>" + inline(item) + "</li>\n")
		default:
			closeList()
			b.WriteString("<p>" + inline(line) + "</p>\n")
		}
	}
	closeList()

	return template.HTML(utils.SanitizeHTML(b.String()))
}

func inline(s string) string {
	return boldPattern.ReplaceAllString(html.EscapeString(s), "<strong>$1</strong>")
}
