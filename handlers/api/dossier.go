package api

import (
	"errors"

	"maildossier/dossier"
	"maildossier/middleware"
	"maildossier/models"
	"maildossier/storage"
	"maildossier/utils"

	"github.com/gofiber/fiber/v2"
)

// DossierHandler generates dossiers and serves the caller's history
type DossierHandler struct {
	service   *dossier.Service
	mailboxes *Mailboxes
	history   *storage.DossierStorage
}

// NewDossierHandler creates a new instance of DossierHandler
func NewDossierHandler(service *dossier.Service, mailboxes *Mailboxes, history *storage.DossierStorage) *DossierHandler {
	return &DossierHandler{service: service, mailboxes: mailboxes, history: history}
}

type analysisRequest struct {
	Analysis *models.AnalysisPayload `json:"analysis"`
}

// owner identifies the caller without opening the mailbox; generation
// works from the payload alone
func (h *DossierHandler) owner(c *fiber.Ctx) dossier.Mailbox {
	owner := middleware.UserEmail(c)
	mb := dossier.Mailbox{Owner: owner}
	if h.mailboxes != nil && h.mailboxes.hub != nil {
		hub := h.mailboxes.hub
		mb.Progress = func(e models.Event) { hub.Publish(owner, e) }
	}
	return mb
}

func (h *DossierHandler) generate(c *fiber.Ctx, req dossier.Request) error {
	g, err := h.service.Generate(c.UserContext(), h.owner(c), req)
	if err != nil {
		return serviceError(err, "Failed to generate dossier")
	}
	return c.JSON(g.Response())
}

// GenerateMeeting writes the meeting flow for an analysis
func (h *DossierHandler) GenerateMeeting(c *fiber.Ctx) error {
	var req analysisRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Analysis == nil {
		return utils.BadRequestError("analysis payload is required", nil)
	}
	return h.generate(c, dossier.Request{Type: string(models.DossierMeeting), Analysis: req.Analysis})
}

// GenerateClient researches a named client
func (h *DossierHandler) GenerateClient(c *fiber.Ctx) error {
	var req dossier.Request
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.Type = string(models.DossierClient)
	return h.generate(c, req)
}

// Generate builds a dossier of the requested type, complete by default
func (h *DossierHandler) Generate(c *fiber.Ctx) error {
	var req dossier.Request
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return h.generate(c, req)
}

// ValidateClientName reports whether an analysis names a usable client
func (h *DossierHandler) ValidateClientName(c *fiber.Ctx) error {
	var req analysisRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return c.JSON(dossier.ValidateClientName(req.Analysis))
}

type dossierSummary struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Kind      models.DossierKind `json:"kind"`
	CreatedAt string             `json:"created_at"`
}

// List returns the caller's saved dossiers, newest first
func (h *DossierHandler) List(c *fiber.Ctx) error {
	dossiers, err := h.history.ListByUser(middleware.UserEmail(c))
	if err != nil {
		return utils.InternalServerError("Failed to list dossiers", err)
	}

	out := make([]dossierSummary, 0, len(dossiers))
	for _, d := range dossiers {
		out = append(out, dossierSummary{
			ID:        d.ID,
			Title:     d.Title(),
			Kind:      d.Kind,
			CreatedAt: d.CreatedAt.Format(models.DateLayout),
		})
	}
	return c.JSON(fiber.Map{"dossiers": out, "count": len(out)})
}

// Get returns one saved dossier
func (h *DossierHandler) Get(c *fiber.Ctx) error {
	d, err := h.history.Get(middleware.UserEmail(c), c.Params("id"))
	if err != nil {
		return historyError(err)
	}
	return c.JSON(d)
}

// Delete removes one saved dossier
func (h *DossierHandler) Delete(c *fiber.Ctx) error {
	if err := h.history.Delete(middleware.UserEmail(c), c.Params("id")); err != nil {
		return historyError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func historyError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return utils.NotFoundError("Dossier not found", nil)
	}
	return utils.InternalServerError("Failed to read dossier", err)
}
