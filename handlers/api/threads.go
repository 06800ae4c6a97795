package api

import (
	"strings"

	"maildossier/dossier"
	"maildossier/gmail"
	"maildossier/utils"

	"github.com/gofiber/fiber/v2"
)

// ThreadHandler searches and analyses the caller's threads
type ThreadHandler struct {
	service   *dossier.Service
	mailboxes *Mailboxes
}

// NewThreadHandler creates a new instance of ThreadHandler
func NewThreadHandler(service *dossier.Service, mailboxes *Mailboxes) *ThreadHandler {
	return &ThreadHandler{service: service, mailboxes: mailboxes}
}

type threadRequest struct {
	ThreadID string `json:"thread_id"`
}

type threadsRequest struct {
	ThreadIDs []string `json:"thread_ids"`
}

func (r threadsRequest) ids() []string {
	ids := make([]string, 0, len(r.ThreadIDs))
	for _, id := range r.ThreadIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (h *ThreadHandler) threadIDs(c *fiber.Ctx) ([]string, error) {
	var req threadsRequest
	if err := parseBody(c, &req); err != nil {
		return nil, err
	}
	ids := req.ids()
	if len(ids) == 0 {
		return nil, utils.BadRequestError("thread_ids array is required", nil)
	}
	return ids, nil
}

// FindThreads lists the threads matching the search filters
func (h *ThreadHandler) FindThreads(c *fiber.Ctx) error {
	var params gmail.SearchParams
	if err := parseBody(c, &params); err != nil {
		return err
	}

	mb, err := h.mailboxes.Mailbox(c)
	if err != nil {
		return err
	}

	threads, err := h.service.FindThreads(c.UserContext(), mb, params)
	if err != nil {
		return serviceError(err, "Failed to search threads")
	}
	return c.JSON(threads)
}

// AnalyzeThread analyses one thread
func (h *ThreadHandler) AnalyzeThread(c *fiber.Ctx) error {
	var req threadRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	id := strings.TrimSpace(req.ThreadID)
	if id == "" {
		return utils.BadRequestError("thread_id is required", nil)
	}

	mb, err := h.mailboxes.Mailbox(c)
	if err != nil {
		return err
	}

	res, err := h.service.AnalyzeThread(c.UserContext(), mb, id)
	if err != nil {
		return serviceError(err, "Failed to analyze thread").WithContext("thread_id", id)
	}
	return c.JSON(res)
}

// ProcessMetadata extracts participants and relevancy without the model
func (h *ThreadHandler) ProcessMetadata(c *fiber.Ctx) error {
	ids, err := h.threadIDs(c)
	if err != nil {
		return err
	}
	mb, err := h.mailboxes.Mailbox(c)
	if err != nil {
		return err
	}

	res, err := h.service.ProcessMetadata(c.UserContext(), mb, ids)
	if err != nil {
		return serviceError(err, "Failed to process thread metadata")
	}
	return c.JSON(res)
}

// AnalyzeMultipleThreads groups several threads by topic
func (h *ThreadHandler) AnalyzeMultipleThreads(c *fiber.Ctx) error {
	ids, err := h.threadIDs(c)
	if err != nil {
		return err
	}
	mb, err := h.mailboxes.Mailbox(c)
	if err != nil {
		return err
	}

	res, err := h.service.AnalyzeThreads(c.UserContext(), mb, ids)
	if err != nil {
		return serviceError(err, "Failed to analyze threads")
	}
	return c.JSON(res)
}
