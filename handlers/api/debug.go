package api

import (
	"strings"

	"maildossier/dossier"
	"maildossier/metadata"
	"maildossier/middleware"
	"maildossier/models"
	"maildossier/utils"

	"github.com/gofiber/fiber/v2"
)

const headerPreviewLen = 200

// DebugHandler exposes the extraction steps for troubleshooting
type DebugHandler struct {
	service   *dossier.Service
	mailboxes *Mailboxes
}

// NewDebugHandler creates a new instance of DebugHandler
func NewDebugHandler(service *dossier.Service, mailboxes *Mailboxes) *DebugHandler {
	return &DebugHandler{service: service, mailboxes: mailboxes}
}

func (h *DebugHandler) thread(c *fiber.Ctx) (string, Mail, error) {
	var req threadRequest
	if err := parseBody(c, &req); err != nil {
		return "", nil, err
	}
	id := strings.TrimSpace(req.ThreadID)
	if id == "" {
		return "", nil, utils.BadRequestError("thread_id is required", nil)
	}
	mail, err := h.mailboxes.Mail(c)
	if err != nil {
		return "", nil, err
	}
	return id, mail, nil
}

// ParticipantExtraction runs the participant extractor over one thread
func (h *DebugHandler) ParticipantExtraction(c *fiber.Ctx) error {
	id, mail, err := h.thread(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	messages, err := mail.Thread(ctx, id)
	if err != nil {
		return utils.GmailNotConfiguredError(err).WithContext("thread_id", id)
	}

	owner := middleware.UserEmail(c)
	profile, err := mail.Profile(ctx)
	if err != nil {
		utils.Log.Warn("Profile lookup failed, using session address: %v", err)
	} else if profile.Email != "" {
		owner = profile.Email
	}

	participants, stats := metadata.ExtractParticipants(messages, owner)

	headers := map[string]string{}
	if len(messages) > 0 {
		for _, hd := range messages[0].Headers {
			v := hd.Value
			if r := []rune(v); len(r) > headerPreviewLen {
				v = string(r[:headerPreviewLen]) + "..."
			}
			headers[hd.Name] = v
		}
	}

	return c.JSON(fiber.Map{
		"thread_id":          id,
		"message_count":      len(messages),
		"participants":       participants,
		"participant_count":  len(participants),
		"participant_stats":  stats,
		"participant_total":  stats.Total(),
		"gmail_user_profile": profile,
		"debug_details": fiber.Map{
			"first_message_headers": headers,
		},
	})
}

// DomainClientExtraction shows the client names derived from one thread
func (h *DebugHandler) DomainClientExtraction(c *fiber.Ctx) error {
	id, mail, err := h.thread(c)
	if err != nil {
		return err
	}

	messages, err := mail.Thread(c.UserContext(), id)
	if err != nil {
		return utils.GmailNotConfiguredError(err).WithContext("thread_id", id)
	}

	owner := middleware.UserEmail(c)
	processed := len(messages)
	if processed > 2 {
		processed = 2
	}

	return c.JSON(fiber.Map{
		"thread_id":                  id,
		"gmail_user_email":           owner,
		"domain_based_client_names":  metadata.DefaultNormalizer.ClientNamesFromMessages(messages, owner),
		"message_count":              len(messages),
		"first_two_emails_processed": processed,
	})
}

type pairDetail struct {
	First  string `json:"first"`
	Second string `json:"second"`
	models.PairScore
}

// Relevancy shows the component scores behind the grouping of several threads
func (h *DebugHandler) Relevancy(c *fiber.Ctx) error {
	var req threadsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ids := req.ids()
	if len(ids) == 0 {
		return utils.BadRequestError("thread_ids array is required", nil)
	}

	mb, err := h.mailboxes.Mailbox(c)
	if err != nil {
		return err
	}
	report, err := h.service.ProcessMetadata(c.UserContext(), mb, ids)
	if err != nil {
		return serviceError(err, "Failed to score threads")
	}

	relevancy := report.RelevancyAnalysis
	processed := report.ProcessedThreadIDs
	pairs := []pairDetail{}
	for i, first := range processed {
		for _, second := range processed[i+1:] {
			if s, ok := relevancy.RelevancyMatrix.Detail(first, second); ok {
				pairs = append(pairs, pairDetail{First: first, Second: second, PairScore: s})
			}
		}
	}

	return c.JSON(fiber.Map{
		"thread_ids":         processed,
		"pairs":              pairs,
		"relevant_groups":    len(relevancy.RelevantGroups),
		"irrelevant_threads": len(relevancy.IrrelevantThreads),
	})
}

// Ask sends a raw prompt to the analyst model
func (h *DebugHandler) Ask(c *fiber.Ctx) error {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return utils.BadRequestError("prompt is required", nil)
	}

	out, err := h.service.Ask(c.UserContext(), req.Prompt)
	if err != nil {
		return serviceError(err, "Model request failed")
	}
	return c.JSON(fiber.Map{"response": out})
}
