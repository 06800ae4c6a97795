package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"maildossier/dossier"
	"maildossier/gmail"
	"maildossier/llm"
	"maildossier/middleware"
	"maildossier/models"
	"maildossier/utils"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// Mail is a signed-in user's mailbox
type Mail interface {
	gmail.Source
	dossier.ThreadLister
	Profile(ctx context.Context) (*models.UserProfile, error)
}

// MailOpener connects to the mailbox behind a sealed OAuth token
type MailOpener func(ctx context.Context, sealedToken string) (Mail, error)

// GmailOpener opens Gmail with the session's refreshed OAuth token
func GmailOpener(oauth *gmail.OAuth, sealer *utils.Sealer) MailOpener {
	return func(ctx context.Context, sealed string) (Mail, error) {
		tok, err := openToken(sealer, sealed)
		if err != nil {
			return nil, err
		}
		// the token source outlives the request
		client, err := gmail.NewClient(ctx, option.WithTokenSource(oauth.TokenSource(context.Background(), tok)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func sealToken(sealer *utils.Sealer, tok *oauth2.Token) (string, error) {
	data, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return sealer.Seal(string(data))
}

func openToken(sealer *utils.Sealer, sealed string) (*oauth2.Token, error) {
	if sealed == "" {
		return nil, errors.New("no credentials in session")
	}
	plain, err := sealer.Open(sealed)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(plain), &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

// Mailboxes builds the per-request view of the caller's mail
type Mailboxes struct {
	store *session.Store
	open  MailOpener
	cache *utils.MemoryCache
	ttl   time.Duration
	hub   *ProgressHub
}

// NewMailboxes creates the factory. Fetched threads are cached for ttl and
// processing progress is published to hub.
func NewMailboxes(store *session.Store, open MailOpener, cache *utils.MemoryCache, ttl time.Duration, hub *ProgressHub) *Mailboxes {
	return &Mailboxes{store: store, open: open, cache: cache, ttl: ttl, hub: hub}
}

// Mail opens the raw mailbox of the signed-in user
func (m *Mailboxes) Mail(c *fiber.Ctx) (Mail, error) {
	sess, err := m.store.Get(c)
	if err != nil {
		return nil, utils.InternalServerError("Session error", err)
	}
	sealed, _ := sess.Get(middleware.SessionToken).(string)
	mail, err := m.open(c.UserContext(), sealed)
	if err != nil {
		utils.Log.WithField("user", middleware.UserEmail(c)).Warn("Unable to open mailbox: %v", err)
		return nil, utils.GmailNotConfiguredError(err)
	}
	return mail, nil
}

// Mailbox wires the signed-in user's mail for the dossier service
func (m *Mailboxes) Mailbox(c *fiber.Ctx) (dossier.Mailbox, error) {
	mail, err := m.Mail(c)
	if err != nil {
		return dossier.Mailbox{}, err
	}

	owner := middleware.UserEmail(c)
	mb := dossier.Mailbox{
		Owner:  owner,
		Source: gmail.NewCachedSource(mail, m.cache, owner, m.ttl),
		Lister: mail,
	}
	if m.hub != nil {
		mb.Progress = func(e models.Event) { m.hub.Publish(owner, e) }
	}
	return mb, nil
}

// serviceError maps dossier and model failures to HTTP errors
func serviceError(err error, message string) *utils.AppError {
	switch {
	case errors.Is(err, dossier.ErrNoThreads):
		return utils.BadRequestError("No valid threads could be fetched", err)
	case errors.Is(err, dossier.ErrMissingAnalysis):
		return utils.BadRequestError("analysis payload is required", nil)
	case errors.Is(err, llm.ErrNotConfigured):
		return utils.NewAppError(fiber.StatusServiceUnavailable, "Language model is not configured", err).
			WithKind(utils.CodeLLMNotConfigured)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return utils.NewAppError(fiber.StatusRequestTimeout, "Request cancelled", err)
	default:
		return utils.InternalServerError(message, err)
	}
}

// parseBody decodes the JSON body into v; an empty body leaves v untouched
func parseBody(c *fiber.Ctx, v interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return utils.BadRequestError("Invalid request body", err)
	}
	return nil
}
