package gmail

import (
	"context"
	"errors"
	"fmt"

	"maildossier/models"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const user = "me"

// maxPageSize is the largest page the threads.list endpoint accepts
const maxPageSize = 500

// Source is anything that can return the messages of a thread
type Source interface {
	Thread(ctx context.Context, threadID string) ([]Message, error)
}

// Client is a read-only Gmail API client bound to one user's credentials
type Client struct {
	srv *gmailapi.Service
}

// NewClient creates a client. Pass option.WithTokenSource (or WithHTTPClient)
// carrying the user's OAuth credentials.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	srv, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return &Client{srv: srv}, nil
}

// Thread fetches every message of a thread with full payloads
func (c *Client) Thread(ctx context.Context, threadID string) ([]Message, error) {
	thread, err := c.srv.Users.Threads.Get(user, threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", threadID, err)
	}

	messages := make([]Message, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		if m == nil {
			continue
		}
		messages = append(messages, FromAPI(m))
	}
	return messages, nil
}

var errPageLimit = errors.New("page limit reached")

// ListThreads returns the ids of threads matching query, following
// pagination until limit ids are collected (limit <= 0 means no limit)
func (c *Client) ListThreads(ctx context.Context, query string, includeSpamTrash bool, limit int) ([]string, error) {
	pageSize := int64(100)
	if limit > 0 && limit < int(pageSize) {
		pageSize = int64(limit)
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var ids []string
	call := c.srv.Users.Threads.List(user).
		Q(query).
		IncludeSpamTrash(includeSpamTrash).
		MaxResults(pageSize)

	err := call.Pages(ctx, func(resp *gmailapi.ListThreadsResponse) error {
		for _, t := range resp.Threads {
			if t == nil || t.Id == "" {
				continue
			}
			ids = append(ids, t.Id)
			if limit > 0 && len(ids) >= limit {
				return errPageLimit
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errPageLimit) {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return ids, nil
}

// Profile returns the mailbox owner's profile
func (c *Client) Profile(ctx context.Context) (*models.UserProfile, error) {
	p, err := c.srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &models.UserProfile{
		Email:         p.EmailAddress,
		MessagesTotal: p.MessagesTotal,
		ThreadsTotal:  p.ThreadsTotal,
	}, nil
}

// SubjectAndSender reads the Subject and From headers of the first message
func SubjectAndSender(messages []Message) (subject, sender string) {
	if len(messages) == 0 {
		return "", ""
	}
	subject, _ = messages[0].Header("Subject")
	sender, _ = messages[0].Header("From")
	return subject, sender
}
