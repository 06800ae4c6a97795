package dossier

import (
	"context"
	"fmt"
	"strings"

	"maildossier/gmail"
	"maildossier/llm"
	"maildossier/models"
	"maildossier/utils"
)

// FindThreads runs the mailbox search and describes each hit. With a keyword
// and DeepScan set, threads the provider's search missed are added when their
// text or address headers contain the keyword (or one of its aliases when
// alias expansion is on).
func (s *Service) FindThreads(ctx context.Context, mb Mailbox, p gmail.SearchParams) ([]models.ThreadSummary, error) {
	q := gmail.BuildSearchQuery(p, s.search.StrictMatch)
	ids, err := mb.Lister.ListThreads(ctx, q, gmail.IncludeSpamTrash(q), int(s.search.MaxThreads))
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}
	utils.Log.Debug("Search %q matched %d threads", q, len(ids))

	found := make(map[string]bool, len(ids))
	results := []models.ThreadSummary{}
	for _, id := range ids {
		if found[id] {
			continue
		}
		messages, err := mb.Source.Thread(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			utils.Log.WithField("thread_id", id).Warn("Skipping search hit: %v", err)
			continue
		}
		found[id] = true
		results = append(results, summarize(id, messages))
	}

	keyword := strings.TrimSpace(p.Keyword)
	if keyword == "" || !p.DeepScan {
		return results, nil
	}

	terms := []string{keyword}
	if s.search.ExpandAliases {
		terms = s.ExpandAliases(ctx, keyword)
	}
	extra, err := s.deepScan(ctx, mb, p, terms, found)
	if err != nil {
		return nil, err
	}
	utils.Log.Info("Deep scan for %q added %d threads", keyword, len(extra))
	return append(results, extra...), nil
}

func (s *Service) deepScan(ctx context.Context, mb Mailbox, p gmail.SearchParams, terms []string, found map[string]bool) ([]models.ThreadSummary, error) {
	broad := gmail.BroadQuery(p, s.search.DeepScanInAnywhere)
	candidates, err := mb.Lister.ListThreads(ctx, broad, false, s.search.DeepScanCandidates)
	if err != nil {
		return nil, fmt.Errorf("deep scan %q: %w", broad, err)
	}

	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}

	var extra []models.ThreadSummary
	checked := 0
	for _, id := range candidates {
		if s.search.DeepScanMaxChecks > 0 && checked >= s.search.DeepScanMaxChecks {
			break
		}
		if id == "" || found[id] {
			continue
		}
		checked++

		messages, err := mb.Source.Thread(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if len(messages) == 0 || !containsAny(threadText(messages), lowered) {
			continue
		}
		found[id] = true
		extra = append(extra, summarize(id, messages))
	}
	return extra, nil
}

// threadText joins the readable text and address headers of every message,
// lower-cased
func threadText(messages []gmail.Message) string {
	var parts []string
	for i := range messages {
		if t := gmail.Text(&messages[i]); t != "" {
			parts = append(parts, t)
		}
		for _, h := range messages[i].Headers {
			switch strings.ToLower(h.Name) {
			case "from", "to", "cc", "bcc":
				if h.Value != "" {
					parts = append(parts, h.Value)
				}
			}
		}
	}
	return strings.ToLower(strings.Join(parts, "\n"))
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func summarize(id string, messages []gmail.Message) models.ThreadSummary {
	subject, sender := gmail.SubjectAndSender(messages)
	var snippet string
	if len(messages) > 0 {
		snippet = messages[0].Snippet
		if snippet == "" {
			if plain := gmail.PlainText(&messages[0]); len(plain) > 0 {
				snippet = plain[0]
			}
		}
	}

	summary := models.ThreadSummary{
		ID:      id,
		Subject: subject,
		Sender:  sender,
		Body:    strings.TrimSpace(subject + "\n" + snippet),
	}
	if summary.Subject == "" {
		summary.Subject = "No Subject"
	}
	if summary.Sender == "" {
		summary.Sender = "Unknown Sender"
	}
	return summary
}

// ExpandAliases asks the model for informal names of keyword and returns
// them with their spelling variants. Without a model only the spelling
// variants of keyword itself are returned.
func (s *Service) ExpandAliases(ctx context.Context, keyword string) []string {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil
	}

	var aliases []string
	raw, err := s.analyst.Complete(ctx, llm.AliasPrompt(keyword))
	if err != nil {
		utils.Log.Warn("Alias expansion for %q failed: %v", keyword, err)
	} else {
		aliases = llm.ParseAliases(raw)
	}
	return llm.AliasVariants(keyword, aliases)
}
