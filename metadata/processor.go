package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"maildossier/gmail"
	"maildossier/models"
	"maildossier/utils"
)

// ProgressFunc receives an event for every thread processed or skipped and
// once the batch completes
type ProgressFunc func(models.Event)

// Result is the outcome of processing a batch of threads
type Result struct {
	CombinedMetadata  *models.CombinedMetadata  `json:"combined_metadata"`
	Threads           []*models.ThreadMetadata  `json:"thread_metadatas"`
	AllSubjects       []string                  `json:"all_subjects"`
	AllContent        []string                  `json:"all_content"`
	ParticipantStats  models.HeaderStats        `json:"participant_stats"`
	RelevancyAnalysis *models.RelevancyAnalysis `json:"relevancy_analysis"`
	// Messages holds every fetched message in batch order
	Messages []gmail.Message `json:"-"`
	// Processed lists the ids that were fetched successfully
	Processed []string `json:"processed_thread_ids"`
}

// Processor fetches threads one after another and aggregates their metadata
type Processor struct {
	source     gmail.Source
	owner      string
	analyzer   *Analyzer
	normalizer *Normalizer
	progress   ProgressFunc
	now        func() time.Time
}

// Option configures a Processor
type Option func(*Processor)

// WithAnalyzer replaces the default relevancy analyzer
func WithAnalyzer(a *Analyzer) Option {
	return func(p *Processor) { p.analyzer = a }
}

// WithNormalizer replaces the default domain normalizer
func WithNormalizer(n *Normalizer) Option {
	return func(p *Processor) { p.normalizer = n }
}

// WithProgress registers a progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(p *Processor) { p.progress = fn }
}

// NewProcessor creates a processor reading from source on behalf of owner
func NewProcessor(source gmail.Source, owner string, opts ...Option) *Processor {
	p := &Processor{
		source:     source,
		owner:      strings.ToLower(strings.TrimSpace(owner)),
		analyzer:   NewAnalyzer(DefaultWeights()),
		normalizer: DefaultNormalizer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles ids in order, skipping duplicates. A thread that fails to
// fetch is logged and left out; only a cancelled context aborts the batch.
func (p *Processor) Process(ctx context.Context, threadIDs []string) (*Result, error) {
	res := &Result{
		Threads:     []*models.ThreadMetadata{},
		AllSubjects: []string{},
		AllContent:  []string{},
		Processed:   []string{},
	}
	extractor := NewExtractor(p.owner)
	combined := models.ParticipantMap{}
	var allDates []time.Time

	seen := make(map[string]bool, len(threadIDs))
	for _, id := range threadIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		messages, err := p.source.Thread(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			utils.Log.WithField("thread_id", id).Warn("Skipping thread: %v", err)
			p.emit(models.EventThreadSkipped, fmt.Sprintf("Skipped thread %s", id), map[string]interface{}{
				"thread_id": id,
				"error":     err.Error(),
			})
			continue
		}

		meta := p.buildThread(id, messages, extractor)
		combined.Merge(meta.Participants)
		allDates = append(allDates, meta.Dates...)

		res.Threads = append(res.Threads, meta)
		res.AllSubjects = append(res.AllSubjects, meta.Subject)
		res.Messages = append(res.Messages, messages...)
		res.Processed = append(res.Processed, id)
		if len(messages) > 0 {
			res.AllContent = append(res.AllContent, p.threadContent(meta, messages))
		}

		utils.Log.Info("Processed thread: %s (%d messages, %d participants)",
			meta.Subject, len(messages), len(meta.Participants))
		p.emit(models.EventThreadProcessed, meta.Subject, map[string]interface{}{
			"thread_id":     id,
			"message_count": meta.MessageCount,
			"participants":  len(meta.Participants),
		})
	}

	models.SortTimes(allDates)
	res.ParticipantStats = extractor.Stats()
	res.RelevancyAnalysis = p.analyzer.Analyze(res.Threads)
	res.CombinedMetadata = combinedMetadata(res.Threads, combined, allDates)

	p.emit(models.EventBatchCompleted, fmt.Sprintf("Processed %d of %d threads", len(res.Threads), len(seen)), map[string]interface{}{
		"processed": len(res.Threads),
		"requested": len(seen),
		"groups":    len(res.RelevancyAnalysis.RelevantGroups),
	})
	return res, nil
}

func (p *Processor) buildThread(id string, messages []gmail.Message, extractor *Extractor) *models.ThreadMetadata {
	subject, sender := gmail.SubjectAndSender(messages)
	if strings.TrimSpace(subject) == "" || subject == "No Subject" {
		subject = fmt.Sprintf("Thread %s...", truncate(id, 8))
	}
	if strings.TrimSpace(sender) == "" || sender == "Unknown Sender" {
		sender = "Unknown"
	}

	meta := models.NewThreadMetadata(id, subject, sender)
	if len(messages) == 0 {
		return meta
	}

	for i := range messages {
		addMessage(meta, &messages[i])
	}
	meta.Participants = extractor.Extract(messages)
	meta.Finalize()
	return meta
}

// addMessage counts msg and records its text and date. The snippet is
// preferred; plain-text parts are used when the provider sent none.
func addMessage(meta *models.ThreadMetadata, msg *gmail.Message) {
	meta.MessageCount++

	if msg.Snippet != "" {
		meta.ContentSnippets = append(meta.ContentSnippets, msg.Snippet)
	} else {
		meta.ContentSnippets = append(meta.ContentSnippets, gmail.PlainText(msg)...)
	}

	if d, ok := msg.Date(); ok {
		meta.Dates = append(meta.Dates, d)
	}
}

func (p *Processor) threadContent(meta *models.ThreadMetadata, messages []gmail.Message) string {
	return fmt.Sprintf("=== THREAD: %s ===\n%s\n\n%s",
		meta.Subject,
		p.normalizer.CompaniesLine(messages),
		strings.Join(meta.ContentSnippets, "\n"))
}

func combinedMetadata(threads []*models.ThreadMetadata, participants models.ParticipantMap, dates []time.Time) *models.CombinedMetadata {
	c := &models.CombinedMetadata{
		ThreadCount:       len(threads),
		TotalParticipants: len(participants),
		Participants:      participants,
		Threads:           threads,
	}
	for _, t := range threads {
		c.TotalMessages += t.MessageCount
	}
	if len(dates) > 0 {
		first := dates[0].Format(models.DateLayout)
		last := dates[len(dates)-1].Format(models.DateLayout)
		c.FirstEmailDate = &first
		c.LastEmailDate = &last
		c.DateRangeDays = int(dates[len(dates)-1].Sub(dates[0]).Hours() / 24)
	}
	return c
}

func (p *Processor) emit(eventType, message string, data map[string]interface{}) {
	if p.progress == nil {
		return
	}
	p.progress(models.Event{
		Type:    eventType,
		Message: message,
		Data:    data,
		Time:    p.now(),
	})
}
