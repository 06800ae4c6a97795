package models

import (
	"sort"
	"time"
)

// DateLayout is the timestamp format used in every API payload
const DateLayout = "2006-01-02 15:04:05"

// ThreadMetadata is the per-thread view built while streaming a thread's messages
type ThreadMetadata struct {
	ThreadID        string         `json:"thread_id"`
	Subject         string         `json:"subject"`
	Sender          string         `json:"sender"`
	MessageCount    int            `json:"message_count"`
	Participants    ParticipantMap `json:"participants"`
	Dates           []time.Time    `json:"-"`
	FirstEmailDate  *string        `json:"first_email_date"`
	LastEmailDate   *string        `json:"last_email_date"`
	ContentSnippets []string       `json:"content_snippets"`
}

// NewThreadMetadata creates an empty metadata record
func NewThreadMetadata(threadID, subject, sender string) *ThreadMetadata {
	return &ThreadMetadata{
		ThreadID:        threadID,
		Subject:         subject,
		Sender:          sender,
		Participants:    ParticipantMap{},
		ContentSnippets: []string{},
	}
}

// Finalize sorts the collected dates and sets the first/last timestamps
func (t *ThreadMetadata) Finalize() {
	if len(t.Dates) == 0 {
		return
	}
	SortTimes(t.Dates)
	first := t.Dates[0].Format(DateLayout)
	last := t.Dates[len(t.Dates)-1].Format(DateLayout)
	t.FirstEmailDate = &first
	t.LastEmailDate = &last
}

// SortTimes orders ts chronologically in place
func SortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}

// CombinedMetadata aggregates a batch of threads
type CombinedMetadata struct {
	ThreadCount       int               `json:"thread_count"`
	TotalParticipants int               `json:"total_participants"`
	Participants      ParticipantMap    `json:"participants"`
	FirstEmailDate    *string           `json:"first_email_date"`
	LastEmailDate     *string           `json:"last_email_date"`
	Threads           []*ThreadMetadata `json:"threads"`
	TotalMessages     int               `json:"total_messages"`
	DateRangeDays     int               `json:"date_range_days"`
}

// ThreadSummary is one search hit returned to the thread picker
type ThreadSummary struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Body    string `json:"body"`
}
