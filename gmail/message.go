package gmail

import (
	"net/mail"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"
)

// LabelSent marks messages sent from the mailbox owner's account
const LabelSent = "SENT"

// Header is a single message header
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is a provider message with its MIME tree converted to Part
type Message struct {
	ID       string
	ThreadID string
	Snippet  string
	LabelIDs []string
	Headers  []Header
	Payload  Part
}

// FromAPI converts a Gmail API message
func FromAPI(m *gmailapi.Message) Message {
	msg := Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Snippet:  m.Snippet,
		LabelIDs: m.LabelIds,
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			if h == nil {
				continue
			}
			msg.Headers = append(msg.Headers, Header{Name: h.Name, Value: h.Value})
		}
		msg.Payload = convertPart(m.Payload)
	}
	return msg
}

// Header returns the first value of the named header (case-insensitive)
func (m *Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// HasLabel reports whether the message carries label
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.LabelIDs {
		if l == label {
			return true
		}
	}
	return false
}

// Date parses the message's Date header
func (m *Message) Date() (time.Time, bool) {
	v, ok := m.Header("Date")
	if !ok || strings.TrimSpace(v) == "" {
		return time.Time{}, false
	}
	t, err := ParseDate(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var dateLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

// ParseDate parses an RFC 5322 date, falling back to the layouts seen in
// real mail when the strict parser gives up
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	t, err := mail.ParseDate(v)
	if err == nil {
		return t, nil
	}

	// Drop a trailing comment such as "(UTC)"
	stripped := v
	if open := strings.LastIndex(stripped, " ("); open != -1 {
		if end := strings.LastIndex(stripped, ")"); end > open {
			stripped = strings.TrimSpace(stripped[:open] + stripped[end+1:])
		}
	}
	for _, layout := range dateLayouts {
		for _, candidate := range []string{v, stripped} {
			if parsed, perr := time.Parse(layout, candidate); perr == nil {
				return parsed, nil
			}
		}
	}
	return time.Time{}, err
}
