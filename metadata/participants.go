package metadata

import (
	"regexp"
	"strings"

	"maildossier/gmail"
	"maildossier/models"
)

var (
	// addressPattern matches "Name <addr>" or a bare addr
	addressPattern = regexp.MustCompile(`<([^>]+)>|([^\s<>]+@[^\s<>]+)`)
	anglePattern   = regexp.MustCompile(`<[^>]+>`)
)

// headerRoles maps the address headers we read to participant roles
var headerRoles = map[string]models.Role{
	"from": models.RoleFrom,
	"to":   models.RoleTo,
	"cc":   models.RoleCc,
	"bcc":  models.RoleBcc,
}

// ParseAddress extracts the lower-cased address and a display name from one
// comma-separated entry of an address header. ok is false for entries that
// carry no usable address.
func ParseAddress(entry string) (email, displayName string, ok bool) {
	entry = strings.TrimSpace(entry)
	if !strings.Contains(entry, "@") {
		return "", "", false
	}

	m := addressPattern.FindStringSubmatch(entry)
	if m == nil {
		return "", "", false
	}
	email = m[1]
	if email == "" {
		email = m[2]
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return "", "", false
	}

	displayName = strings.TrimSpace(anglePattern.ReplaceAllString(entry, ""))
	displayName = strings.Trim(displayName, `"'`)
	if displayName == "" || displayName == email {
		displayName = DisplayNameFromEmail(email)
	}
	return email, displayName, true
}

// DisplayNameFromEmail humanises the local part: "john.doe" and "john_doe"
// become "John Doe", "jsmith" becomes "Jsmith"
func DisplayNameFromEmail(email string) string {
	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}

	sep := ""
	switch {
	case strings.Contains(local, "."):
		sep = "."
	case strings.Contains(local, "_"):
		sep = "_"
	default:
		return capitalize(local)
	}

	var parts []string
	for _, p := range strings.Split(local, sep) {
		if p != "" {
			parts = append(parts, capitalize(p))
		}
	}
	return strings.Join(parts, " ")
}

// Extractor builds participant maps from message headers. Header counts
// accumulate across every Extract call.
type Extractor struct {
	owner string
	stats models.HeaderStats
}

// NewExtractor creates an extractor. owner is the mailbox owner's address;
// when empty it is guessed per thread from sent messages.
func NewExtractor(owner string) *Extractor {
	return &Extractor{owner: strings.ToLower(strings.TrimSpace(owner))}
}

// Stats returns the header counts seen so far
func (e *Extractor) Stats() models.HeaderStats {
	return e.stats
}

// Extract returns the participants of one thread. Malformed entries are
// skipped. The mailbox owner is always present, with role gmail_user when
// they did not appear in any header.
func (e *Extractor) Extract(messages []gmail.Message) models.ParticipantMap {
	participants := models.ParticipantMap{}

	for i := range messages {
		for _, h := range messages[i].Headers {
			role, ok := headerRoles[strings.ToLower(h.Name)]
			if !ok {
				continue
			}
			e.stats.Inc(role)
			addHeaderValue(participants, h.Value, role)
		}
	}

	owner := e.owner
	if owner == "" {
		owner = OwnerFromMessages(messages)
	}
	if owner != "" {
		if _, exists := participants[owner]; !exists {
			participants.Add(owner, DisplayNameFromEmail(owner), models.RoleGmailUser)
		}
	}
	return participants
}

func addHeaderValue(participants models.ParticipantMap, value string, role models.Role) {
	if value == "" {
		return
	}
	for _, entry := range strings.Split(value, ",") {
		email, name, ok := ParseAddress(entry)
		if !ok {
			continue
		}
		participants.Add(email, name, role)
	}
}

// ExtractParticipants is a one-shot Extract returning the header counts too
func ExtractParticipants(messages []gmail.Message, owner string) (models.ParticipantMap, models.HeaderStats) {
	e := NewExtractor(owner)
	participants := e.Extract(messages)
	return participants, e.Stats()
}

// OwnerFromMessages returns the sender of the first message carrying the
// SENT label, or "" when the owner never wrote in the thread
func OwnerFromMessages(messages []gmail.Message) string {
	for i := range messages {
		if !messages[i].HasLabel(gmail.LabelSent) {
			continue
		}
		from, ok := messages[i].Header("From")
		if !ok {
			continue
		}
		if email, _, ok := ParseAddress(from); ok {
			return email
		}
	}
	return ""
}
