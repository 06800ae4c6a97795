package models

import (
	"sort"

	"github.com/goccy/go-json"
)

// Role is the header position a participant was seen in
type Role string

const (
	RoleFrom      Role = "from"
	RoleTo        Role = "to"
	RoleCc        Role = "cc"
	RoleBcc       Role = "bcc"
	RoleGmailUser Role = "gmail_user"
)

// RoleSet is an unordered set of roles; it serialises as a sorted list
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from roles
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// Has reports whether r is in the set
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Sorted returns the roles in lexical order
func (s RoleSet) Sorted() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var roles []Role
	if err := json.Unmarshal(data, &roles); err != nil {
		return err
	}
	*s = NewRoleSet(roles...)
	return nil
}

// Participant is a unique email address seen in a thread header
type Participant struct {
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	Roles       RoleSet `json:"roles"`
}

// ParticipantMap is keyed by the lower-cased email address
type ParticipantMap map[string]*Participant

// Add records email in role, creating the participant on first sight.
// The display name of an existing participant is never overwritten.
func (m ParticipantMap) Add(email, displayName string, role Role) *Participant {
	p, ok := m[email]
	if !ok {
		p = &Participant{Email: email, DisplayName: displayName, Roles: RoleSet{}}
		m[email] = p
	}
	p.Roles[role] = struct{}{}
	return p
}

// Merge unions other into m. Roles of shared participants are combined;
// participants from other are copied so later mutation does not leak back.
func (m ParticipantMap) Merge(other ParticipantMap) {
	for email, p := range other {
		existing, ok := m[email]
		if !ok {
			existing = &Participant{Email: p.Email, DisplayName: p.DisplayName, Roles: RoleSet{}}
			m[email] = existing
		}
		for r := range p.Roles {
			existing.Roles[r] = struct{}{}
		}
	}
}

// Emails returns the participant keys in sorted order
func (m ParticipantMap) Emails() []string {
	out := make([]string, 0, len(m))
	for email := range m {
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

// HeaderStats counts addresses extracted per header type
type HeaderStats struct {
	From int `json:"from"`
	To   int `json:"to"`
	Cc   int `json:"cc"`
	Bcc  int `json:"bcc"`
}

// Inc bumps the counter for role
func (h *HeaderStats) Inc(role Role) {
	switch role {
	case RoleFrom:
		h.From++
	case RoleTo:
		h.To++
	case RoleCc:
		h.Cc++
	case RoleBcc:
		h.Bcc++
	}
}

// Add accumulates other into h
func (h *HeaderStats) Add(other HeaderStats) {
	h.From += other.From
	h.To += other.To
	h.Cc += other.Cc
	h.Bcc += other.Bcc
}

// Total is the number of addresses seen across all headers
func (h HeaderStats) Total() int {
	return h.From + h.To + h.Cc + h.Bcc
}
