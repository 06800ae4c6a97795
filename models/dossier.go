package models

import "time"

// DossierKind selects which sections a dossier request generates
type DossierKind string

const (
	DossierComplete DossierKind = "complete"
	DossierMeeting  DossierKind = "meeting"
	DossierClient   DossierKind = "client"
)

// ParseDossierKind maps a request value to a kind; anything unknown means complete
func ParseDossierKind(s string) DossierKind {
	switch DossierKind(s) {
	case DossierMeeting, DossierClient:
		return DossierKind(s)
	default:
		return DossierComplete
	}
}

// MeetingFlow is the forward-looking meeting preparation document
type MeetingFlow struct {
	DossierID     string `json:"dossier_id,omitempty"`
	MeetingFlow   string `json:"meeting_flow"`
	ProductName   string `json:"product_name"`
	ProductDomain string `json:"product_domain"`
}

// ClientDossier is the researched client profile
type ClientDossier struct {
	DossierID     string `json:"dossier_id,omitempty"`
	ClientDossier string `json:"client_dossier"`
	Error         string `json:"error,omitempty"`
	// Failed marks a document whose text only describes a backend failure
	Failed bool `json:"-"`
}

// CompleteDossier bundles the meeting flow with an optional client dossier
type CompleteDossier struct {
	MeetingFlow
	ClientDossier      string `json:"client_dossier,omitempty"`
	ClientDossierError string `json:"client_dossier_error,omitempty"`
}

// ClientNameValidation reports whether a payload names a usable client
type ClientNameValidation struct {
	Valid      bool   `json:"valid"`
	ClientName string `json:"client_name"`
	Reason     string `json:"reason"`
}

// Dossier is a generated document persisted in the user's history
type Dossier struct {
	ID                 string      `json:"id"`
	UserEmail          string      `json:"user_email"`
	Kind               DossierKind `json:"kind"`
	ClientName         string      `json:"client_name,omitempty"`
	ProductName        string      `json:"product_name,omitempty"`
	ProductDomain      string      `json:"product_domain,omitempty"`
	MeetingFlow        string      `json:"meeting_flow,omitempty"`
	ClientDossier      string      `json:"client_dossier,omitempty"`
	ClientDossierError string      `json:"client_dossier_error,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

// Title is a short human label for listings
func (d *Dossier) Title() string {
	switch {
	case d.ClientName != "" && !IsUnknownClient(d.ClientName):
		return d.ClientName
	case d.ProductName != "" && d.ProductName != UnknownProduct:
		return d.ProductName
	default:
		return "Dossier " + d.CreatedAt.Format(DateLayout)
	}
}
