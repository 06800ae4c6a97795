package models

import "strings"

// Fallback labels used whenever a field could not be extracted
const (
	UnknownClient  = "Unknown Client"
	UnknownProduct = "Unknown Product"
	GeneralProduct = "general product"
)

// IsUnknownClient reports whether name carries no usable client identity
func IsUnknownClient(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "unknown", "unknown client":
		return true
	}
	return false
}

// Product is a client/product pairing reported by the model
type Product struct {
	ClientName    string `json:"client_name"`
	ProductName   string `json:"product_name"`
	ProductDomain string `json:"product_domain"`
}

// AnalysisGroup is one topical group of the grouped multi-thread output
type AnalysisGroup struct {
	Title           string    `json:"title"`
	ThreadSubjects  []string  `json:"thread_subjects"`
	EmailSummaries  []string  `json:"email_summaries"`
	MeetingAgenda   []string  `json:"meeting_agenda"`
	MeetingDateTime []string  `json:"meeting_date_time"`
	FinalConclusion string    `json:"final_conclusion"`
	Products        []Product `json:"products"`
}

// GlobalSummary closes the grouped multi-thread output
type GlobalSummary struct {
	FinalConclusion string    `json:"final_conclusion"`
	Products        []Product `json:"products"`
}

// StructuredAnalysis is the normalised form of model output. Grouped output
// fills Groups/GlobalSummary; section-style output fills the flat lists.
type StructuredAnalysis struct {
	ThreadSubjects  []string        `json:"thread_subjects,omitempty"`
	EmailSummaries  []string        `json:"email_summaries,omitempty"`
	MeetingAgenda   []string        `json:"meeting_agenda,omitempty"`
	MeetingDateTime []string        `json:"meeting_date_time,omitempty"`
	FinalConclusion string          `json:"final_conclusion,omitempty"`
	Groups          []AnalysisGroup `json:"groups,omitempty"`
	GlobalSummary   *GlobalSummary  `json:"global_summary,omitempty"`
	ClientName      string          `json:"client_name"`
	ProductName     string          `json:"product_name"`
	ProductDomain   string          `json:"product_domain"`
}

// Products returns every product from the groups followed by the global summary
func (s *StructuredAnalysis) Products() []Product {
	var out []Product
	for _, g := range s.Groups {
		out = append(out, g.Products...)
	}
	if s.GlobalSummary != nil {
		out = append(out, s.GlobalSummary.Products...)
	}
	return out
}

// ThreadAnalysis is the response of a single-thread analysis
type ThreadAnalysis struct {
	Analysis               string              `json:"analysis"`
	StructuredAnalysis     *StructuredAnalysis `json:"structured_analysis"`
	ProductName            string              `json:"product_name"`
	ProductDomain          string              `json:"product_domain"`
	ThreadMetadata         *ThreadMetadata     `json:"thread_metadata"`
	DomainBasedClientNames []string            `json:"domain_based_client_names"`
	AvailableClientNames   []string            `json:"available_client_names"`
}

// MultiThreadAnalysis is the response of a grouped multi-thread analysis
type MultiThreadAnalysis struct {
	Analysis             string              `json:"analysis"`
	StructuredAnalysis   *StructuredAnalysis `json:"structured_analysis"`
	ProductName          string              `json:"product_name"`
	ProductDomain        string              `json:"product_domain"`
	ThreadCount          int                 `json:"thread_count"`
	CombinedMetadata     *CombinedMetadata   `json:"combined_metadata"`
	AvailableClientNames []string            `json:"available_client_names"`
	RelevancyAnalysis    *RelevancyAnalysis  `json:"relevancy_analysis"`
}

// MetadataReport is the response of metadata-only processing
type MetadataReport struct {
	ThreadCount          int                `json:"thread_count"`
	CombinedMetadata     *CombinedMetadata  `json:"combined_metadata"`
	AvailableClientNames []string           `json:"available_client_names"`
	ProductName          string             `json:"product_name"`
	ProductDomain        string             `json:"product_domain"`
	ProcessedThreadIDs   []string           `json:"processed_thread_ids"`
	ParticipantStats     HeaderStats        `json:"participant_stats"`
	RelevancyAnalysis    *RelevancyAnalysis `json:"relevancy_analysis"`
}

// AnalysisPayload is an earlier analysis response echoed back by the client
// when it asks for a dossier
type AnalysisPayload struct {
	Analysis           string              `json:"analysis"`
	RawAnalysis        string              `json:"raw_analysis,omitempty"`
	StructuredAnalysis *StructuredAnalysis `json:"structured_analysis,omitempty"`
	ProductName        string              `json:"product_name,omitempty"`
	ProductDomain      string              `json:"product_domain,omitempty"`
	ThreadMetadata     *ThreadMetadata     `json:"thread_metadata,omitempty"`
	CombinedMetadata   *CombinedMetadata   `json:"combined_metadata,omitempty"`
}

// Text returns the raw model output carried by the payload
func (p *AnalysisPayload) Text() string {
	if p.RawAnalysis != "" {
		return p.RawAnalysis
	}
	return p.Analysis
}
