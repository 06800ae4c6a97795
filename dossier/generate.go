package dossier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maildossier/llm"
	"maildossier/models"
	"maildossier/utils"
)

// ErrMissingAnalysis is returned when a dossier kind needs an analysis payload
var ErrMissingAnalysis = errors.New("analysis payload is required")

const (
	clientSkipped = "No valid client name provided. Client dossier generation skipped."
	clientFailed  = "Client dossier generation failed."
)

// MeetingFlow writes the meeting preparation document for an earlier
// analysis. A model failure yields a fixed skeleton, never an error.
func (s *Service) MeetingFlow(ctx context.Context, payload *models.AnalysisPayload) *models.MeetingFlow {
	name, domain := payload.ProductName, payload.ProductDomain
	if name == "" && payload.StructuredAnalysis != nil {
		name = payload.StructuredAnalysis.ProductName
		domain = payload.StructuredAnalysis.ProductDomain
	}
	if name == "" {
		name = models.UnknownProduct
	}
	if domain == "" {
		domain = models.GeneralProduct
	}

	source := llm.MeetingSource(payload)
	if llm.MetadataText(payload) == "" {
		utils.Log.Warn("Meeting flow requested without thread metadata")
	}

	flow := llm.MeetingFlowFallback
	output, err := llm.Ask(ctx, s.analyst, llm.MeetingFlowRole, llm.MeetingFlowPrompt(source))
	if err != nil {
		utils.Log.Error("Meeting flow generation failed, using skeleton: %v", err)
	} else {
		flow = llm.CleanMarkdownFormatting(output)
	}

	return &models.MeetingFlow{
		MeetingFlow:   flow,
		ProductName:   name,
		ProductDomain: domain,
	}
}

// ClientDossier researches clientName and structures the findings. Unknown
// names are refused; backend failures are reported inside the text and mark
// the dossier as failed.
func (s *Service) ClientDossier(ctx context.Context, clientName, clientDomain, clientContext string) *models.ClientDossier {
	clientName = strings.TrimSpace(clientName)
	if models.IsUnknownClient(clientName) {
		return &models.ClientDossier{Error: clientSkipped}
	}

	text, err := s.clientDossier(ctx, clientName, clientDomain, clientContext)
	if err != nil {
		utils.Log.WithField("client", clientName).Error("Client dossier failed: %v", err)
		return &models.ClientDossier{
			ClientDossier: fmt.Sprintf("# Client Dossier: %s\n\nError generating client dossier: %v\n\n"+
				"Please check your Perplexity API key configuration.", clientName, err),
			Failed: true,
		}
	}
	return &models.ClientDossier{ClientDossier: text}
}

func (s *Service) clientDossier(ctx context.Context, clientName, clientDomain, clientContext string) (string, error) {
	research, err := s.research.Complete(ctx, llm.ClientResearchPrompt(clientName))
	if err != nil {
		return "", fmt.Errorf("research: %w", err)
	}
	research = llm.StripReasoning(research)
	return llm.Ask(ctx, s.analyst,
		llm.ClientResearchRole(clientName, clientDomain),
		llm.ClientDossierPrompt(clientName, research, clientContext))
}

// ExtractClientName reads the client from the structured analysis, falling
// back to a "Client Name:" line in the raw text
func ExtractClientName(payload *models.AnalysisPayload) string {
	if payload == nil {
		return ""
	}
	var name string
	if payload.StructuredAnalysis != nil {
		name = payload.StructuredAnalysis.ClientName
	}
	if models.IsUnknownClient(name) {
		if fromText := llm.ClientNameFromText(payload.Text()); fromText != "" {
			name = fromText
		}
	}
	return name
}

// ValidateClientName reports whether payload names a client worth researching
func ValidateClientName(payload *models.AnalysisPayload) models.ClientNameValidation {
	if payload == nil {
		return models.ClientNameValidation{Reason: "No analysis payload provided"}
	}

	name := ExtractClientName(payload)
	v := models.ClientNameValidation{ClientName: name}
	switch lower := strings.ToLower(strings.TrimSpace(name)); {
	case lower == "":
		v.Reason = "No client name found in analysis"
	case lower == "unknown" || lower == "unknown client":
		v.Reason = "Client name is marked as unknown"
	default:
		v.Valid = true
		v.Reason = "Valid client name found"
	}
	return v
}

// CompleteDossier always writes the meeting flow and adds the client
// dossier when asked and a client can be named
func (s *Service) CompleteDossier(ctx context.Context, payload *models.AnalysisPayload, includeClient bool, clientContext string) *models.CompleteDossier {
	out := &models.CompleteDossier{MeetingFlow: *s.MeetingFlow(ctx, payload)}
	if !includeClient {
		return out
	}

	name := ExtractClientName(payload)
	if models.IsUnknownClient(name) {
		out.ClientDossierError = "No valid client name found in analysis. Client dossier generation skipped."
		return out
	}

	client := s.ClientDossier(ctx, name, "", clientContext)
	out.ClientDossier = client.ClientDossier
	switch {
	case client.Error != "":
		out.ClientDossierError = client.Error
	case client.Failed:
		out.ClientDossierError = clientFailed
	}
	return out
}

// Request selects and parameterises a dossier
type Request struct {
	Type          string                  `json:"type"`
	Analysis      *models.AnalysisPayload `json:"analysis"`
	IncludeClient bool                    `json:"include_client"`
	ClientName    string                  `json:"client_name"`
	ClientDomain  string                  `json:"client_domain"`
	ClientContext string                  `json:"client_context"`
}

// Generated is the outcome of Generate; exactly one of the documents is set
type Generated struct {
	Kind     models.DossierKind
	Meeting  *models.MeetingFlow
	Client   *models.ClientDossier
	Complete *models.CompleteDossier
	Dossier  *models.Dossier
}

// Response is the document to send back to the caller
func (g *Generated) Response() interface{} {
	switch g.Kind {
	case models.DossierMeeting:
		return g.Meeting
	case models.DossierClient:
		return g.Client
	default:
		return g.Complete
	}
}

// Generate builds the requested dossier for mb's owner and records it in
// the history
func (s *Service) Generate(ctx context.Context, mb Mailbox, req Request) (*Generated, error) {
	g := &Generated{Kind: models.ParseDossierKind(req.Type)}
	d := &models.Dossier{UserEmail: mb.Owner, Kind: g.Kind}

	switch g.Kind {
	case models.DossierMeeting:
		if req.Analysis == nil {
			return nil, ErrMissingAnalysis
		}
		g.Meeting = s.MeetingFlow(ctx, req.Analysis)
		d.ClientName = ExtractClientName(req.Analysis)
		d.ProductName, d.ProductDomain = g.Meeting.ProductName, g.Meeting.ProductDomain
		d.MeetingFlow = g.Meeting.MeetingFlow

	case models.DossierClient:
		g.Client = s.ClientDossier(ctx, req.ClientName, req.ClientDomain, req.ClientContext)
		if g.Client.Error != "" || g.Client.Failed {
			return g, nil
		}
		d.ClientName = strings.TrimSpace(req.ClientName)
		d.ClientDossier = g.Client.ClientDossier

	default:
		if req.Analysis == nil {
			return nil, ErrMissingAnalysis
		}
		g.Complete = s.CompleteDossier(ctx, req.Analysis, req.IncludeClient, req.ClientContext)
		d.ClientName = ExtractClientName(req.Analysis)
		d.ProductName, d.ProductDomain = g.Complete.ProductName, g.Complete.ProductDomain
		d.MeetingFlow = g.Complete.MeetingFlow.MeetingFlow
		d.ClientDossierError = g.Complete.ClientDossierError
		if d.ClientDossierError == "" {
			d.ClientDossier = g.Complete.ClientDossier
		}
	}

	if err := s.save(mb, d); err != nil {
		return nil, err
	}
	g.Dossier = d
	switch {
	case g.Meeting != nil:
		g.Meeting.DossierID = d.ID
	case g.Client != nil:
		g.Client.DossierID = d.ID
	case g.Complete != nil:
		g.Complete.DossierID = d.ID
	}
	return g, nil
}

func (s *Service) save(mb Mailbox, d *models.Dossier) error {
	if s.store == nil || d.UserEmail == "" {
		return nil
	}
	if err := s.store.Save(d); err != nil {
		return fmt.Errorf("save dossier: %w", err)
	}
	utils.Log.WithField("dossier_id", d.ID).Info("Saved %s dossier for %s", d.Kind, d.UserEmail)
	if mb.Progress != nil {
		mb.Progress(models.Event{
			Type:    models.EventDossierSaved,
			Message: d.Title(),
			Data:    map[string]interface{}{"dossier_id": d.ID, "kind": string(d.Kind)},
			Time:    s.now(),
		})
	}
	return nil
}
