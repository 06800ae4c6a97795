package dossier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maildossier/config"
	"maildossier/gmail"
	"maildossier/llm"
	"maildossier/models"
)

const owner = "owner@mycorp.com"

func msg(snippet string, headers ...string) gmail.Message {
	m := gmail.Message{Snippet: snippet}
	for i := 0; i+1 < len(headers); i += 2 {
		m.Headers = append(m.Headers, gmail.Header{Name: headers[i], Value: headers[i+1]})
	}
	return m
}

type fakeMail struct {
	threads map[string][]gmail.Message
	queries map[string][]string
	listed  []string
}

func (f *fakeMail) Thread(_ context.Context, id string) ([]gmail.Message, error) {
	m, ok := f.threads[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (f *fakeMail) ListThreads(_ context.Context, query string, _ bool, limit int) ([]string, error) {
	f.listed = append(f.listed, query)
	ids := f.queries[query]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeMail) mailbox() Mailbox {
	return Mailbox{Owner: owner, Source: f, Lister: f}
}

type fakeLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.reply == nil {
		return "", errors.New("unexpected model call")
	}
	return f.reply(prompt)
}

func answer(s string) *fakeLLM {
	return &fakeLLM{reply: func(string) (string, error) { return s, nil }}
}

func failing() *fakeLLM {
	return &fakeLLM{reply: func(string) (string, error) { return "", llm.ErrNotConfigured }}
}

func sampleMail() *fakeMail {
	return &fakeMail{threads: map[string][]gmail.Message{
		"t1": {
			msg("Can we lock the rollout plan for Friday?",
				"Subject", "Rollout", "From", "Ann <ann@acme.com>", "To", owner,
				"Date", "Mon, 3 Mar 2025 09:00:00 +0000"),
			msg("Friday works, legal review pending",
				"From", owner, "To", "ann@acme.com", "Cc", "legal@acme.com",
				"Date", "Tue, 4 Mar 2025 10:00:00 +0000"),
		},
		"t2": {
			msg("Invoice for February attached",
				"Subject", "Invoice", "From", "billing@globex.io", "To", owner,
				"Date", "Wed, 5 Mar 2025 11:00:00 +0000"),
		},
	}}
}

const sectionOutput = `**Email Summaries:**
- Ann asks to lock the rollout plan
- Owner confirms Friday

**Meeting Agenda:**
- Rollout timeline

**Meeting Date & Time:**
- Friday

**Final Conclusion:**
Rollout on Friday after legal review.

**Client Name:** Unknown Client
**Product Name:** Rocket
**Product Domain:** logistics`

func TestAnalyzeThreadPrefersDomainClient(t *testing.T) {
	mail := sampleMail()
	model := answer(sectionOutput)
	s := NewService(model, failing())

	res, err := s.AnalyzeThread(context.Background(), mail.mailbox(), "t1")
	require.NoError(t, err)

	assert.Equal(t, "Acme", res.StructuredAnalysis.ClientName)
	assert.Equal(t, []string{"Acme"}, res.DomainBasedClientNames)
	assert.Equal(t, "Rocket", res.ProductName)
	assert.Equal(t, "logistics", res.ProductDomain)
	assert.Equal(t, 2, res.ThreadMetadata.MessageCount)
	assert.Equal(t, []string{"Rollout timeline"}, res.StructuredAnalysis.MeetingAgenda)

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "Subject: Rollout\nCan we lock the rollout plan for Friday?\nFriday works")
	assert.True(t, strings.HasPrefix(model.prompts[0], llm.AnalystRole))
}

func TestAnalyzeThreadErrors(t *testing.T) {
	s := NewService(answer(sectionOutput), failing())
	_, err := s.AnalyzeThread(context.Background(), sampleMail().mailbox(), "missing")
	assert.ErrorIs(t, err, ErrNoThreads)

	s = NewService(failing(), failing())
	_, err = s.AnalyzeThread(context.Background(), sampleMail().mailbox(), "t1")
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}

func TestAnalyzeThreadsGrouped(t *testing.T) {
	grouped := `{"groups":[{"title":"Rollout","thread_subjects":["Rollout"],"products":[{"client_name":"Acme","product_name":"Rocket","product_domain":"logistics"}]}],"global_summary":{"final_conclusion":"ok"}}`
	model := answer("```json\n" + grouped + "\n```")
	s := NewService(model, failing())

	res, err := s.AnalyzeThreads(context.Background(), sampleMail().mailbox(), []string{"t1", "t2", "t1"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.ThreadCount)
	assert.Equal(t, "Rocket", res.ProductName)
	assert.Equal(t, "logistics", res.ProductDomain)
	require.Len(t, res.StructuredAnalysis.Groups, 1)
	assert.Equal(t, "Acme", res.StructuredAnalysis.ClientName)
	require.NotNil(t, res.RelevancyAnalysis)
	assert.Equal(t, 2, res.CombinedMetadata.ThreadCount)
	assert.Equal(t, 3, res.CombinedMetadata.TotalMessages)

	require.Len(t, model.prompts, 1)
	p := model.prompts[0]
	assert.Contains(t, p, "You are given 2 email threads")
	assert.Contains(t, p, "=== THREAD: Rollout ===\nEmail Participants' Companies (from metadata): Acme, Mycorp")
	assert.Contains(t, p, "- Invoice\n")
}

func TestProcessMetadataMakesNoModelCalls(t *testing.T) {
	model := &fakeLLM{}
	var events []models.Event
	mb := sampleMail().mailbox()
	mb.Progress = func(e models.Event) { events = append(events, e) }

	res, err := NewService(model, model).ProcessMetadata(context.Background(), mb, []string{"t1", "nope", "t2"})
	require.NoError(t, err)
	assert.Empty(t, model.prompts)

	assert.Equal(t, []string{"t1", "t2"}, res.ProcessedThreadIDs)
	assert.Equal(t, 2, res.ThreadCount)
	assert.Equal(t, models.UnknownProduct, res.ProductName)
	assert.Equal(t, []string{"Acme"}, res.AvailableClientNames)
	assert.True(t, res.CombinedMetadata.Participants[owner].Roles.Has(models.RoleFrom))
	assert.Len(t, events, 4)

	_, err = NewService(model, model).ProcessMetadata(context.Background(), mb, []string{"nope"})
	assert.ErrorIs(t, err, ErrNoThreads)
}

func TestMeetingFlow(t *testing.T) {
	first := "2025-03-03 09:00:00"
	payload := &models.AnalysisPayload{
		Analysis:           sectionOutput,
		StructuredAnalysis: &models.StructuredAnalysis{ProductName: "Rocket", ProductDomain: "logistics"},
		ThreadMetadata:     &models.ThreadMetadata{ThreadID: "t1", Subject: "Rollout", FirstEmailDate: &first},
	}

	model := answer("## meeting objectives\n- **Lock** the plan")
	flow := NewService(model, failing()).MeetingFlow(context.Background(), payload)
	assert.Equal(t, "Meeting Objectives\n- Lock the plan", flow.MeetingFlow)
	assert.Equal(t, "Rocket", flow.ProductName)
	assert.Equal(t, "logistics", flow.ProductDomain)
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "THREAD METADATA:\n- Thread ID: t1")

	flow = NewService(failing(), failing()).MeetingFlow(context.Background(), &models.AnalysisPayload{})
	assert.Equal(t, llm.MeetingFlowFallback, flow.MeetingFlow)
	assert.Equal(t, models.UnknownProduct, flow.ProductName)
	assert.Equal(t, models.GeneralProduct, flow.ProductDomain)
}

func TestClientDossier(t *testing.T) {
	research := answer("Acme builds rockets.")
	analyst := answer("# Client Dossier: Acme\n## Executive Summary\nRockets.")
	s := NewService(analyst, research)

	out := s.ClientDossier(context.Background(), "Acme", "acme.com", "")
	assert.Empty(t, out.Error)
	assert.Contains(t, out.ClientDossier, "## Executive Summary")
	require.Len(t, research.prompts, 1)
	assert.Contains(t, research.prompts[0], "company Acme")
	require.Len(t, analyst.prompts, 1)
	assert.Contains(t, analyst.prompts[0], "PERPLEXITY RESEARCH START\nAcme builds rockets.\nPERPLEXITY RESEARCH END")

	skipped := s.ClientDossier(context.Background(), "unknown client", "", "")
	assert.Equal(t, clientSkipped, skipped.Error)
	assert.Empty(t, skipped.ClientDossier)

	broken := NewService(analyst, failing()).ClientDossier(context.Background(), "Acme", "", "")
	assert.True(t, strings.HasPrefix(broken.ClientDossier, "# Client Dossier: Acme\n\nError generating client dossier"))
}

func TestValidateClientName(t *testing.T) {
	v := ValidateClientName(nil)
	assert.False(t, v.Valid)
	assert.Equal(t, "No analysis payload provided", v.Reason)

	v = ValidateClientName(&models.AnalysisPayload{StructuredAnalysis: &models.StructuredAnalysis{ClientName: "Acme"}})
	assert.True(t, v.Valid)
	assert.Equal(t, "Acme", v.ClientName)

	v = ValidateClientName(&models.AnalysisPayload{
		StructuredAnalysis: &models.StructuredAnalysis{ClientName: models.UnknownClient},
		Analysis:           "**Client Name:** probably Globex (from the CC)",
	})
	assert.True(t, v.Valid)
	assert.Equal(t, "Globex", v.ClientName)

	v = ValidateClientName(&models.AnalysisPayload{StructuredAnalysis: &models.StructuredAnalysis{ClientName: "Unknown"}})
	assert.False(t, v.Valid)
	assert.Equal(t, "Client name is marked as unknown", v.Reason)

	v = ValidateClientName(&models.AnalysisPayload{})
	assert.Equal(t, "No client name found in analysis", v.Reason)
}

func TestCompleteDossierWithoutClient(t *testing.T) {
	s := NewService(answer("Meeting Flow Dossier"), failing())
	out := s.CompleteDossier(context.Background(), &models.AnalysisPayload{Analysis: "nothing"}, true, "")
	assert.Equal(t, "Meeting Flow Dossier", out.MeetingFlow.MeetingFlow)
	assert.Contains(t, out.ClientDossierError, "No valid client name found")
	assert.Empty(t, out.ClientDossier)
}

type memStore struct {
	saved []*models.Dossier
}

func (m *memStore) Save(d *models.Dossier) error {
	d.ID = "d1"
	m.saved = append(m.saved, d)
	return nil
}

func TestGenerateSavesHistory(t *testing.T) {
	store := &memStore{}
	var events []models.Event
	mb := Mailbox{Owner: owner, Progress: func(e models.Event) { events = append(events, e) }}
	s := NewService(answer("Meeting Flow Dossier"), failing(), WithStore(store))

	payload := &models.AnalysisPayload{StructuredAnalysis: &models.StructuredAnalysis{ClientName: "Acme", ProductName: "Rocket"}}
	g, err := s.Generate(context.Background(), mb, Request{Type: "meeting", Analysis: payload})
	require.NoError(t, err)

	meeting, ok := g.Response().(*models.MeetingFlow)
	require.True(t, ok)
	assert.Equal(t, "d1", meeting.DossierID)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "Acme", store.saved[0].ClientName)
	assert.Equal(t, models.DossierMeeting, store.saved[0].Kind)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDossierSaved, events[0].Type)

	_, err = s.Generate(context.Background(), mb, Request{Type: "complete"})
	assert.ErrorIs(t, err, ErrMissingAnalysis)

	// a refused client dossier is not recorded
	g, err = s.Generate(context.Background(), mb, Request{Type: "client", ClientName: "unknown"})
	require.NoError(t, err)
	assert.Equal(t, clientSkipped, g.Client.Error)
	assert.Len(t, store.saved, 1)
}

func TestGenerateDoesNotSaveFailedClientDossier(t *testing.T) {
	store := &memStore{}
	var events []models.Event
	mb := Mailbox{Owner: owner, Progress: func(e models.Event) { events = append(events, e) }}
	s := NewService(answer("Meeting Flow Dossier"), failing(), WithStore(store))

	g, err := s.Generate(context.Background(), mb, Request{Type: "client", ClientName: "Acme"})
	require.NoError(t, err)

	client, ok := g.Response().(*models.ClientDossier)
	require.True(t, ok)
	assert.True(t, client.Failed)
	assert.Contains(t, client.ClientDossier, "Error generating client dossier")
	assert.Empty(t, client.DossierID)
	assert.Nil(t, g.Dossier)
	assert.Empty(t, store.saved)
	assert.Empty(t, events)

	// the meeting flow of a complete dossier is still kept, without the failed client text
	payload := &models.AnalysisPayload{StructuredAnalysis: &models.StructuredAnalysis{ClientName: "Acme"}}
	g, err = s.Generate(context.Background(), mb, Request{Type: "complete", Analysis: payload, IncludeClient: true})
	require.NoError(t, err)
	assert.Equal(t, clientFailed, g.Complete.ClientDossierError)
	assert.Contains(t, g.Complete.ClientDossier, "Error generating client dossier")
	require.Len(t, store.saved, 1)
	assert.Equal(t, "Meeting Flow Dossier", store.saved[0].MeetingFlow)
	assert.Empty(t, store.saved[0].ClientDossier)
	assert.Equal(t, clientFailed, store.saved[0].ClientDossierError)
}

func TestFindThreadsWithDeepScan(t *testing.T) {
	mail := sampleMail()
	mail.threads["t3"] = []gmail.Message{msg("Lunch?", "Subject", "Lunch", "From", "pal@friends.net")}
	mail.threads["t4"] = []gmail.Message{msg("", "From", "Bob <bob@acme.io>")}
	mail.queries = map[string][]string{
		"acme":        {"t1"},
		"in:anywhere": {"t1", "t3", "t4", "t2"},
	}

	s := NewService(failing(), failing())
	res, err := s.FindThreads(context.Background(), mail.mailbox(), gmail.SearchParams{Keyword: "acme", DeepScan: true})
	require.NoError(t, err)
	require.Len(t, res, 2)

	assert.Equal(t, models.ThreadSummary{
		ID:      "t1",
		Subject: "Rollout",
		Sender:  "Ann <ann@acme.com>",
		Body:    "Rollout\nCan we lock the rollout plan for Friday?",
	}, res[0])
	assert.Equal(t, "t4", res[1].ID)
	assert.Equal(t, "No Subject", res[1].Subject)
	assert.Equal(t, []string{"acme", "in:anywhere"}, mail.listed)

	mail.listed = nil
	res, err = s.FindThreads(context.Background(), mail.mailbox(), gmail.SearchParams{Keyword: "acme"})
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Equal(t, []string{"acme"}, mail.listed)
}

func TestFindThreadsDeepScanCheckLimit(t *testing.T) {
	mail := sampleMail()
	mail.threads["t4"] = []gmail.Message{msg("", "From", "bob@acme.io")}
	mail.queries = map[string][]string{"in:anywhere": {"t2", "t4"}}

	search := config.Default().Search
	search.DeepScanMaxChecks = 1
	s := NewService(failing(), failing(), WithSearch(search))

	res, err := s.FindThreads(context.Background(), mail.mailbox(), gmail.SearchParams{Keyword: "acme", DeepScan: true})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestExpandAliases(t *testing.T) {
	s := NewService(answer("- Acme Corp\nACME"), failing())
	assert.Equal(t, []string{"acme", "Acme Corp", "AcmeCorp", "Acme-Corp"}, s.ExpandAliases(context.Background(), "acme"))

	s = NewService(failing(), failing())
	assert.Equal(t, []string{"acme inc", "acmeinc", "acme-inc"}, s.ExpandAliases(context.Background(), " acme inc "))
	assert.Nil(t, s.ExpandAliases(context.Background(), ""))
}
