package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"maildossier/config"
	"maildossier/dossier"
	"maildossier/gmail"
	"maildossier/handlers"
	"maildossier/llm"
	"maildossier/middleware"
	"maildossier/models"
	"maildossier/storage"
	"maildossier/utils"
)

const (
	owner      = "owner@mycorp.com"
	validToken = "sealed-token"
)

func header(m *gmail.Message, name, value string) {
	m.Headers = append(m.Headers, gmail.Header{Name: name, Value: value})
}

type fakeMail struct {
	threads map[string][]gmail.Message
	queries map[string][]string
}

func (f *fakeMail) Thread(_ context.Context, id string) ([]gmail.Message, error) {
	m, ok := f.threads[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (f *fakeMail) ListThreads(_ context.Context, query string, _ bool, _ int) ([]string, error) {
	return f.queries[query], nil
}

func (f *fakeMail) Profile(context.Context) (*models.UserProfile, error) {
	return &models.UserProfile{Email: owner, ThreadsTotal: 2}, nil
}

func sampleMail() *fakeMail {
	first := gmail.Message{Snippet: "Can we lock the rollout plan for Friday?"}
	header(&first, "Subject", "Rollout")
	header(&first, "From", "Ann <ann@acme.com>")
	header(&first, "To", owner)
	header(&first, "Date", "Mon, 3 Mar 2025 09:00:00 +0000")
	header(&first, "X-Trace", strings.Repeat("é", 250))

	reply := gmail.Message{Snippet: "Friday works", LabelIDs: []string{gmail.LabelSent}}
	header(&reply, "From", owner)
	header(&reply, "To", "ann@acme.com")
	header(&reply, "Date", "Tue, 4 Mar 2025 10:00:00 +0000")

	invoice := gmail.Message{Snippet: "Invoice for February"}
	header(&invoice, "Subject", "Invoice")
	header(&invoice, "From", "billing@globex.io")
	header(&invoice, "To", owner)
	header(&invoice, "Date", "Wed, 5 Mar 2025 11:00:00 +0000")

	return &fakeMail{
		threads: map[string][]gmail.Message{
			"t1": {first, reply},
			"t2": {invoice},
		},
		queries: map[string][]string{},
	}
}

const analysisOutput = `**Email Summaries:**
- Ann asks to lock the rollout plan

**Meeting Agenda:**
- Rollout timeline

**Final Conclusion:**
Rollout on Friday.

**Client Name:** Unknown Client
**Product Name:** Rocket
**Product Domain:** logistics`

type testEnv struct {
	app     *fiber.App
	hub     *ProgressHub
	history *storage.DossierStorage
	mail    *fakeMail

	mu     sync.Mutex
	answer func(prompt string) (string, error)
}

func (e *testEnv) complete(_ context.Context, prompt string) (string, error) {
	e.mu.Lock()
	answer := e.answer
	e.mu.Unlock()
	if answer == nil {
		return "", llm.ErrNotConfigured
	}
	return answer(prompt)
}

func (e *testEnv) reply(s string) {
	e.mu.Lock()
	e.answer = func(string) (string, error) { return s, nil }
	e.mu.Unlock()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.InitDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		hub:     NewProgressHub(),
		history: storage.NewDossierStorage(db),
		mail:    sampleMail(),
	}

	store := session.New()
	opener := func(_ context.Context, sealed string) (Mail, error) {
		if sealed != validToken {
			return nil, errors.New("no credentials in session")
		}
		return env.mail, nil
	}

	service := dossier.NewService(llm.CompleterFunc(env.complete), llm.CompleterFunc(env.complete),
		dossier.WithStore(env.history))
	mailboxes := NewMailboxes(store, opener, utils.NewMemoryCache(), time.Minute, env.hub)

	app := fiber.New(fiber.Config{
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: handlers.ErrorHandler,
	})

	// signs the caller in with the given sealed token
	app.Get("/test/login", func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			return err
		}
		sess.Set(middleware.SessionAuthenticated, true)
		sess.Set(middleware.SessionEmail, owner)
		sess.Set(middleware.SessionToken, c.Query("token", validToken))
		if err := sess.Save(); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	threads := NewThreadHandler(service, mailboxes)
	dossiers := NewDossierHandler(service, mailboxes, env.history)
	debug := NewDebugHandler(service, mailboxes)

	app.Get("/api/i18n/:lang", (&I18nHandler{}).GetTranslations)

	api := app.Group("/api", middleware.RequireAuth(store))
	api.Post("/find_threads", threads.FindThreads)
	api.Post("/analyze_thread", threads.AnalyzeThread)
	api.Post("/process_threads_metadata", threads.ProcessMetadata)
	api.Post("/analyze_multiple_threads", threads.AnalyzeMultipleThreads)
	api.Post("/generate_meeting_dossier", dossiers.GenerateMeeting)
	api.Post("/generate_dossier", dossiers.Generate)
	api.Post("/validate_client_name", dossiers.ValidateClientName)
	api.Get("/dossiers", dossiers.List)
	api.Get("/dossiers/:id", dossiers.Get)
	api.Delete("/dossiers/:id", dossiers.Delete)
	api.Post("/test_participant_extraction", debug.ParticipantExtraction)
	api.Post("/test_domain_client_extraction", debug.DomainClientExtraction)
	api.Post("/test_relevancy", debug.Relevancy)
	api.Post("/azure_ask", debug.Ask)

	env.app = app
	return env
}

// login returns the session cookie of a signed-in caller
func (e *testEnv) login(t *testing.T, token string) *http.Cookie {
	t.Helper()
	resp, err := e.app.Test(httptest.NewRequest(http.MethodGet, "/test/login?token="+url.QueryEscape(token), nil), -1)
	require.NoError(t, err)
	for _, c := range resp.Cookies() {
		if c.Name == "session_id" {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func (e *testEnv) do(t *testing.T, method, path string, cookie *http.Cookie, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else if len(raw) > 0 {
		out["_raw"] = string(raw)
	}
	return resp.StatusCode, out
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/analyze_thread", nil, map[string]string{"thread_id": "t1"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, utils.CodeAuthRequired, body["code"])
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, validToken)

	status, body := env.do(t, http.MethodPost, "/api/analyze_thread", cookie, map[string]string{})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "thread_id is required", body["error"])

	status, body = env.do(t, http.MethodPost, "/api/process_threads_metadata", cookie, map[string]interface{}{"thread_ids": []string{" ", ""}})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "thread_ids array is required", body["error"])

	status, body = env.do(t, http.MethodPost, "/api/analyze_multiple_threads", cookie, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "thread_ids array is required", body["error"])

	status, body = env.do(t, http.MethodPost, "/api/azure_ask", cookie, map[string]string{"prompt": "  "})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "prompt is required", body["error"])

	status, _ = env.do(t, http.MethodPost, "/api/generate_meeting_dossier", cookie, map[string]string{})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestMailboxUnavailable(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "stale")

	status, body := env.do(t, http.MethodPost, "/api/analyze_thread", cookie, map[string]string{"thread_id": "t1"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, utils.CodeGmailNotConfigured, body["code"])
}

func TestAnalyzeThreadEndpoint(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, validToken)

	status, body := env.do(t, http.MethodPost, "/api/analyze_thread", cookie, map[string]string{"thread_id": "t1"})
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, utils.CodeLLMNotConfigured, body["code"])

	env.reply(analysisOutput)
	status, body = env.do(t, http.MethodPost, "/api/analyze_thread", cookie, map[string]string{"thread_id": "t1"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Rocket", body["product_name"])
	structured := body["structured_analysis"].(map[string]interface{})
	assert.Equal(t, "Acme", structured["client_name"])
	assert.Equal(t, []interface{}{"Acme"}, body["domain_based_client_names"])

	status, body = env.do(t, http.MethodPost, "/api/analyze_thread", cookie, map[string]string{"thread_id": "missing"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "No valid threads could be fetched", body["error"])
}

func TestProcessMetadataPublishesProgress(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, validToken)

	id, events := env.hub.Subscribe(owner)
	defer env.hub.Unsubscribe(owner, id)

	status, body := env.do(t, http.MethodPost, "/api/process_threads_metadata", cookie,
		map[string]interface{}{"thread_ids": []string{"t1", "t2"}})
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 2, body["thread_count"])
	assert.Equal(t, []interface{}{"t1", "t2"}, body["processed_thread_ids"])
	assert.Equal(t, models.UnknownProduct, body["product_name"])

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Contains(t, types, models.EventThreadProcessed)
	assert.Equal(t, models.EventBatchCompleted, types[len(types)-1])
}

func TestGenerateAndHistory(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, validToken)
	env.reply("## agenda\n- Confirm the rollout")

	payload := map[string]interface{}{
		"analysis": map[string]interface{}{
			"analysis": analysisOutput,
			"structured_analysis": map[string]interface{}{
				"client_name":  "Acme",
				"product_name": "Rocket",
			},
		},
	}

	status, body := env.do(t, http.MethodPost, "/api/generate_meeting_dossier", cookie, payload)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Agenda\n- Confirm the rollout", body["meeting_flow"])
	id, _ := body["dossier_id"].(string)
	require.NotEmpty(t, id)

	status, body = env.do(t, http.MethodGet, "/api/dossiers", cookie, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, body = env.do(t, http.MethodGet, "/api/dossiers/"+id, cookie, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Acme", body["client_name"])
	assert.Equal(t, string(models.DossierMeeting), body["kind"])

	status, _ = env.do(t, http.MethodDelete, "/api/dossiers/"+id, cookie, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, body = env.do(t, http.MethodGet, "/api/dossiers/"+id, cookie, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "Dossier not found", body["error"])
}

func TestValidateClientNameEndpoint(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, validToken)

	status, body := env.do(t, http.MethodPost, "/api/validate_client_name", cookie, map[string]interface{}{
		"analysis": map[string]interface{}{
			"structured_analysis": map[string]interface{}{"client_name": "Unknown Client"},
		},
	})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["valid"])
}

func TestDebugEndpoints(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, validToken)

	status, body := env.do(t, http.MethodPost, "/api/test_participant_extraction", cookie, map[string]string{"thread_id": "t1"})
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 2, body["message_count"])
	assert.EqualValues(t, 2, body["participant_count"])
	assert.EqualValues(t, 4, body["participant_total"])
	headers := body["debug_details"].(map[string]interface{})["first_message_headers"].(map[string]interface{})
	trace := headers["X-Trace"].(string)
	assert.True(t, strings.HasSuffix(trace, "..."))
	assert.Equal(t, 203, len([]rune(trace)))

	status, body = env.do(t, http.MethodPost, "/api/test_domain_client_extraction", cookie, map[string]string{"thread_id": "t1"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []interface{}{"Acme"}, body["domain_based_client_names"])
	assert.EqualValues(t, 2, body["first_two_emails_processed"])

	status, body = env.do(t, http.MethodPost, "/api/test_relevancy", cookie,
		map[string]interface{}{"thread_ids": []string{"t1", "t2"}})
	require.Equal(t, fiber.StatusOK, status)
	pairs := body["pairs"].([]interface{})
	require.Len(t, pairs, 1)
	pair := pairs[0].(map[string]interface{})
	assert.Equal(t, "t1", pair["first"])
	assert.Equal(t, "t2", pair["second"])
	for _, k := range []string{"participant", "content", "subject", "combined"} {
		assert.Contains(t, pair, k)
	}
	assert.EqualValues(t, 0, body["relevant_groups"])
	assert.EqualValues(t, 2, body["irrelevant_threads"])

	status, _ = env.do(t, http.MethodPost, "/api/test_relevancy", cookie, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	env.reply("pong")
	status, body = env.do(t, http.MethodPost, "/api/azure_ask", cookie, map[string]string{"prompt": "ping"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "pong", body["response"])
}

func TestTranslationsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/i18n/xx", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body, len(clientMessages))
	assert.Contains(t, body, "error_rate_limited")
}

func TestProgressHub(t *testing.T) {
	hub := NewProgressHub()
	id, events := hub.Subscribe(owner)
	assert.Equal(t, 1, hub.Subscribers(owner))

	hub.Publish("someone@else.com", models.Event{Type: "ignored"})
	hub.Publish(owner, models.Event{Type: models.EventDossierSaved})

	e := <-events
	assert.Equal(t, models.EventDossierSaved, e.Type)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Time.IsZero())
	assert.Empty(t, events)

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(owner, models.Event{Type: "flood"})
	}
	assert.Len(t, events, subscriberBuffer)

	hub.Unsubscribe(owner, id)
	hub.Unsubscribe(owner, id)
	assert.Equal(t, 0, hub.Subscribers(owner))
	for range events {
	}
}

type fakeFlow struct {
	revoked []string
}

func (f *fakeFlow) AuthURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (f *fakeFlow) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if code != "good-code" {
		return nil, errors.New("bad code")
	}
	return &oauth2.Token{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (f *fakeFlow) Revoke(_ context.Context, tok *oauth2.Token) error {
	f.revoked = append(f.revoked, tok.AccessToken)
	return nil
}

func newAuthApp(t *testing.T) (*fiber.App, *fakeFlow, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Session.Secret = "state-signing-secret"
	cfg.Server.FrontendURL = "http://frontend.test"

	sealer, err := utils.NewSealer("token-sealing-key")
	require.NoError(t, err)

	opener := func(_ context.Context, sealed string) (Mail, error) {
		tok, err := openToken(sealer, sealed)
		if err != nil {
			return nil, err
		}
		if tok.AccessToken != "access" {
			return nil, errors.New("unexpected token")
		}
		return sampleMail(), nil
	}

	flow := &fakeFlow{}
	h := NewAuthHandler(session.New(), cfg, flow, sealer, opener)

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Post("/api/auth/login", h.Login)
	app.Get("/api/auth/callback", h.Callback)
	app.Get("/api/auth/status", h.Status)
	app.Post("/api/auth/logout", h.Logout)
	return app, flow, cfg
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "session_id" {
			return c
		}
	}
	return nil
}

func TestOAuthFlow(t *testing.T) {
	app, flow, cfg := newAuthApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/auth/login", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	cookie := sessionCookie(resp)
	require.NotNil(t, cookie)

	var login struct {
		AuthURL string `json:"auth_url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	u, err := url.Parse(login.AuthURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	callback := func(query string) *http.Response {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?"+query, nil)
		req.AddCookie(cookie)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	resp = callback("state=forged&code=good-code")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, cfg.Server.FrontendURL+"?auth=error&message=invalid+state", resp.Header.Get(fiber.HeaderLocation))

	resp = callback("error=access_denied")
	assert.Equal(t, cfg.Server.FrontendURL+"?auth=error&message=access_denied", resp.Header.Get(fiber.HeaderLocation))

	resp = callback("state=" + url.QueryEscape(state) + "&code=good-code")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, cfg.Server.FrontendURL+"?auth=success", resp.Header.Get(fiber.HeaderLocation))

	// the state is single use
	resp = callback("state=" + url.QueryEscape(state) + "&code=good-code")
	assert.Contains(t, resp.Header.Get(fiber.HeaderLocation), "invalid+state")

	status := func() map[string]interface{} {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
		req.AddCookie(cookie)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		out := map[string]interface{}{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	st := status()
	assert.Equal(t, true, st["authenticated"])
	assert.Equal(t, owner, st["user"].(map[string]interface{})["email"])
	assert.Equal(t, true, st["session"].(map[string]interface{})["has_credentials"])

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(cookie)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"access"}, flow.revoked)

	assert.Equal(t, false, status()["authenticated"])
}

func TestStateTokens(t *testing.T) {
	h := &AuthHandler{secret: []byte("one")}
	state, err := h.signState("nonce-1")
	require.NoError(t, err)

	nonce, err := h.verifyState(state)
	require.NoError(t, err)
	assert.Equal(t, "nonce-1", nonce)

	other := &AuthHandler{secret: []byte("two")}
	_, err = other.verifyState(state)
	assert.Error(t, err)
}
