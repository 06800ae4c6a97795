package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"maildossier/utils"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func sampleAPIMessage() *gmailapi.Message {
	return &gmailapi.Message{
		Id:       "m1",
		ThreadId: "t1",
		Snippet:  "Quick sync about the rollout",
		LabelIds: []string{"INBOX", LabelSent},
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "Subject", Value: "Rollout"},
				{Name: "From", Value: "Ann <ann@acme.com>"},
				{Name: "Date", Value: "Tue, 4 Mar 2025 10:15:00 +0000"},
			},
			Parts: []*gmailapi.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmailapi.MessagePart{
						{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: strings.TrimRight(b64("Plain body"), "=")}},
						{MimeType: "text/html", Body: &gmailapi.MessagePartBody{Data: b64("<p>Html <b>body</b></p>")}},
					},
				},
				{MimeType: "application/pdf", Filename: "deck.pdf", Body: &gmailapi.MessagePartBody{AttachmentId: "a1", Size: 2048}},
			},
		},
	}
}

func TestFromAPIBuildsTypedParts(t *testing.T) {
	msg := FromAPI(sampleAPIMessage())

	root, ok := msg.Payload.(*ContainerPart)
	require.True(t, ok)
	require.Len(t, root.Parts, 2)

	alt, ok := root.Parts[0].(*ContainerPart)
	require.True(t, ok)
	assert.Equal(t, "Plain body", alt.Parts[0].(*PlainTextPart).Text)
	assert.Equal(t, "<p>Html <b>body</b></p>", alt.Parts[1].(*HTMLPart).HTML)

	att, ok := root.Parts[1].(*OtherPart)
	require.True(t, ok)
	assert.Equal(t, "deck.pdf", att.Filename)
	assert.EqualValues(t, 2048, att.Size)

	subject, ok := msg.Header("subject")
	assert.True(t, ok)
	assert.Equal(t, "Rollout", subject)
	assert.True(t, msg.HasLabel(LabelSent))

	date, ok := msg.Date()
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 4, 10, 15, 0, 0, time.UTC), date.UTC())
}

func TestPlainTextAndText(t *testing.T) {
	msg := FromAPI(sampleAPIMessage())

	assert.Equal(t, []string{"Plain body"}, PlainText(&msg))
	assert.Equal(t, "Quick sync about the rollout\nPlain body\nHtml body", Text(&msg))
}

func TestWalkSkipsContainerChildren(t *testing.T) {
	msg := FromAPI(sampleAPIMessage())

	var leaves int
	Walk(msg.Payload, VisitorFuncs{
		Container: func(c *ContainerPart) bool { return c.Mime != "multipart/alternative" },
		PlainText: func(*PlainTextPart) { leaves++ },
		HTML:      func(*HTMLPart) { leaves++ },
		Other:     func(*OtherPart) { leaves++ },
	})
	assert.Equal(t, 1, leaves)
}

func TestDecodeBodyInvalid(t *testing.T) {
	assert.Equal(t, "", decodeBody("!!!not base64!!!"))
	assert.Equal(t, "", decodeBody(""))
}

func TestParseDateFallbacks(t *testing.T) {
	cases := []string{
		"Tue, 4 Mar 2025 10:15:00 +0000",
		"Tue, 4 Mar 2025 10:15:00 +0000 (UTC)",
		"4 Mar 2025 10:15:00 +0000",
	}
	for _, c := range cases {
		got, err := ParseDate(c)
		require.NoError(t, err, c)
		assert.Equal(t, 2025, got.Year())
	}

	_, err := ParseDate("yesterday afternoon")
	assert.Error(t, err)
}

func TestBuildSearchQueryStrict(t *testing.T) {
	q := BuildSearchQuery(SearchParams{
		StartDate: "2025/01/01",
		EndDate:   "2025/01/31",
		FromEmail: "ann@acme.com",
		Keyword:   "halal shack",
		Query:     "has:attachment",
	}, true)
	assert.Equal(t, `after:2025/01/01 before:2025/02/01 from:ann@acme.com "halal shack" has:attachment`, q)

	assert.Equal(t, "before:someday acme", BuildSearchQuery(SearchParams{EndDate: "someday", Keyword: "acme"}, true))
}

func TestBuildSearchQueryEnhanced(t *testing.T) {
	q := BuildSearchQuery(SearchParams{Keyword: "acme-co"}, false)

	require.True(t, strings.HasPrefix(q, "(acme-co OR subject:acme-co"))
	assert.Contains(t, q, `"acme co"`)
	assert.Contains(t, q, "@acmeco.com")
	assert.Contains(t, q, "list:acmeco.com")
	assert.Contains(t, q, "acmecotechnologies")
	assert.Equal(t, 1, strings.Count(q, " OR subject:acmeco "))
}

func TestKeywordVariants(t *testing.T) {
	assert.Equal(t, []string{"a.b_c", "a b c", "abc"}, KeywordVariants("a.b_c"))
	assert.Equal(t, []string{"acme"}, KeywordVariants("acme"))
}

func TestIncludeSpamTrashAndBroadQuery(t *testing.T) {
	assert.True(t, IncludeSpamTrash("foo IN:TRASH"))
	assert.False(t, IncludeSpamTrash("in:inbox"))

	q := BroadQuery(SearchParams{StartDate: "2025/01/01", Keyword: "acme", Query: "label:work"}, true)
	assert.Equal(t, "after:2025/01/01 label:work in:anywhere", q)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientThreadAndProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/users/me/threads/t1"):
			assert.Equal(t, "full", r.URL.Query().Get("format"))
			writeJSON(w, &gmailapi.Thread{Id: "t1", Messages: []*gmailapi.Message{sampleAPIMessage()}})
		case strings.HasSuffix(r.URL.Path, "/users/me/profile"):
			writeJSON(w, &gmailapi.Profile{EmailAddress: "owner@mine.com", MessagesTotal: 10, ThreadsTotal: 4})
		default:
			http.NotFound(w, r)
		}
	})

	messages, err := c.Thread(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	subject, sender := SubjectAndSender(messages)
	assert.Equal(t, "Rollout", subject)
	assert.Equal(t, "Ann <ann@acme.com>", sender)

	profile, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "owner@mine.com", profile.Email)
	assert.EqualValues(t, 4, profile.ThreadsTotal)

	_, err = c.Thread(context.Background(), "missing")
	assert.Error(t, err)
}

func TestClientListThreadsPagesAndLimit(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/threads") {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "acme", r.URL.Query().Get("q"))
		assert.Equal(t, "true", r.URL.Query().Get("includeSpamTrash"))
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, &gmailapi.ListThreadsResponse{
				Threads:       []*gmailapi.Thread{{Id: "a"}, {Id: "b"}},
				NextPageToken: "p2",
			})
			return
		}
		writeJSON(w, &gmailapi.ListThreadsResponse{Threads: []*gmailapi.Thread{{Id: "c"}, {Id: "d"}}})
	})

	ids, err := c.ListThreads(context.Background(), "acme", true, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	ids, err = c.ListThreads(context.Background(), "acme", true, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) Thread(_ context.Context, id string) ([]Message, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []Message{{ID: id + "-m1", ThreadID: id}}, nil
}

func TestCachedSource(t *testing.T) {
	next := &countingSource{}
	cache := utils.NewMemoryCache()
	src := NewCachedSource(next, cache, "owner@mine.com", time.Minute)

	for i := 0; i < 3; i++ {
		msgs, err := src.Thread(context.Background(), "t1")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
	}
	assert.Equal(t, 1, next.calls)

	other := NewCachedSource(next, cache, "someone@else.com", time.Minute)
	_, err := other.Thread(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)

	failing := NewCachedSource(&countingSource{err: errors.New("boom")}, cache, "x", time.Minute)
	_, err = failing.Thread(context.Background(), "t2")
	assert.Error(t, err)
	assert.Equal(t, 2, cache.Size())
}

func TestOAuthAuthURLAndRevoke(t *testing.T) {
	secrets := []byte(`{"web":{"client_id":"cid","client_secret":"sec","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost:5000/cb"]}}`)
	o, err := NewOAuthFromJSON(secrets, "http://localhost:5000/api/auth/callback")
	require.NoError(t, err)

	u := o.AuthURL("state123")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "prompt=consent")
	assert.Contains(t, u, "state=state123")
	assert.Contains(t, u, "gmail.readonly")
	assert.Contains(t, u, "redirect_uri=http%3A%2F%2Flocalhost%3A5000%2Fapi%2Fauth%2Fcallback")

	var revoked string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		revoked = r.PostForm.Get("token")
	}))
	defer srv.Close()
	o.SetRevokeURL(srv.URL)

	require.NoError(t, o.Revoke(context.Background(), nil))
	require.NoError(t, o.Revoke(context.Background(), tokenWith("abc")))
	assert.Equal(t, "abc", revoked)
}

func tokenWith(access string) *oauth2.Token {
	return &oauth2.Token{AccessToken: access}
}
