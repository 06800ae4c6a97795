package gmail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

// DefaultRevokeURL is Google's token revocation endpoint
const DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// OAuth runs the web authorization-code flow for read-only mailbox access
type OAuth struct {
	config    *oauth2.Config
	revokeURL string
	client    *http.Client
}

// NewOAuth builds the flow from a client secrets file downloaded from the
// Google console. A non-empty redirectURL overrides the one in the file.
func NewOAuth(secretsFile, redirectURL string) (*OAuth, error) {
	b, err := os.ReadFile(secretsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secrets file: %w", err)
	}
	return NewOAuthFromJSON(b, redirectURL)
}

// NewOAuthFromJSON is NewOAuth for secrets already in memory
func NewOAuthFromJSON(secrets []byte, redirectURL string) (*OAuth, error) {
	cfg, err := google.ConfigFromJSON(secrets, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secrets: %w", err)
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return &OAuth{config: cfg, revokeURL: DefaultRevokeURL, client: http.DefaultClient}, nil
}

// SetRevokeURL points revocation at another endpoint
func (o *OAuth) SetRevokeURL(u string) {
	o.revokeURL = u
}

// AuthURL returns the consent page URL. Offline access with a forced consent
// prompt makes Google hand out a refresh token on every login.
func (o *OAuth) AuthURL(state string) string {
	return o.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "false"),
	)
}

// Exchange trades an authorization code for a token
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := o.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return tok, nil
}

// TokenSource refreshes tok as needed
func (o *OAuth) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return o.config.TokenSource(ctx, tok)
}

// Revoke invalidates tok at the provider. Callers treat failure as non-fatal.
func (o *OAuth) Revoke(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return nil
	}

	form := url.Values{"token": {tok.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke returned status %d", resp.StatusCode)
	}
	return nil
}
