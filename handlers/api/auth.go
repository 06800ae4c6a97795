package api

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"maildossier/config"
	"maildossier/middleware"
	"maildossier/models"
	"maildossier/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const stateTTL = 10 * time.Minute

// OAuthFlow is the provider side of the authorization-code flow
type OAuthFlow interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Revoke(ctx context.Context, tok *oauth2.Token) error
}

// AuthHandler runs the Google sign-in and session lifecycle
type AuthHandler struct {
	store  *session.Store
	config *config.Config
	oauth  OAuthFlow
	sealer *utils.Sealer
	open   MailOpener
	secret []byte
}

// NewAuthHandler creates a new instance of AuthHandler
func NewAuthHandler(store *session.Store, cfg *config.Config, oauth OAuthFlow, sealer *utils.Sealer, open MailOpener) *AuthHandler {
	return &AuthHandler{
		store:  store,
		config: cfg,
		oauth:  oauth,
		sealer: sealer,
		open:   open,
		secret: []byte(cfg.Session.Secret),
	}
}

// signState issues a short-lived HS256 token naming nonce
func (h *AuthHandler) signState(nonce string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        nonce,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

// verifyState returns the nonce of a valid, unexpired state token
func (h *AuthHandler) verifyState(state string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (interface{}, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	return claims.ID, nil
}

// Login starts a fresh session and returns the consent page URL
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return utils.InternalServerError("Session error", err)
	}
	for _, k := range sess.Keys() {
		sess.Delete(k)
	}
	if err := sess.Regenerate(); err != nil {
		return utils.InternalServerError("Session error", err)
	}

	nonce := uuid.New().String()
	state, err := h.signState(nonce)
	if err != nil {
		return utils.InternalServerError("Failed to create authorization state", err)
	}
	sess.Set(middleware.SessionState, nonce)
	if err := sess.Save(); err != nil {
		return utils.InternalServerError("Failed to save session", err)
	}

	utils.Log.Info("Starting OAuth flow")
	return c.JSON(fiber.Map{
		"auth_url": h.oauth.AuthURL(state),
		"message":  "Redirect to this URL to begin authentication",
	})
}

func (h *AuthHandler) redirectError(c *fiber.Ctx, message string) error {
	return c.Redirect(h.config.Server.FrontendURL + "?auth=error&message=" + url.QueryEscape(message))
}

// Callback completes the flow and sends the browser back to the frontend
func (h *AuthHandler) Callback(c *fiber.Ctx) error {
	if e := c.Query("error"); e != "" {
		utils.Log.Warn("OAuth provider returned error: %s", e)
		return h.redirectError(c, e)
	}

	sess, err := h.store.Get(c)
	if err != nil {
		return h.redirectError(c, "session error")
	}

	expected, _ := sess.Get(middleware.SessionState).(string)
	nonce, err := h.verifyState(c.Query("state"))
	if err != nil || expected == "" || nonce != expected {
		utils.Log.Warn("Rejected OAuth callback with invalid state: %v", err)
		return h.redirectError(c, "invalid state")
	}
	sess.Delete(middleware.SessionState)

	code := c.Query("code")
	if code == "" {
		return h.redirectError(c, "missing authorization code")
	}

	ctx := c.UserContext()
	tok, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		utils.Log.Error("OAuth exchange failed: %v", err)
		return h.redirectError(c, "token exchange failed")
	}

	sealed, err := sealToken(h.sealer, tok)
	if err != nil {
		utils.Log.Error("Failed to seal OAuth token: %v", err)
		return h.redirectError(c, "could not store credentials")
	}

	mail, err := h.open(ctx, sealed)
	if err != nil {
		return h.redirectError(c, "could not open mailbox")
	}
	profile, err := mail.Profile(ctx)
	if err != nil || profile.Email == "" {
		utils.Log.Error("Failed to read profile after sign-in: %v", err)
		return h.redirectError(c, "could not read profile")
	}

	sess.Set(middleware.SessionAuthenticated, true)
	sess.Set(middleware.SessionEmail, profile.Email)
	sess.Set(middleware.SessionToken, sealed)
	sess.Set(middleware.SessionLoginTime, time.Now().Unix())
	sess.SetExpiry(h.config.Session.Expiration)
	if err := sess.Save(); err != nil {
		return h.redirectError(c, "failed to save session")
	}

	utils.Log.WithField("user", profile.Email).Info("User signed in")
	return c.Redirect(h.config.Server.FrontendURL + "?auth=success")
}

func (h *AuthHandler) sessionInfo(sess *session.Session) models.SessionInfo {
	info := models.SessionInfo{}
	info.Authenticated, _ = sess.Get(middleware.SessionAuthenticated).(bool)
	info.UserEmail, _ = sess.Get(middleware.SessionEmail).(string)
	sealed, _ := sess.Get(middleware.SessionToken).(string)
	info.HasCredentials = sealed != ""
	if ts, ok := sess.Get(middleware.SessionLoginTime).(int64); ok {
		info.LoginTime = time.Unix(ts, 0).UTC()
		info.ExpiresAt = info.LoginTime.Add(h.config.Session.Expiration)
	}
	return info
}

// Status reports whether the caller is signed in
func (h *AuthHandler) Status(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return c.JSON(fiber.Map{"authenticated": false})
	}
	info := h.sessionInfo(sess)
	if !info.Authenticated || info.UserEmail == "" {
		return c.JSON(fiber.Map{"authenticated": false})
	}

	user := &models.UserProfile{Email: info.UserEmail}
	if sealed, _ := sess.Get(middleware.SessionToken).(string); sealed != "" {
		if mail, err := h.open(c.UserContext(), sealed); err == nil {
			if p, err := mail.Profile(c.UserContext()); err == nil {
				user = p
			} else {
				utils.Log.Debug("Profile lookup for status failed: %v", err)
			}
		}
	}

	return c.JSON(fiber.Map{
		"authenticated": true,
		"user":          user,
		"session":       info,
	})
}

// Logout revokes the provider token and destroys the session
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return utils.InternalServerError("Session error", err)
	}

	if sealed, _ := sess.Get(middleware.SessionToken).(string); sealed != "" {
		if tok, err := openToken(h.sealer, sealed); err == nil {
			if err := h.oauth.Revoke(c.UserContext(), tok); err != nil {
				utils.Log.Warn("Token revocation failed: %v", err)
			}
		}
	}

	email, _ := sess.Get(middleware.SessionEmail).(string)
	if err := sess.Destroy(); err != nil {
		return utils.InternalServerError("Error during logout", err)
	}
	if email != "" {
		utils.Log.WithField("user", email).Info("User signed out")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out successfully",
	})
}

// Profile returns the signed-in mailbox owner's profile
func (h *AuthHandler) Profile(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return utils.InternalServerError("Session error", err)
	}
	sealed, _ := sess.Get(middleware.SessionToken).(string)
	mail, err := h.open(c.UserContext(), sealed)
	if err != nil {
		return utils.GmailNotConfiguredError(err)
	}

	profile, err := mail.Profile(c.UserContext())
	if err != nil {
		return utils.InternalServerError("Failed to read profile", fmt.Errorf("profile: %w", err))
	}
	return c.JSON(profile)
}
