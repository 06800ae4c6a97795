package models

import "time"

// UserProfile is the mailbox owner as reported by the provider
type UserProfile struct {
	Email         string `json:"email"`
	MessagesTotal int64  `json:"messages_total"`
	ThreadsTotal  int64  `json:"threads_total"`
}

// SessionInfo describes the current authenticated session
type SessionInfo struct {
	Authenticated  bool      `json:"authenticated"`
	UserEmail      string    `json:"user_email"`
	LoginTime      time.Time `json:"login_time"`
	ExpiresAt      time.Time `json:"expires_at"`
	HasCredentials bool      `json:"has_credentials"`
}
