package domain

import "errors"

var (
	// ErrGrantNotFound signals no stored grant matches the lookup key.
	ErrGrantNotFound = errors.New("google: grant not found")
	// ErrFormNotFound signals the form row does not exist.
	ErrFormNotFound = errors.New("google: form not found")
	// ErrNotConfigured indicates the Google OAuth client credentials are absent.
	ErrNotConfigured = errors.New("google: oauth client not configured")
	// ErrExchangeFailed indicates the provider rejected a code exchange.
	ErrExchangeFailed = errors.New("google: code exchange failed")
	// ErrReauthRequired indicates the refresh token is dead and the end user
	// must redo the OAuth flow. Callers surface this distinctly; retrying is
	// pointless.
	ErrReauthRequired = errors.New("google: re-authentication required")
)
