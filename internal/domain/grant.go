package domain

import "time"

// GoogleGrant persists one delegated Google authorization per account email.
// Tokens are updated in place on every successful callback for the same
// email; rows are only ever removed by an explicit admin delete.
type GoogleGrant struct {
	ID           int64
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Name         string
	Picture      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastUsedAt   *time.Time
}

// GoogleIdentity is the profile returned by Google for a delegated account.
type GoogleIdentity struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// GoogleTokens is the result of a code or refresh exchange.
type GoogleTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
}

// Form is the slice of the form entity this service owns: its key and the
// optional pointer to the grant backing its Sheets integration.
type Form struct {
	ID            string
	GoogleGrantID *int64
}
