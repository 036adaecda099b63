package models

import "time"

// Account is one connected seller account on the marketplace.
// Credentials are refreshed by the account service; the replication
// engine only ever reads them.
type Account struct {
	Slug           string     `json:"slug" yaml:"slug"`
	Name           string     `json:"name" yaml:"name"`
	UserID         int64      `json:"user_id" yaml:"user_id"`
	AppID          string     `json:"-" yaml:"app_id"`
	AppSecret      string     `json:"-" yaml:"app_secret"`
	Active         bool       `json:"active" yaml:"active"`
	AccessToken    string     `json:"-" yaml:"-"`
	RefreshToken   string     `json:"-" yaml:"refresh_token"`
	TokenExpiresAt *time.Time `json:"-" yaml:"-"`
}

// TokenValid reports whether the stored access token is still usable.
func (a Account) TokenValid(now time.Time) bool {
	if a.AccessToken == "" || a.TokenExpiresAt == nil {
		return false
	}
	return a.TokenExpiresAt.After(now)
}
