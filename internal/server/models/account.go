// Package models holds the server-side domain types for the account
// identity and credential subsystem.
package models

import "time"

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusUnverified AccountStatus = "unverified"
	StatusEnabled    AccountStatus = "enabled"
	StatusDisabled   AccountStatus = "disabled"
)

// ChannelType names a contact channel that can be marked verified.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	ChannelPhone ChannelType = "phone"
)

// Phone is an E.164 number plus its ISO region code.
type Phone struct {
	Number string
	Region string
}

// AccountSubstudy associates an account with a sub-study. Each association
// may carry its own external id, scoped to that sub-study rather than
// global to the account.
type AccountSubstudy struct {
	SubstudyID string
	ExternalID string
}

// Account is the canonical identity record. Version increases by exactly 1
// on every successful update; a write presenting a stale version is
// rejected, never merged.
type Account struct {
	ID            string
	StudyID       string
	Email         string
	EmailVerified bool
	Phone         *Phone
	PhoneVerified bool
	// ExternalID is the legacy, single-value external id. New associations
	// carry per-sub-study external ids instead.
	ExternalID string
	HealthCode string

	PasswordHash       string
	PasswordAlgorithm  string
	PasswordModifiedOn time.Time

	ReauthTokenHash       string
	ReauthTokenAlgorithm  string
	ReauthTokenModifiedOn time.Time

	Status     AccountStatus
	DataGroups []string
	Languages  []string
	Substudies []AccountSubstudy

	CreatedOn  time.Time
	ModifiedOn time.Time
	Version    int64

	// ReauthToken holds the plaintext token issued during the current
	// authentication call, for return to the caller. Never persisted.
	ReauthToken string
}

// SubstudyExternalIDs returns the sub-study-scoped external ids, in
// association order, skipping associations without one.
func (a *Account) SubstudyExternalIDs() []string {
	var ids []string
	for _, as := range a.Substudies {
		if as.ExternalID != "" {
			ids = append(ids, as.ExternalID)
		}
	}
	return ids
}

// SignIn is the credential presented to Authenticate or Reauthenticate.
// Exactly one of Email or Phone identifies the account.
type SignIn struct {
	Email       string
	Phone       *Phone
	Password    string
	ReauthToken string
}
