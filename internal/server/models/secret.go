package models

import "time"

// SecretType partitions the append-only secret log per account.
type SecretType string

// SecretTypeReauth marks short-lived reauthentication tokens.
const SecretTypeReauth SecretType = "reauth"

// AccountSecret is one row of the append-only secret log for an account.
// Rows are never updated in place; rotation appends a new row and
// verification only considers the most recent few.
type AccountSecret struct {
	AccountID string
	Type      SecretType
	Algorithm string
	Hash      string
	CreatedOn time.Time
}
