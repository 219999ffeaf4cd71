// Package accountsecrets declares the repository contract for the
// append-only log of short-lived account secrets (reauthentication
// tokens). Verification considers only a bounded window of the most
// recent secrets, so devices holding a token from an earlier rotation
// are not locked out by a concurrent rotation.
package accountsecrets

import (
	"context"

	"github.com/dmitrijs2005/studykeeper/internal/server/models"
)

// Repository defines bounded-rotation storage and verification of account
// secrets.
type Repository interface {
	// Create hashes plaintext under the current default algorithm and
	// appends a new secret row. Existing rows are untouched.
	Create(ctx context.Context, t models.SecretType, accountID, plaintext string) error

	// Verify fetches the newest rotations rows for (accountID, t) and
	// returns the first whose stored hash matches plaintext under its own
	// stored algorithm. Returns ErrNotFound when none match or none exist.
	Verify(ctx context.Context, t models.SecretType, accountID, plaintext string, rotations int) (*models.AccountSecret, error)

	// VerifyForAccount behaves like Verify but additionally treats the
	// account's embedded reauth hash, when present, as an implicit secret
	// ahead of the stored rotation. This keeps tokens issued before the
	// rotation-table migration verifiable without a backfill.
	VerifyForAccount(ctx context.Context, account *models.Account, t models.SecretType, plaintext string, rotations int) (*models.AccountSecret, error)

	// RemoveAll deletes every secret of the given type for the account.
	// Removing zero rows is not an error.
	RemoveAll(ctx context.Context, t models.SecretType, accountID string) error
}
