// Package accounts implements the account repository: identifier-based
// lookup, authentication and reauthentication, paged search, and writes
// with optimistic concurrency. Raw store failures on writes are translated
// into classified domain errors before they leave this package.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/studykeeper/internal/server/models"
)

// Repository defines the account identity and credential operations.
//
// Error classification: lookups that resolve no account and credential
// checks that fail both yield ErrNotFound, so a caller cannot distinguish
// "no such account" from "wrong secret" (enumeration resistance). Disabled
// accounts and unverified accounts under a verification policy yield
// ErrUnauthorized. Writes with a stale version yield
// ErrConcurrentModification; uniqueness collisions yield
// *common.AlreadyExistsError or *common.ConstraintViolationError.
type Repository interface {
	// Authenticate resolves the account for signIn's email or phone within
	// the study and verifies the password. On success, when reauthentication
	// is enabled for the study, a fresh reauth token is issued best-effort
	// and returned on the account.
	Authenticate(ctx context.Context, study models.Study, signIn models.SignIn) (*models.Account, error)

	// Reauthenticate verifies signIn's reauth token against the bounded
	// rotation window. The study's ReauthEnabled flag gates the whole call.
	Reauthenticate(ctx context.Context, study models.Study, signIn models.SignIn) (*models.Account, error)

	// ChangePassword reloads the account by id, rehashes the password under
	// the current default algorithm, marks the channel verified when
	// non-empty, and enables a still-unverified account.
	ChangePassword(ctx context.Context, account *models.Account, channel models.ChannelType, newPassword string) error

	// Get dispatches on the identifier's discriminant. It returns
	// (nil, nil) when no row matches.
	Get(ctx context.Context, id models.AccountIdentifier) (*models.Account, error)

	// GetPagedSummaries returns one page of account summaries plus the
	// total count of matching rows, built from identical predicates.
	GetPagedSummaries(ctx context.Context, caller models.CallerContext, studyID string, search models.AccountSummarySearch) (*models.PagedAccountSummaries, error)

	// Create inserts a new account with its sub-study associations.
	Create(ctx context.Context, caller models.CallerContext, account *models.Account) error

	// Update persists the account with an optimistic version check.
	// Identifying fields are preserved from the stored row unless the
	// caller context permits changing them.
	Update(ctx context.Context, caller models.CallerContext, account *models.Account) error

	// Delete hard-deletes the account by id. Deleting a missing account is
	// not an error.
	Delete(ctx context.Context, studyID, accountID string) error

	// SignOut revokes reauthentication: it clears the embedded reauth hash
	// and removes all stored reauth secrets.
	SignOut(ctx context.Context, id models.AccountIdentifier) error
}
