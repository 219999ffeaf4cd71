package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/server/models"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
)

// FieldKind names the identifying field a unique constraint protects.
type FieldKind int

const (
	FieldUnknown FieldKind = iota
	FieldEmail
	FieldPhone
	FieldExternalID
)

// classifyIndexName maps a unique constraint name to the field it guards.
// Constraint names follow the Table-Column-Index convention, so matching
// on the suffix survives table renames.
func classifyIndexName(name string) FieldKind {
	switch {
	case strings.HasSuffix(name, "Email-Index"):
		return FieldEmail
	case strings.HasSuffix(name, "Phone-Index"):
		return FieldPhone
	case strings.HasSuffix(name, "ExternalId-Index"):
		return FieldExternalID
	}
	return FieldUnknown
}

// translateError converts raw store failures on account writes into
// classified domain errors. Unique violations become AlreadyExistsError
// naming the colliding field and, when it can be resolved, the existing
// account's id. Serialization failures become ErrConcurrentModification.
// Anything else passes through wrapped.
func (r *PostgresRepository) translateError(ctx context.Context, caller models.CallerContext, err error, account *models.Account) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("db error: %w", err)
	}

	switch pgErr.Code {
	case pgSerializationFailure:
		return common.ErrConcurrentModification
	case pgUniqueViolation:
		return r.translateUniqueViolation(ctx, caller, pgErr, account)
	}
	return fmt.Errorf("db error: %w", err)
}

func (r *PostgresRepository) translateUniqueViolation(ctx context.Context, caller models.CallerContext, pgErr *pgconn.PgError, account *models.Account) error {
	if account == nil {
		return &common.ConstraintViolationError{Message: "accounts table constraint prevented the operation"}
	}

	// Probes use the unguarded identifier form: the translator inspects
	// whichever field collided, regardless of how the caller addressed the
	// account.
	switch classifyIndexName(pgErr.ConstraintName) {
	case FieldEmail:
		if existing := r.lookupExisting(ctx, models.ForEmail(account.StudyID, account.Email).Unguarded()); existing != "" {
			return &common.AlreadyExistsError{Field: "email", ExistingID: existing}
		}
	case FieldPhone:
		if account.Phone != nil {
			if existing := r.lookupExisting(ctx, models.ForPhone(account.StudyID, *account.Phone).Unguarded()); existing != "" {
				return &common.AlreadyExistsError{Field: "phone", ExistingID: existing}
			}
		}
	case FieldExternalID:
		for _, extID := range externalIDCandidates(caller, account) {
			if existing := r.lookupExisting(ctx, models.ForExternalID(account.StudyID, extID).Unguarded()); existing != "" {
				return &common.AlreadyExistsError{Field: "externalId", ExistingID: existing}
			}
		}
		r.logger.Warn(ctx, "external id constraint violated but no existing account resolved",
			"study_id", account.StudyID, "constraint", pgErr.ConstraintName)
	}
	return &common.ConstraintViolationError{Message: "accounts table constraint prevented the operation"}
}

// lookupExisting resolves the id of the account already holding the
// identifier. Lookup failures during translation are swallowed; the
// caller falls back to a generic constraint violation.
func (r *PostgresRepository) lookupExisting(ctx context.Context, id models.AccountIdentifier) string {
	existing, err := r.Get(ctx, id)
	if err != nil || existing == nil {
		return ""
	}
	return existing.ID
}

// externalIDCandidates lists the external ids on the account worth probing
// for an existing holder. When the caller is scoped to particular
// sub-studies, only external ids from those sub-studies are candidates;
// the legacy account-level external id is always last.
func externalIDCandidates(caller models.CallerContext, account *models.Account) []string {
	var candidates []string
	for _, as := range account.Substudies {
		if as.ExternalID == "" {
			continue
		}
		if len(caller.Substudies) > 0 && !caller.PermitsSubstudy(as.SubstudyID) {
			continue
		}
		candidates = append(candidates, as.ExternalID)
	}
	if account.ExternalID != "" {
		candidates = append(candidates, account.ExternalID)
	}
	return candidates
}
