package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
	"github.com/dmitrijs2005/studykeeper/internal/dbx"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"github.com/dmitrijs2005/studykeeper/internal/server/models"
	"github.com/dmitrijs2005/studykeeper/internal/server/repositories/accountsecrets"
)

// accountColumns is the full projection of an account row. Array columns
// are flattened with array_to_string so they scan as plain text.
const accountColumns = `acct.id, acct.study_id, acct.email, acct.email_verified, ` +
	`acct.phone, acct.phone_region, acct.phone_verified, acct.external_id, acct.health_code, ` +
	`acct.password_hash, acct.password_algorithm, acct.password_modified_on, ` +
	`acct.reauth_token_hash, acct.reauth_token_algorithm, acct.reauth_token_modified_on, ` +
	`acct.status, array_to_string(acct.data_groups, ','), array_to_string(acct.languages, ','), ` +
	`acct.created_on, acct.modified_on, acct.version`

const substudyJoin = ` FROM accounts AS acct` +
	` LEFT JOIN account_substudies AS ss ON acct.id = ss.account_id`

type PostgresRepository struct {
	db        dbx.DBTX
	secrets   accountsecrets.Repository
	logger    logging.Logger
	rotations int
	now       func() time.Time
}

func NewPostgresRepository(db dbx.DBTX, secrets accountsecrets.Repository, logger logging.Logger, rotations int) *PostgresRepository {
	return &PostgresRepository{db: db, secrets: secrets, logger: logger, rotations: rotations, now: time.Now}
}

func (r *PostgresRepository) Authenticate(ctx context.Context, study models.Study, signIn models.SignIn) (*models.Account, error) {
	acct, err := r.resolveForAuth(ctx, study, signIn)
	if err != nil {
		return nil, err
	}
	if !r.checkCredential(ctx, acct.ID, "password", acct.PasswordAlgorithm, acct.PasswordHash, signIn.Password) {
		// Wrong password reports the same way as no account.
		return nil, common.ErrNotFound
	}
	if study.ReauthEnabled {
		r.rotateReauthToken(ctx, acct)
	}
	return acct, nil
}

func (r *PostgresRepository) Reauthenticate(ctx context.Context, study models.Study, signIn models.SignIn) (*models.Account, error) {
	if !study.ReauthEnabled {
		return nil, common.ErrUnauthorized
	}
	acct, err := r.resolveForAuth(ctx, study, signIn)
	if err != nil {
		return nil, err
	}
	_, err = r.secrets.VerifyForAccount(ctx, acct, models.SecretTypeReauth, signIn.ReauthToken, r.rotations)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	r.rotateReauthToken(ctx, acct)
	return acct, nil
}

func (r *PostgresRepository) ChangePassword(ctx context.Context, account *models.Account, channel models.ChannelType, newPassword string) error {
	alg := cryptox.Default()
	hash, err := alg.GenerateHash(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	// Load and update the whole row so the optimistic version check applies.
	fresh, err := r.Get(ctx, models.ForID(account.StudyID, account.ID))
	if err != nil {
		return err
	}
	if fresh == nil {
		return common.ErrNotFound
	}

	fresh.PasswordAlgorithm = alg.Name()
	fresh.PasswordHash = hash
	fresh.PasswordModifiedOn = r.now()
	switch channel {
	case models.ChannelEmail:
		fresh.EmailVerified = true
	case models.ChannelPhone:
		fresh.PhoneVerified = true
	}
	if fresh.Status == models.StatusUnverified {
		fresh.Status = models.StatusEnabled
	}
	return r.Update(ctx, models.CallerContext{}, fresh)
}

func (r *PostgresRepository) Get(ctx context.Context, id models.AccountIdentifier) (*models.Account, error) {
	qb := NewQueryBuilder()
	qb.Append("SELECT " + accountColumns + ", ss.substudy_id, ss.external_id" + substudyJoin)
	qb.Append(" WHERE acct.study_id = :studyId", "studyId", id.StudyID())

	switch id.Kind() {
	case models.KindID:
		qb.Append(" AND acct.id = :id", "id", id.ID())
	case models.KindEmail:
		qb.Append(" AND acct.email = :email", "email", id.Email())
	case models.KindPhone:
		phone := id.Phone()
		if phone == nil {
			return nil, common.ErrNotFound
		}
		qb.Append(" AND acct.phone = :phone AND acct.phone_region = :phoneRegion",
			"phone", phone.Number, "phoneRegion", phone.Region)
	case models.KindHealthCode:
		qb.Append(" AND acct.health_code = :healthCode", "healthCode", id.HealthCode())
	case models.KindExternalID:
		// The external id may live on the legacy field or on a sub-study
		// association.
		qb.Append(" AND (acct.external_id = :externalId OR ss.external_id = :externalId)",
			"externalId", id.ExternalID())
	default:
		return nil, fmt.Errorf("unsupported identifier kind %s", id.Kind())
	}

	accounts, err := r.queryAccounts(ctx, qb)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	if len(accounts) > 1 {
		r.logger.Warn(ctx, "multiple accounts found for the same identifier",
			"study_id", id.StudyID(), "kind", id.Kind().String(), "account_id", accounts[0].ID)
	}
	return accounts[0], nil
}

func (r *PostgresRepository) GetPagedSummaries(ctx context.Context, caller models.CallerContext, studyID string, search models.AccountSummarySearch) (*models.PagedAccountSummaries, error) {
	itemQB := NewQueryBuilder()
	itemQB.Append("SELECT DISTINCT acct.id, acct.study_id, acct.email, acct.phone, acct.phone_region, " +
		"acct.external_id, acct.created_on, acct.status" + substudyJoin)
	appendSearchPredicates(itemQB, studyID, caller, search)
	itemQB.Append(" ORDER BY acct.created_on")
	itemQB.Append(" LIMIT :limit OFFSET :offset", "limit", search.PageSize, "offset", search.Offset)

	countQB := NewQueryBuilder()
	countQB.Append("SELECT count(DISTINCT acct.id)" + substudyJoin)
	appendSearchPredicates(countQB, studyID, caller, search)

	items, err := r.querySummaries(ctx, itemQB)
	if err != nil {
		return nil, err
	}
	total, err := r.queryCount(ctx, countQB)
	if err != nil {
		return nil, err
	}
	return &models.PagedAccountSummaries{Items: items, Total: total, Search: search}, nil
}

func (r *PostgresRepository) Create(ctx context.Context, caller models.CallerContext, account *models.Account) error {
	query :=
		`INSERT INTO accounts (id, study_id, email, email_verified, phone, phone_region, phone_verified,
		     external_id, health_code, password_hash, password_algorithm, password_modified_on,
		     reauth_token_hash, reauth_token_algorithm, reauth_token_modified_on, status,
		     data_groups, languages, created_on, modified_on, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		     string_to_array(NULLIF($17, ''), ','), string_to_array(NULLIF($18, ''), ','), $19, $20, $21)
		 `

	var phone, phoneRegion any
	if account.Phone != nil {
		phone, phoneRegion = account.Phone.Number, account.Phone.Region
	}
	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.StudyID, nullString(account.Email), account.EmailVerified,
		phone, phoneRegion, account.PhoneVerified,
		nullString(account.ExternalID), nullString(account.HealthCode),
		nullString(account.PasswordHash), nullString(account.PasswordAlgorithm), nullTime(account.PasswordModifiedOn),
		nullString(account.ReauthTokenHash), nullString(account.ReauthTokenAlgorithm), nullTime(account.ReauthTokenModifiedOn),
		string(account.Status), strings.Join(account.DataGroups, ","), strings.Join(account.Languages, ","),
		account.CreatedOn, account.ModifiedOn, account.Version)
	if err != nil {
		return r.translateError(ctx, caller, err, account)
	}
	return r.insertSubstudies(ctx, caller, account)
}

func (r *PostgresRepository) Update(ctx context.Context, caller models.CallerContext, account *models.Account) error {
	persisted, err := r.Get(ctx, models.ForID(account.StudyID, account.ID))
	if err != nil {
		return err
	}
	if persisted == nil {
		return common.ErrNotFound
	}

	// Identifying fields cannot change through an ordinary update. That
	// covers sub-study external ids too: existing associations keep their
	// persisted value, new ones start without one.
	if !caller.CanUpdateIdentifiers {
		account.Email = persisted.Email
		account.Phone = persisted.Phone
		account.ExternalID = persisted.ExternalID
		persistedExt := make(map[string]string, len(persisted.Substudies))
		for _, as := range persisted.Substudies {
			persistedExt[as.SubstudyID] = as.ExternalID
		}
		for i := range account.Substudies {
			account.Substudies[i].ExternalID = persistedExt[account.Substudies[i].SubstudyID]
		}
	}
	// Creation and password timestamps are never writable here.
	account.CreatedOn = persisted.CreatedOn
	account.ModifiedOn = r.now()

	query :=
		`UPDATE accounts SET email = $1, email_verified = $2, phone = $3, phone_region = $4,
		     phone_verified = $5, external_id = $6, health_code = $7,
		     password_hash = $8, password_algorithm = $9, password_modified_on = $10,
		     reauth_token_hash = $11, reauth_token_algorithm = $12, reauth_token_modified_on = $13,
		     status = $14, data_groups = string_to_array(NULLIF($15, ''), ','),
		     languages = string_to_array(NULLIF($16, ''), ','), modified_on = $17,
		     version = version + 1
		 WHERE id = $18 AND version = $19
		 `

	var phone, phoneRegion any
	if account.Phone != nil {
		phone, phoneRegion = account.Phone.Number, account.Phone.Region
	}
	result, err := r.db.ExecContext(ctx, query,
		nullString(account.Email), account.EmailVerified, phone, phoneRegion,
		account.PhoneVerified, nullString(account.ExternalID), nullString(account.HealthCode),
		nullString(account.PasswordHash), nullString(account.PasswordAlgorithm), nullTime(account.PasswordModifiedOn),
		nullString(account.ReauthTokenHash), nullString(account.ReauthTokenAlgorithm), nullTime(account.ReauthTokenModifiedOn),
		string(account.Status), strings.Join(account.DataGroups, ","), strings.Join(account.Languages, ","),
		account.ModifiedOn, account.ID, account.Version)
	if err != nil {
		return r.translateError(ctx, caller, err, account)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		// The row exists but carries a different version.
		return common.ErrConcurrentModification
	}
	account.Version++

	if err := r.replaceSubstudies(ctx, caller, account); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, studyID, accountID string) error {
	query :=
		`DELETE FROM accounts
		 WHERE study_id = $1 AND id = $2
		 `

	// Sub-study associations and secrets cascade.
	if _, err := r.db.ExecContext(ctx, query, studyID, accountID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SignOut(ctx context.Context, id models.AccountIdentifier) error {
	acct, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if acct == nil {
		return nil
	}

	query :=
		`UPDATE accounts SET reauth_token_hash = NULL, reauth_token_algorithm = NULL,
		     reauth_token_modified_on = NULL, modified_on = $1, version = version + 1
		 WHERE id = $2
		 `

	if _, err := r.db.ExecContext(ctx, query, r.now(), acct.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.secrets.RemoveAll(ctx, models.SecretTypeReauth, acct.ID)
}

// resolveForAuth fetches the account for a sign-in credential and applies
// the status gates shared by both authentication paths.
func (r *PostgresRepository) resolveForAuth(ctx context.Context, study models.Study, signIn models.SignIn) (*models.Account, error) {
	var id models.AccountIdentifier
	switch {
	case signIn.Email != "":
		id = models.ForEmail(study.ID, signIn.Email)
	case signIn.Phone != nil:
		id = models.ForPhone(study.ID, *signIn.Phone)
	default:
		return nil, common.ErrNotFound
	}

	acct, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, common.ErrNotFound
	}
	if acct.Status == models.StatusDisabled {
		return nil, common.ErrUnauthorized
	}
	if acct.Status == models.StatusUnverified && study.VerifyChannelOnSignIn {
		return nil, common.ErrUnauthorized
	}
	return acct, nil
}

// checkCredential verifies a stored hash under its own stored algorithm.
// Missing or malformed credentials fail closed.
func (r *PostgresRepository) checkCredential(ctx context.Context, accountID, kind, algorithmTag, hash, plaintext string) bool {
	if algorithmTag == "" || hash == "" {
		r.logger.Error(ctx, "account is enabled but has no credential",
			"account_id", accountID, "credential", kind)
		return false
	}
	alg, err := cryptox.ByName(algorithmTag)
	if err != nil {
		r.logger.Error(ctx, "account credential uses unknown algorithm",
			"account_id", accountID, "credential", kind, "algorithm", algorithmTag)
		return false
	}
	ok, err := alg.CheckHash(hash, plaintext)
	if err != nil {
		r.logger.Error(ctx, "account credential hash is malformed",
			"account_id", accountID, "credential", kind, "error", err)
		return false
	}
	return ok
}

// rotateReauthToken issues a fresh reauth secret. Rotation is best-effort:
// a storage failure only means the client signs in again later, so it is
// logged and the authentication call still succeeds.
func (r *PostgresRepository) rotateReauthToken(ctx context.Context, acct *models.Account) {
	token := cryptox.NewSecureToken()
	if err := r.secrets.Create(ctx, models.SecretTypeReauth, acct.ID, token); err != nil {
		r.logger.Warn(ctx, "reauth token rotation failed",
			"account_id", acct.ID, "error", err)
		return
	}
	acct.ReauthToken = token
}

func (r *PostgresRepository) insertSubstudies(ctx context.Context, caller models.CallerContext, account *models.Account) error {
	query :=
		`INSERT INTO account_substudies (account_id, study_id, substudy_id, external_id)
		 VALUES ($1, $2, $3, $4)
		 `

	for _, as := range account.Substudies {
		_, err := r.db.ExecContext(ctx, query, account.ID, account.StudyID, as.SubstudyID, nullString(as.ExternalID))
		if err != nil {
			return r.translateError(ctx, caller, err, account)
		}
	}
	return nil
}

func (r *PostgresRepository) replaceSubstudies(ctx context.Context, caller models.CallerContext, account *models.Account) error {
	query :=
		`DELETE FROM account_substudies
		 WHERE account_id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, account.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.insertSubstudies(ctx, caller, account)
}

func (r *PostgresRepository) queryAccounts(ctx context.Context, qb *QueryBuilder) ([]*models.Account, error) {
	query, args := qb.SQL()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	return scanJoinedAccounts(rows)
}

func (r *PostgresRepository) querySummaries(ctx context.Context, qb *QueryBuilder) ([]models.AccountSummary, error) {
	query, args := qb.SQL()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var summaries []models.AccountSummary
	for rows.Next() {
		var (
			s                              models.AccountSummary
			email, phone, region, external sql.NullString
			status                         string
		)
		if err := rows.Scan(&s.ID, &s.StudyID, &email, &phone, &region, &external, &s.CreatedOn, &status); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		s.Email = email.String
		s.ExternalID = external.String
		s.Status = models.AccountStatus(status)
		if phone.Valid {
			s.Phone = &models.Phone{Number: phone.String, Region: region.String}
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return summaries, nil
}

func (r *PostgresRepository) queryCount(ctx context.Context, qb *QueryBuilder) (int, error) {
	query, args := qb.SQL()
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

// appendSearchPredicates adds the shared predicate set for paged search.
// Both the item query and the count query are built through this function,
// so the two cannot diverge in which rows they consider matching.
func appendSearchPredicates(qb *QueryBuilder, studyID string, caller models.CallerContext, search models.AccountSummarySearch) {
	qb.Append(" WHERE acct.study_id = :studyId", "studyId", studyID)
	if search.EmailFilter != "" {
		qb.Append(" AND acct.email LIKE :email", "email", "%"+search.EmailFilter+"%")
	}
	if search.PhoneFilter != "" {
		qb.Append(" AND acct.phone LIKE :phone", "phone", "%"+digitsOnly(search.PhoneFilter)+"%")
	}
	if !search.StartTime.IsZero() {
		qb.Append(" AND acct.created_on >= :startTime", "startTime", search.StartTime)
	}
	if !search.EndTime.IsZero() {
		qb.Append(" AND acct.created_on <= :endTime", "endTime", search.EndTime)
	}
	if search.Language != "" {
		qb.Append(" AND :language = ANY(acct.languages)", "language", search.Language)
	}
	qb.DataGroups(search.AllOfGroups, GroupAllOf)
	qb.DataGroups(search.NoneOfGroups, GroupNoneOf)
	qb.SubstudyIn(caller.Substudies)
}

// digitsOnly strips everything but digits, so a phone filter matches
// regardless of formatting.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func scanJoinedAccounts(rows *sql.Rows) ([]*models.Account, error) {
	var accounts []*models.Account
	byID := make(map[string]*models.Account)

	for rows.Next() {
		var (
			id, studyID, status                       string
			email, phone, phoneRegion                 sql.NullString
			externalID, healthCode                    sql.NullString
			emailVerified, phoneVerified              bool
			passwordHash, passwordAlg                 sql.NullString
			passwordModified                          sql.NullTime
			reauthHash, reauthAlg                     sql.NullString
			reauthModified                            sql.NullTime
			dataGroups, languages                     sql.NullString
			createdOn, modifiedOn                     time.Time
			version                                   int64
			substudyID, substudyExternalID            sql.NullString
		)
		err := rows.Scan(&id, &studyID, &email, &emailVerified, &phone, &phoneRegion, &phoneVerified,
			&externalID, &healthCode, &passwordHash, &passwordAlg, &passwordModified,
			&reauthHash, &reauthAlg, &reauthModified, &status, &dataGroups, &languages,
			&createdOn, &modifiedOn, &version, &substudyID, &substudyExternalID)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}

		acct, ok := byID[id]
		if !ok {
			acct = &models.Account{
				ID:                    id,
				StudyID:               studyID,
				Email:                 email.String,
				EmailVerified:         emailVerified,
				PhoneVerified:         phoneVerified,
				ExternalID:            externalID.String,
				HealthCode:            healthCode.String,
				PasswordHash:          passwordHash.String,
				PasswordAlgorithm:     passwordAlg.String,
				PasswordModifiedOn:    passwordModified.Time,
				ReauthTokenHash:       reauthHash.String,
				ReauthTokenAlgorithm:  reauthAlg.String,
				ReauthTokenModifiedOn: reauthModified.Time,
				Status:                models.AccountStatus(status),
				DataGroups:            splitList(dataGroups.String),
				Languages:             splitList(languages.String),
				CreatedOn:             createdOn,
				ModifiedOn:            modifiedOn,
				Version:               version,
			}
			if phone.Valid {
				acct.Phone = &models.Phone{Number: phone.String, Region: phoneRegion.String}
			}
			byID[id] = acct
			accounts = append(accounts, acct)
		}
		// One joined row per sub-study association; NULL when none exist.
		if substudyID.Valid {
			acct.Substudies = append(acct.Substudies, models.AccountSubstudy{
				SubstudyID: substudyID.String,
				ExternalID: substudyExternalID.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return accounts, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
