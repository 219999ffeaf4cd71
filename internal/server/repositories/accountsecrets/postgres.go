package accountsecrets

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
	"github.com/dmitrijs2005/studykeeper/internal/dbx"
	"github.com/dmitrijs2005/studykeeper/internal/server/models"
)

type PostgresRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func (r *PostgresRepository) Create(ctx context.Context, t models.SecretType, accountID, plaintext string) error {
	alg := cryptox.Default()
	hash, err := alg.GenerateHash(plaintext)
	if err != nil {
		return fmt.Errorf("hashing secret: %w", err)
	}

	query :=
		`INSERT INTO account_secrets (account_id, type, algorithm, hash, created_on)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	_, err = r.db.ExecContext(ctx, query, accountID, string(t), alg.Name(), hash, r.now())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Verify(ctx context.Context, t models.SecretType, accountID, plaintext string, rotations int) (*models.AccountSecret, error) {
	secrets, err := r.recent(ctx, t, accountID, rotations)
	if err != nil {
		return nil, err
	}
	return firstMatch(secrets, plaintext)
}

func (r *PostgresRepository) VerifyForAccount(ctx context.Context, account *models.Account, t models.SecretType, plaintext string, rotations int) (*models.AccountSecret, error) {
	secrets, err := r.recent(ctx, t, account.ID, rotations)
	if err != nil {
		return nil, err
	}
	if account.ReauthTokenHash != "" && account.ReauthTokenAlgorithm != "" {
		// Pre-migration token stored on the account row itself; checked
		// ahead of the rotation log.
		embedded := models.AccountSecret{
			AccountID: account.ID,
			Type:      t,
			Algorithm: account.ReauthTokenAlgorithm,
			Hash:      account.ReauthTokenHash,
			CreatedOn: account.ReauthTokenModifiedOn,
		}
		secrets = append([]models.AccountSecret{embedded}, secrets...)
	}
	return firstMatch(secrets, plaintext)
}

func (r *PostgresRepository) RemoveAll(ctx context.Context, t models.SecretType, accountID string) error {
	query :=
		`DELETE FROM account_secrets
		 WHERE account_id = $1 AND type = $2
		 `

	_, err := r.db.ExecContext(ctx, query, accountID, string(t))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// recent returns the newest limit rows for (accountID, t), newest first.
func (r *PostgresRepository) recent(ctx context.Context, t models.SecretType, accountID string, limit int) ([]models.AccountSecret, error) {
	query :=
		`SELECT account_id, type, algorithm, hash, created_on FROM account_secrets
		 WHERE account_id = $1 AND type = $2
		 ORDER BY created_on DESC
		 LIMIT $3
		 `

	rows, err := r.db.QueryContext(ctx, query, accountID, string(t), limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var secrets []models.AccountSecret
	for rows.Next() {
		var s models.AccountSecret
		if err := rows.Scan(&s.AccountID, &s.Type, &s.Algorithm, &s.Hash, &s.CreatedOn); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		secrets = append(secrets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return secrets, nil
}

// firstMatch checks plaintext against each candidate under the candidate's
// own stored algorithm. Unknown tags and malformed hashes fail closed.
func firstMatch(secrets []models.AccountSecret, plaintext string) (*models.AccountSecret, error) {
	for i := range secrets {
		alg, err := cryptox.ByName(secrets[i].Algorithm)
		if err != nil {
			continue
		}
		ok, err := alg.CheckHash(secrets[i].Hash, plaintext)
		if err != nil || !ok {
			continue
		}
		return &secrets[i], nil
	}
	return nil, common.ErrNotFound
}
