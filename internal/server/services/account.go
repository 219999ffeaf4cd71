// Package services contains server-side business logic. This file implements
// AccountService, which handles sign-up, sign-in, reauthentication, sign-out,
// and password changes, and mints session JWTs on successful authentication.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
	"github.com/dmitrijs2005/studykeeper/internal/dbx"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"github.com/dmitrijs2005/studykeeper/internal/server/auth"
	"github.com/dmitrijs2005/studykeeper/internal/server/config"
	"github.com/dmitrijs2005/studykeeper/internal/server/models"
	"github.com/dmitrijs2005/studykeeper/internal/server/repositories/repomanager"
)

// Session bundles everything a client holds after authenticating: the
// signed session token and the reauth token for silent renewal.
type Session struct {
	AccountID    string
	SessionToken string
	ReauthToken  string
}

// AccountService orchestrates account lifecycle and authentication flows on
// top of the account repositories.
type AccountService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	logger                       logging.Logger
	jwtSecret                    []byte
	sessionTokenValidityDuration time.Duration
}

// NewAccountService constructs an AccountService using repositories and
// server config.
func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, cfg *config.Config) *AccountService {
	return &AccountService{
		db:                           db,
		repomanager:                  m,
		logger:                       logger,
		jwtSecret:                    []byte(cfg.SecretKey),
		sessionTokenValidityDuration: cfg.SessionTokenValidityDuration,
	}
}

// SignUp creates a new account in the study with a generated id and health
// code. The password is hashed under the current default algorithm.
func (s *AccountService) SignUp(ctx context.Context, study models.Study, account *models.Account, password string) (*models.Account, error) {
	hash, err := cryptox.Default().GenerateHash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now()
	account.ID = uuid.NewString()
	account.StudyID = study.ID
	account.HealthCode = uuid.NewString()
	account.PasswordHash = hash
	account.PasswordAlgorithm = cryptox.DefaultAlgorithmName
	account.PasswordModifiedOn = now
	account.CreatedOn = now
	account.ModifiedOn = now
	account.Version = 1
	if study.VerifyChannelOnSignIn {
		account.Status = models.StatusUnverified
	} else {
		account.Status = models.StatusEnabled
	}

	// The account row and its sub-study associations land together or not
	// at all.
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Accounts(tx).Create(ctx, models.CallerContext{CanUpdateIdentifiers: true}, account)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "account created", "study_id", study.ID, "account_id", account.ID)
	return account, nil
}

// SignIn verifies the password credential and returns a session.
func (s *AccountService) SignIn(ctx context.Context, study models.Study, signIn models.SignIn) (*Session, error) {
	repo := s.repomanager.Accounts(s.db)
	account, err := repo.Authenticate(ctx, study, signIn)
	if err != nil {
		return nil, err
	}
	return s.newSession(ctx, study, account)
}

// Reauthenticate verifies the reauth token credential and returns a fresh
// session.
func (s *AccountService) Reauthenticate(ctx context.Context, study models.Study, signIn models.SignIn) (*Session, error) {
	repo := s.repomanager.Accounts(s.db)
	account, err := repo.Reauthenticate(ctx, study, signIn)
	if err != nil {
		return nil, err
	}
	return s.newSession(ctx, study, account)
}

// SignOut revokes the account's reauthentication state.
func (s *AccountService) SignOut(ctx context.Context, studyID, accountID string) error {
	repo := s.repomanager.Accounts(s.db)
	return repo.SignOut(ctx, models.ForID(studyID, accountID))
}

// ChangePassword updates the password and revokes existing reauth secrets
// in one transaction, so a stolen reauth token dies with the old password.
func (s *AccountService) ChangePassword(ctx context.Context, studyID, accountID string, channel models.ChannelType, newPassword string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		account, err := repo.Get(ctx, models.ForID(studyID, accountID))
		if err != nil {
			return err
		}
		if account == nil {
			return common.ErrNotFound
		}
		if err := repo.ChangePassword(ctx, account, channel, newPassword); err != nil {
			return err
		}
		return s.repomanager.AccountSecrets(tx).RemoveAll(ctx, models.SecretTypeReauth, account.ID)
	})
}

// GetAccount loads an account by identifier. Accounts created out-of-band
// get a health code minted on first load.
func (s *AccountService) GetAccount(ctx context.Context, id models.AccountIdentifier) (*models.Account, error) {
	repo := s.repomanager.Accounts(s.db)
	account, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}
	if account.HealthCode == "" {
		account.HealthCode = uuid.NewString()
		err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return s.repomanager.Accounts(tx).Update(ctx, models.CallerContext{}, account)
		})
		if err != nil {
			// A concurrent load may have backfilled it already.
			if errors.Is(err, common.ErrConcurrentModification) {
				return repo.Get(ctx, id)
			}
			return nil, err
		}
	}
	return account, nil
}

// DeleteAccount removes the account and everything cascading from it.
func (s *AccountService) DeleteAccount(ctx context.Context, studyID, accountID string) error {
	repo := s.repomanager.Accounts(s.db)
	return repo.Delete(ctx, studyID, accountID)
}

// GetPagedSummaries lists account summaries visible to the caller.
func (s *AccountService) GetPagedSummaries(ctx context.Context, caller models.CallerContext, studyID string, search models.AccountSummarySearch) (*models.PagedAccountSummaries, error) {
	repo := s.repomanager.Accounts(s.db)
	return repo.GetPagedSummaries(ctx, caller, studyID, search)
}

func (s *AccountService) newSession(ctx context.Context, study models.Study, account *models.Account) (*Session, error) {
	token, err := auth.GenerateToken(study.ID, account.ID, s.jwtSecret, s.sessionTokenValidityDuration)
	if err != nil {
		s.logger.Error(ctx, "session token generation failed", "account_id", account.ID, "error", err)
		return nil, common.ErrInternal
	}
	return &Session{
		AccountID:    account.ID,
		SessionToken: token,
		ReauthToken:  account.ReauthToken,
	}, nil
}
