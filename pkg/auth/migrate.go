package auth

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// LegacyAccountStore is what the offline password migration needs.
type LegacyAccountStore interface {
	ListLegacyAccounts(ctx context.Context) ([]*Account, error)
	SetPasswordHash(ctx context.Context, username, passwordHash string) error
}

// MigrationReport summarizes a legacy password migration run.
type MigrationReport struct {
	Found    int
	Migrated int
	Failed   []string
}

// MigrateLegacyPasswords hashes every plaintext password in place. With
// dryRun set it only counts them.
func MigrateLegacyPasswords(ctx context.Context, store LegacyAccountStore, hasher *PasswordHasher, dryRun bool, log logrus.FieldLogger) (*MigrationReport, error) {
	if hasher == nil {
		hasher = NewPasswordHasher(0)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	accounts, err := store.ListLegacyAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy accounts: %w", err)
	}

	report := &MigrationReport{Found: len(accounts)}
	if dryRun {
		return report, nil
	}

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		hash, err := hasher.Hash(account.PasswordHash)
		if err == nil {
			err = store.SetPasswordHash(ctx, account.Username, hash)
		}
		if err != nil {
			log.WithError(err).WithField("username", account.Username).Error("failed to migrate password")
			report.Failed = append(report.Failed, account.Username)
			continue
		}
		report.Migrated++
	}

	return report, nil
}
