package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// ExchangeAccountRepository handles exchange account rows.
type ExchangeAccountRepository struct {
	db *gorm.DB
}

func NewExchangeAccountRepository() *ExchangeAccountRepository {
	return &ExchangeAccountRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *ExchangeAccountRepository) WithDB(db *gorm.DB) *ExchangeAccountRepository {
	return &ExchangeAccountRepository{db: db}
}

// Create inserts a new account. Credentials must arrive already encrypted.
func (r *ExchangeAccountRepository) Create(ctx context.Context, account *model.ExchangeAccount) error {
	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExchangeAccountRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create exchange account")
		return err
	}
	return nil
}

// FindByID fetches a single account.
// Returns (nil, nil) if the account is not found.
func (r *ExchangeAccountRepository) FindByID(ctx context.Context, id uint) (*model.ExchangeAccount, error) {
	var account model.ExchangeAccount

	err := r.db.WithContext(ctx).First(&account, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "ExchangeAccountRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch exchange account")
		return nil, err
	}

	return &account, nil
}
