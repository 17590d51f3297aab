package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// PositionAlertRepository persists sent-alert markers so notification
// dispatch stays idempotent per (position, alert type).
type PositionAlertRepository struct {
	db *gorm.DB
}

func NewPositionAlertRepository() *PositionAlertRepository {
	return &PositionAlertRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *PositionAlertRepository) WithDB(db *gorm.DB) *PositionAlertRepository {
	return &PositionAlertRepository{db: db}
}

// MarkSent records the marker and reports whether this call created it.
// The unique index arbitrates concurrent senders: the loser sees a duplicate
// key and returns false, so the alert goes out exactly once.
func (r *PositionAlertRepository) MarkSent(ctx context.Context, positionID uint, alertType string) (bool, error) {
	marker := model.PositionAlert{
		TradePositionID: positionID,
		AlertType:       alertType,
	}

	err := r.db.WithContext(ctx).Create(&marker).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}
