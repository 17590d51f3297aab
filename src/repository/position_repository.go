package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// ErrPositionClosed rejects mutations that only make sense on an open position.
var ErrPositionClosed = errors.New("position is closed")

// PositionRepository handles positions, including the persisted sell lock.
// Every mutual-exclusion decision is a single conditional UPDATE: the WHERE
// clause is both the precondition check and the lock acquisition, so there
// is no check-then-act window even across processes.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create opens a new position.
func (r *PositionRepository) Create(ctx context.Context, position *model.TradePosition) error {
	if position.OpenedAt.IsZero() {
		position.OpenedAt = time.Now()
	}

	err := r.db.WithContext(ctx).Create(position).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "PositionRepository",
			"op":     "Create",
			"symbol": position.Symbol,
		}).WithError(err).Error("Failed to create position")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Create",
		"position_id": position.ID,
		"symbol":      position.Symbol,
		"qty":         position.QuantityRemaining.String(),
	}).Info("Position opened")

	return nil
}

// FindByID fetches a single position.
// Returns (nil, nil) if the position is not found.
func (r *PositionRepository) FindByID(ctx context.Context, id uint) (*model.TradePosition, error) {
	var position model.TradePosition

	err := r.db.WithContext(ctx).First(&position, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &position, nil
}

// FindOpen fetches the open position for (account, mode, symbol).
// Returns (nil, nil) when no position is open.
func (r *PositionRepository) FindOpen(ctx context.Context, accountID uint, tradeMode, symbol string) (*model.TradePosition, error) {
	var position model.TradePosition

	err := r.db.WithContext(ctx).
		Where("exchange_account_id = ? AND trade_mode = ? AND symbol = ? AND status = ?",
			accountID, tradeMode, symbol, model.PositionStatusOpen).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &position, nil
}

// FindEligibleForSell returns open positions with remaining quantity whose
// sell lock is free or expired, newest first. Webhook-originated sells also
// exclude positions flagged WebhookSellLocked.
func (r *PositionRepository) FindEligibleForSell(
	ctx context.Context,
	accountID uint,
	tradeMode, symbol string,
	webhookOrigin bool,
	now time.Time,
) ([]model.TradePosition, error) {

	query := r.db.WithContext(ctx).
		Where("exchange_account_id = ? AND trade_mode = ? AND symbol = ? AND status = ?",
			accountID, tradeMode, symbol, model.PositionStatusOpen).
		Where("quantity_remaining > 0").
		Where("sell_lock_job_id IS NULL OR sell_lock_expiry <= ?", now)

	if webhookOrigin {
		query = query.Where("webhook_sell_locked = ?", false)
	}

	var positions []model.TradePosition
	err := query.Order("opened_at DESC, id DESC").Find(&positions).Error
	return positions, err
}

// AcquireSellLock takes the TTL-bound sell lock for jobID. The acquisition
// conditions live entirely in the WHERE clause: position OPEN with quantity
// remaining, and lock free, expired, or already held by the same job
// (reentrant). Returns false when another job holds a live lock.
func (r *PositionRepository) AcquireSellLock(ctx context.Context, positionID, jobID uint, ttl time.Duration, now time.Time) (bool, error) {
	expiry := now.Add(ttl)

	res := r.db.WithContext(ctx).
		Model(&model.TradePosition{}).
		Where("id = ? AND status = ? AND quantity_remaining > 0", positionID, model.PositionStatusOpen).
		Where("sell_lock_job_id IS NULL OR sell_lock_expiry <= ? OR sell_lock_job_id = ?", now, jobID).
		Updates(map[string]interface{}{
			"sell_lock_job_id": jobID,
			"sell_lock_expiry": expiry,
			"updated_at":       now,
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "AcquireSellLock",
			"position_id": positionID,
			"job_id":      jobID,
		}).WithError(res.Error).Error("Failed to acquire sell lock")
		return false, res.Error
	}

	acquired := res.RowsAffected > 0

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "AcquireSellLock",
		"position_id": positionID,
		"job_id":      jobID,
		"acquired":    acquired,
	}).Debug("Sell lock acquisition attempted")

	return acquired, nil
}

// ReleaseSellLock clears the lock only while jobID still owns it. Releasing
// a lock you don't hold is a no-op returning false, never an error.
func (r *PositionRepository) ReleaseSellLock(ctx context.Context, positionID, jobID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.TradePosition{}).
		Where("id = ? AND sell_lock_job_id = ?", positionID, jobID).
		Updates(map[string]interface{}{
			"sell_lock_job_id": nil,
			"sell_lock_expiry": nil,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

// ApplyBuyFill adds a fill to an open position, recomputing the weighted
// average entry price. The caller passes the already-computed new values;
// the status condition keeps the write off closed positions.
func (r *PositionRepository) ApplyBuyFill(ctx context.Context, positionID uint, newQty, newAvgPrice decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&model.TradePosition{}).
		Where("id = ? AND status = ?", positionID, model.PositionStatusOpen).
		Updates(map[string]interface{}{
			"quantity_remaining": newQty,
			"opening_price":      newAvgPrice,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPositionClosed
	}
	return nil
}

// ApplySellFill reduces remaining quantity and accumulates realized P&L.
// When closing, it clears the sell lock in the same write.
func (r *PositionRepository) ApplySellFill(
	ctx context.Context,
	positionID uint,
	newQty, newRealizedPnl decimal.Decimal,
	closed bool,
	closeReason string,
) error {

	updates := map[string]interface{}{
		"quantity_remaining": newQty,
		"realized_pnl_usd":   newRealizedPnl,
		"updated_at":         time.Now(),
	}
	if closed {
		updates["status"] = model.PositionStatusClosed
		updates["close_reason"] = closeReason
		updates["closed_at"] = time.Now()
		updates["sell_lock_job_id"] = nil
		updates["sell_lock_expiry"] = nil
	}

	res := r.db.WithContext(ctx).
		Model(&model.TradePosition{}).
		Where("id = ? AND status = ?", positionID, model.PositionStatusOpen).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPositionClosed
	}
	return nil
}

// UpdateSLTP mutates the SL/TP configuration of an open position. Refuses
// to toggle anything on a CLOSED position.
func (r *PositionRepository) UpdateSLTP(
	ctx context.Context,
	positionID uint,
	slEnabled bool, slPct decimal.Decimal,
	tpEnabled bool, tpPct decimal.Decimal,
) error {

	res := r.db.WithContext(ctx).
		Model(&model.TradePosition{}).
		Where("id = ? AND status = ?", positionID, model.PositionStatusOpen).
		Updates(map[string]interface{}{
			"stop_loss_enabled":   slEnabled,
			"stop_loss_pct":       slPct,
			"take_profit_enabled": tpEnabled,
			"take_profit_pct":     tpPct,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPositionClosed
	}
	return nil
}

// SetWebhookSellLocked toggles the webhook-sell block flag.
func (r *PositionRepository) SetWebhookSellLocked(ctx context.Context, positionID uint, locked bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.TradePosition{}).
		Where("id = ? AND status = ?", positionID, model.PositionStatusOpen).
		Updates(map[string]interface{}{
			"webhook_sell_locked": locked,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPositionClosed
	}
	return nil
}

// FindOpenWithSLTP returns open positions with SL or TP enabled, for the
// monitor sweep.
func (r *PositionRepository) FindOpenWithSLTP(ctx context.Context, limit int) ([]model.TradePosition, error) {
	if limit <= 0 {
		limit = 100
	}

	var positions []model.TradePosition
	err := r.db.WithContext(ctx).
		Where("status = ? AND (stop_loss_enabled = ? OR take_profit_enabled = ?)",
			model.PositionStatusOpen, true, true).
		Limit(limit).
		Find(&positions).Error
	return positions, err
}

// PositionSearchOptions filters the paginated position listing.
type PositionSearchOptions struct {
	ExchangeAccountID *uint
	TradeMode         *string
	Symbol            *string
	Status            *string
	Limit             int
	Offset            int
}

// Search lists positions newest first.
func (r *PositionRepository) Search(ctx context.Context, options PositionSearchOptions) ([]model.TradePosition, error) {
	query := r.db.WithContext(ctx).Model(&model.TradePosition{})

	if options.ExchangeAccountID != nil {
		query = query.Where("exchange_account_id = ?", *options.ExchangeAccountID)
	}
	if options.TradeMode != nil {
		query = query.Where("trade_mode = ?", *options.TradeMode)
	}
	if options.Symbol != nil {
		query = query.Where("symbol = ?", *options.Symbol)
	}
	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}

	if options.Limit <= 0 {
		options.Limit = 20
	}

	var positions []model.TradePosition
	err := query.
		Order("opened_at DESC, id DESC").
		Limit(options.Limit).
		Offset(options.Offset).
		Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search positions")
		return nil, err
	}

	return positions, nil
}
