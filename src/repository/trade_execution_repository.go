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

// TradeExecutionRepository appends exchange call results. Rows are created
// once per attempt and only updated to reflect exchange-side status
// progression of the same order.
type TradeExecutionRepository struct {
	db *gorm.DB
}

func NewTradeExecutionRepository() *TradeExecutionRepository {
	return &TradeExecutionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TradeExecutionRepository) WithDB(db *gorm.DB) *TradeExecutionRepository {
	return &TradeExecutionRepository{db: db}
}

// Create appends one execution row for an exchange call attempt.
func (r *TradeExecutionRepository) Create(ctx context.Context, execution *model.TradeExecution) error {
	if execution.RequestedAt.IsZero() {
		execution.RequestedAt = time.Now()
	}

	err := r.db.WithContext(ctx).Create(execution).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":            "TradeExecutionRepository",
			"op":              "Create",
			"job_id":          execution.TradeJobID,
			"client_order_id": execution.ClientOrderID,
		}).WithError(err).Error("Failed to create trade execution")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":            "TradeExecutionRepository",
		"op":              "Create",
		"execution_id":    execution.ID,
		"client_order_id": execution.ClientOrderID,
		"status":          execution.Status,
	}).Info("Trade execution recorded")

	return nil
}

// FindByClientOrderID fetches an execution by its idempotency key.
// Returns (nil, nil) if the execution is not found.
func (r *TradeExecutionRepository) FindByClientOrderID(ctx context.Context, clientOrderID string) (*model.TradeExecution, error) {
	var execution model.TradeExecution

	err := r.db.WithContext(ctx).
		Where("client_order_id = ?", clientOrderID).
		First(&execution).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &execution, nil
}

// UpdateProgress reflects asynchronous exchange-side progression of the same
// order: status, fill quantities, average price and the latest raw payload.
// Nothing else on the row may change.
func (r *TradeExecutionRepository) UpdateProgress(
	ctx context.Context,
	id uint,
	status string,
	executedQty, cummQuoteQty, avgPrice decimal.Decimal,
	rawResponse string,
) error {

	updates := map[string]interface{}{
		"status":         status,
		"executed_qty":   executedQty,
		"cumm_quote_qty": cummQuoteQty,
		"avg_price":      avgPrice,
		"updated_at":     time.Now(),
	}
	if rawResponse != "" {
		updates["raw_response"] = rawResponse
	}

	err := r.db.WithContext(ctx).
		Model(&model.TradeExecution{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "TradeExecutionRepository",
			"op":           "UpdateProgress",
			"execution_id": id,
			"status":       status,
		}).WithError(err).Error("Failed to update trade execution")
		return err
	}

	return nil
}

// FindByJob lists all execution attempts for one job, oldest first.
func (r *TradeExecutionRepository) FindByJob(ctx context.Context, jobID uint) ([]model.TradeExecution, error) {
	var executions []model.TradeExecution
	err := r.db.WithContext(ctx).
		Where("trade_job_id = ?", jobID).
		Order("id ASC").
		Find(&executions).Error
	return executions, err
}
