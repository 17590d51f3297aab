package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

var (
	// ErrTerminalStatus rejects any transition out of a terminal job status.
	ErrTerminalStatus = errors.New("trade job is in a terminal status")
	// ErrReasonRequired enforces a reason on FAILED/SKIPPED/CANCELED.
	ErrReasonRequired = errors.New("reason code required for this transition")
)

// TradeJobRepository handles trade jobs. Status is only ever mutated through
// UpdateStatus, whose conditional WHERE clause keeps terminal states final
// even under concurrent writers.
type TradeJobRepository struct {
	db *gorm.DB
}

func NewTradeJobRepository() *TradeJobRepository {
	return &TradeJobRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TradeJobRepository) WithDB(db *gorm.DB) *TradeJobRepository {
	return &TradeJobRepository{db: db}
}

// Create persists a new job in PENDING (or PENDING_LIMIT) status.
func (r *TradeJobRepository) Create(ctx context.Context, job *model.TradeJob) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "TradeJobRepository",
		"op":     "Create",
		"symbol": job.Symbol,
		"side":   job.Side,
		"mode":   job.TradeMode,
	}).Debug("Creating new trade job")

	err := r.db.WithContext(ctx).Create(job).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeJobRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create trade job")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "TradeJobRepository",
		"op":     "Create",
		"job_id": job.ID,
		"status": job.Status,
	}).Info("Trade job created")

	return nil
}

// FindByID fetches a job with its executions preloaded.
// Returns (nil, nil) if the job is not found.
func (r *TradeJobRepository) FindByID(ctx context.Context, id uint) (*model.TradeJob, error) {
	var job model.TradeJob

	err := r.db.WithContext(ctx).
		Preload("Executions").
		First(&job, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "TradeJobRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch trade job")
		return nil, err
	}

	return &job, nil
}

// UpdateStatus is the only mutator of job status. Terminal FAILED, SKIPPED
// and CANCELED require a reason code. The WHERE clause excludes terminal
// statuses so a terminal job can never be re-opened; losing the race returns
// ErrTerminalStatus.
func (r *TradeJobRepository) UpdateStatus(ctx context.Context, id uint, status, reasonCode, reasonMessage string) error {
	switch status {
	case model.TradeJobStatusFailed, model.TradeJobStatusSkipped, model.TradeJobStatusCanceled:
		if reasonCode == "" {
			return ErrReasonRequired
		}
	}

	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if reasonCode != "" {
		updates["reason_code"] = reasonCode
		updates["reason_message"] = reasonMessage
	}
	if status == model.TradeJobStatusFilled || status == model.TradeJobStatusPartiallyFilled {
		updates["executed_at"] = time.Now()
	}

	res := r.db.WithContext(ctx).
		Model(&model.TradeJob{}).
		Where("id = ? AND status NOT IN ?", id, []string{
			model.TradeJobStatusFilled,
			model.TradeJobStatusPartiallyFilled,
			model.TradeJobStatusFailed,
			model.TradeJobStatusCanceled,
			model.TradeJobStatusSkipped,
		}).
		Updates(updates)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradeJobRepository",
			"op":     "UpdateStatus",
			"job_id": id,
			"status": status,
		}).WithError(res.Error).Error("Failed to update trade job status")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTerminalStatus
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "TradeJobRepository",
		"op":     "UpdateStatus",
		"job_id": id,
		"status": status,
		"reason": reasonCode,
	}).Info("Trade job status updated")

	return nil
}

// IncrementAttempt bumps the attempt counter and returns the new value.
// Each exchange call attempt derives its client order id from it.
func (r *TradeJobRepository) IncrementAttempt(ctx context.Context, id uint) (int, error) {
	err := r.db.WithContext(ctx).
		Model(&model.TradeJob{}).
		Where("id = ?", id).
		Update("attempt_count", gorm.Expr("attempt_count + 1")).Error
	if err != nil {
		return 0, err
	}

	var job model.TradeJob
	if err := r.db.WithContext(ctx).Select("attempt_count").First(&job, id).Error; err != nil {
		return 0, err
	}
	return job.AttemptCount, nil
}

// SetVaultReservation links a BUY job to its capital reservation.
func (r *TradeJobRepository) SetVaultReservation(ctx context.Context, id, reservationID uint) error {
	return r.db.WithContext(ctx).
		Model(&model.TradeJob{}).
		Where("id = ?", id).
		Update("vault_reservation_id", reservationID).Error
}

// FindByEventAndAccount fetches the job already created for a webhook event
// on an account, the duplicate-signal short circuit.
// Returns (nil, nil) if no job exists yet.
func (r *TradeJobRepository) FindByEventAndAccount(ctx context.Context, eventID, accountID uint) (*model.TradeJob, error) {
	var job model.TradeJob

	err := r.db.WithContext(ctx).
		Where("webhook_event_id = ? AND exchange_account_id = ?", eventID, accountID).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &job, nil
}

// FindExpiredLimits returns PENDING_LIMIT jobs whose expiry has passed.
func (r *TradeJobRepository) FindExpiredLimits(ctx context.Context, now time.Time, limit int) ([]model.TradeJob, error) {
	if limit <= 0 {
		limit = 50
	}

	var jobs []model.TradeJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND limit_expiry IS NOT NULL AND limit_expiry <= ?", model.TradeJobStatusPendingLimit, now).
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// FindPendingMarket returns MARKET jobs still PENDING past the cutoff.
// The dispatch sweep re-drives them; the age gate keeps it from racing a
// job being executed inline right after creation.
func (r *TradeJobRepository) FindPendingMarket(ctx context.Context, cutoff time.Time, limit int) ([]model.TradeJob, error) {
	if limit <= 0 {
		limit = 50
	}

	var jobs []model.TradeJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND order_type = ? AND updated_at < ?",
			model.TradeJobStatusPending, model.OrderTypeMarket, cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// FindStale returns non-terminal jobs untouched since the cutoff; the
// reconciliation sweep fails them and releases their reservations.
func (r *TradeJobRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]model.TradeJob, error) {
	if limit <= 0 {
		limit = 50
	}

	var jobs []model.TradeJob
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{
			model.TradeJobStatusPending,
			model.TradeJobStatusExecuting,
		}, cutoff).
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// TradeJobSearchOptions filters the paginated job listing.
type TradeJobSearchOptions struct {
	ExchangeAccountID *uint
	TradeMode         *string
	Symbol            *string
	Status            *string
	Limit             int
	Offset            int
}

// Search lists jobs newest first.
func (r *TradeJobRepository) Search(ctx context.Context, options TradeJobSearchOptions) ([]model.TradeJob, error) {
	query := r.db.WithContext(ctx).Model(&model.TradeJob{})

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

	var jobs []model.TradeJob
	err := query.
		Order("created_at DESC, id DESC").
		Limit(options.Limit).
		Offset(options.Offset).
		Find(&jobs).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeJobRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search trade jobs")
		return nil, err
	}

	return jobs, nil
}
