package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/model"
	"tradeexecutor/src/positions"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/security"
	"tradeexecutor/src/sizing"
	"tradeexecutor/src/vault"
)

var (
	// ErrPositionBusy means another job holds the sell lock. Recoverable;
	// callers surface it as "try again shortly".
	ErrPositionBusy = errors.New("position busy, try again shortly")
	// ErrAccountInactive rejects job creation on a disabled account.
	ErrAccountInactive = errors.New("exchange account is inactive")
	// ErrJobNotFound is returned when the job id does not exist.
	ErrJobNotFound = errors.New("trade job not found")
)

// ConnectorFactory builds the exchange client for one account with its
// decrypted credentials.
type ConnectorFactory func(account *model.ExchangeAccount) (connectors.ExchangeConnector, error)

// DefaultConnectorFactory decrypts the stored API credentials and selects
// the connector by exchange name. SIMULATION accounts skip decryption.
func DefaultConnectorFactory(account *model.ExchangeAccount) (connectors.ExchangeConnector, error) {
	if strings.EqualFold(account.TradeMode, model.TradeModeSimulation) {
		return connectors.NewConnector("SIMULATION", "", "")
	}

	apiKey, err := security.DecryptString(account.APIKeyEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key for account %d: %w", account.ID, err)
	}
	apiSecret, err := security.DecryptString(account.APISecretEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt api secret for account %d: %w", account.ID, err)
	}

	return connectors.NewConnector(account.ExchangeName, apiKey, apiSecret)
}

// Service drives trade jobs from creation to a terminal status. All status
// writes funnel through the repository's guarded updater, so a terminal job
// can never be re-driven even if two processes race on the same id.
type Service struct {
	jobs       *repository.TradeJobRepository
	executions *repository.TradeExecutionRepository
	accounts   *repository.ExchangeAccountRepository
	vault      *vault.Ledger
	positions  *positions.Ledger
	exceptions *repository.ExceptionRepository
	sizer      *sizing.Resolver
	factory    ConnectorFactory
	config     Config
	now        func() time.Time

	mu        sync.Mutex
	connCache map[uint]connectors.ExchangeConnector
}

func NewService() *Service {
	config := GetConfig()
	return &Service{
		jobs:       repository.NewTradeJobRepository(),
		executions: repository.NewTradeExecutionRepository(),
		accounts:   repository.NewExchangeAccountRepository(),
		vault:      vault.NewLedger(),
		positions:  positions.NewLedger(repository.NewPositionRepository()),
		exceptions: repository.NewExceptionRepository(),
		sizer:      sizing.NewResolver(decimal.RequireFromString(config.MinNotional)),
		factory:    DefaultConnectorFactory,
		config:     config,
		now:        time.Now,
		connCache:  map[uint]connectors.ExchangeConnector{},
	}
}

// WithDeps allows overriding the wired dependencies. Useful for tests.
func (s *Service) WithDeps(
	jobs *repository.TradeJobRepository,
	executions *repository.TradeExecutionRepository,
	accounts *repository.ExchangeAccountRepository,
	vaultLedger *vault.Ledger,
	positionLedger *positions.Ledger,
	exceptions *repository.ExceptionRepository,
	factory ConnectorFactory,
) *Service {
	s.jobs = jobs
	s.executions = executions
	s.accounts = accounts
	s.vault = vaultLedger
	s.positions = positionLedger
	s.exceptions = exceptions
	s.factory = factory
	s.connCache = map[uint]connectors.ExchangeConnector{}
	return s
}

// CreateJobRequest captures one trading intent before sizing.
type CreateJobRequest struct {
	WebhookEventID *uint
	AccountID      uint
	Symbol         string
	Side           string
	OrderType      string
	LimitPrice     *decimal.Decimal
	LimitExpiry    *time.Time

	// QuoteAmount overrides percent-of-vault sizing for BUY jobs.
	QuoteAmount *decimal.Decimal
	// BaseQuantity sizes SELL jobs; nil sells the full position.
	BaseQuantity *decimal.Decimal
	SellOrigin   string

	// SkipReason pre-rejects the job: it is persisted for audit and goes
	// straight to SKIPPED without sizing or reservation. Used when a gate
	// check (e.g. the source rate limit) already rejected the signal.
	SkipReason        string
	SkipReasonMessage string
}

// CreateJob persists a new job and runs the pre-trade gate: sizing
// resolution and, for vault-funded buys, the capital reservation. Jobs
// rejected by the gate land in SKIPPED with a reason; the exchange is never
// called from here.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*model.TradeJob, error) {
	account, err := s.accounts.FindByID(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("exchange account %d not found", req.AccountID)
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}

	// One job per (webhook event, account): a replayed delivery returns the
	// job the first delivery created.
	if req.WebhookEventID != nil {
		existing, err := s.jobs.FindByEventAndAccount(ctx, *req.WebhookEventID, req.AccountID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = model.OrderTypeMarket
	}

	job := &model.TradeJob{
		WebhookEventID:    req.WebhookEventID,
		ExchangeAccountID: account.ID,
		TradeMode:         account.TradeMode,
		Symbol:            req.Symbol,
		Side:              req.Side,
		OrderType:         orderType,
		Status:            model.TradeJobStatusPending,
		LimitPrice:        req.LimitPrice,
		LimitExpiry:       req.LimitExpiry,
		SellOrigin:        req.SellOrigin,
	}
	if req.BaseQuantity != nil {
		job.BaseQuantity = sizing.NormalizeQuantity(*req.BaseQuantity)
	}

	if req.SkipReason != "" {
		if err := s.jobs.Create(ctx, job); err != nil {
			return nil, err
		}
		if err := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusSkipped,
			req.SkipReason, req.SkipReasonMessage); err != nil {
			return nil, err
		}
		job.Status = model.TradeJobStatusSkipped
		return job, nil
	}

	if req.Side == model.TradeSideBuy {
		quoteAmount, sizeErr := s.resolveBuyAmount(ctx, account, req)
		if sizeErr != nil {
			if errors.Is(sizeErr, sizing.ErrBelowMinNotional) {
				if err := s.jobs.Create(ctx, job); err != nil {
					return nil, err
				}
				if err := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusSkipped,
					model.ReasonSizingRejected, sizeErr.Error()); err != nil {
					return nil, err
				}
				job.Status = model.TradeJobStatusSkipped
				return job, nil
			}
			return nil, sizeErr
		}
		job.QuoteAmount = quoteAmount
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if req.Side == model.TradeSideBuy && account.VaultID != nil {
		asset := s.quoteAssetOf(req.Symbol)
		reservationID, err := s.vault.Reserve(ctx, *account.VaultID, asset, job.QuoteAmount, &job.ID)
		if err != nil {
			if errors.Is(err, vault.ErrInsufficientFunds) {
				if uerr := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusSkipped,
					model.ReasonInsufficientFunds, err.Error()); uerr != nil {
					return nil, uerr
				}
				job.Status = model.TradeJobStatusSkipped
				return job, nil
			}
			return nil, err
		}
		if err := s.jobs.SetVaultReservation(ctx, job.ID, reservationID); err != nil {
			return nil, err
		}
		job.VaultReservationID = &reservationID
	}

	if orderType != model.OrderTypeMarket {
		if err := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusPendingLimit, "", ""); err != nil {
			return nil, err
		}
		job.Status = model.TradeJobStatusPendingLimit
	}

	logger.WithFields(logger.Fields{
		"jobID":  job.ID,
		"symbol": job.Symbol,
		"side":   job.Side,
		"status": job.Status,
	}).Info("Trade job created")

	return job, nil
}

// Execute drives one PENDING or triggered PENDING_LIMIT job through the
// exchange. Reservation handling pairs with the outcome: BUY_CONFIRM on a
// fill, BUY_CANCEL on failure. Already-terminal jobs are a no-op.
func (s *Service) Execute(ctx context.Context, jobID uint) error {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if model.IsTerminalJobStatus(job.Status) {
		return nil
	}

	account, err := s.accounts.FindByID(ctx, job.ExchangeAccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("exchange account %d not found", job.ExchangeAccountID)
	}

	conn, err := s.connectorFor(account)
	if err != nil {
		return s.failJob(ctx, job, model.ReasonExchangeError, err.Error())
	}

	if job.Side == model.TradeSideSell {
		return s.executeSell(ctx, job, account, conn)
	}
	return s.executeBuy(ctx, job, conn)
}

func (s *Service) executeBuy(ctx context.Context, job *model.TradeJob, conn connectors.ExchangeConnector) error {
	if err := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusExecuting, "", ""); err != nil {
		if errors.Is(err, repository.ErrTerminalStatus) {
			return nil
		}
		return err
	}

	attempt, err := s.jobs.IncrementAttempt(ctx, job.ID)
	if err != nil {
		return err
	}

	requestedAt := s.now()
	result, err := conn.CreateOrder(ctx, connectors.CreateOrderRequest{
		Symbol:        job.Symbol,
		Side:          model.TradeSideBuy,
		OrderType:     model.OrderTypeMarket,
		QuoteAmount:   job.QuoteAmount,
		ClientOrderID: ClientOrderID(job.ID, attempt),
	})
	if err != nil {
		s.recordException(ctx, "connectors", "CreateOrder", "error", err)
		return s.failJob(ctx, job, model.ReasonExchangeError, err.Error())
	}

	if err := s.recordExecution(ctx, job, conn.Name(), requestedAt, result); err != nil {
		return err
	}

	if result.Status != model.ExecutionStatusFilled && result.Status != model.ExecutionStatusPartiallyFilled {
		return s.failJob(ctx, job, model.ReasonExchangeError,
			fmt.Sprintf("order ended %s on the exchange", result.Status))
	}

	if _, err := s.positions.OnBuyExecuted(ctx, job.ExchangeAccountID, job.TradeMode,
		job.Symbol, result.ExecutedQty, result.AvgPrice); err != nil {
		return err
	}

	if job.VaultReservationID != nil {
		if err := s.vault.ConfirmReserve(ctx, *job.VaultReservationID, result.CummQuoteQty); err != nil {
			if errors.Is(err, vault.ErrIntegrity) {
				s.recordException(ctx, "vault", "ConfirmReserve", "fatal", err)
			}
			if !errors.Is(err, vault.ErrReservationSettled) {
				return err
			}
		}
	}

	status := model.TradeJobStatusFilled
	if result.Status == model.ExecutionStatusPartiallyFilled {
		status = model.TradeJobStatusPartiallyFilled
	}
	return s.jobs.UpdateStatus(ctx, job.ID, status, "", "")
}

// sellTarget resolves the position a sell job should close through the
// eligibility query. When nothing is eligible it classifies why: no open
// position or a webhook lock skips the job, a live lock held by another
// job reports busy.
func (s *Service) sellTarget(ctx context.Context, job *model.TradeJob) (*model.TradePosition, error) {
	eligible, err := s.positions.GetEligiblePositions(ctx, job.ExchangeAccountID, job.TradeMode, job.Symbol, job.SellOrigin)
	if err != nil {
		return nil, err
	}
	if len(eligible) > 0 {
		return &eligible[0], nil
	}

	open, err := s.positions.GetOpenPosition(ctx, job.ExchangeAccountID, job.TradeMode, job.Symbol)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, s.skipJob(ctx, job, model.ReasonSizingRejected, "no open position for symbol")
	}
	if job.SellOrigin == model.CloseReasonWebhookSell && open.WebhookSellLocked {
		return nil, s.skipJob(ctx, job, model.ReasonSizingRejected, "position is locked against webhook sells")
	}

	// The sell lock is reentrant, so a job retrying its own attempt still
	// proceeds against the position it holds.
	if open.SellLockJobID != nil && *open.SellLockJobID == job.ID {
		return open, nil
	}
	return nil, ErrPositionBusy
}

func (s *Service) executeSell(ctx context.Context, job *model.TradeJob, account *model.ExchangeAccount, conn connectors.ExchangeConnector) error {
	position, err := s.sellTarget(ctx, job)
	if err != nil || position == nil {
		return err
	}

	qty := job.BaseQuantity
	if qty.LessThanOrEqual(decimal.Zero) || qty.GreaterThan(position.QuantityRemaining) {
		qty = position.QuantityRemaining
	}

	// The lock is taken before EXECUTING so a busy position leaves the job
	// in PENDING for a later retry.
	acquired, err := s.positions.AcquireSellLock(ctx, position.ID, job.ID, s.config.SellLockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrPositionBusy
	}

	if err := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusExecuting, "", ""); err != nil {
		_, _ = s.positions.ReleaseSellLock(ctx, position.ID, job.ID)
		if errors.Is(err, repository.ErrTerminalStatus) {
			return nil
		}
		return err
	}

	attempt, err := s.jobs.IncrementAttempt(ctx, job.ID)
	if err != nil {
		_, _ = s.positions.ReleaseSellLock(ctx, position.ID, job.ID)
		return err
	}

	requestedAt := s.now()
	result, err := conn.CreateOrder(ctx, connectors.CreateOrderRequest{
		Symbol:        job.Symbol,
		Side:          model.TradeSideSell,
		OrderType:     model.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: ClientOrderID(job.ID, attempt),
	})
	if err != nil {
		_, _ = s.positions.ReleaseSellLock(ctx, position.ID, job.ID)
		s.recordException(ctx, "connectors", "CreateOrder", "error", err)
		return s.failJob(ctx, job, model.ReasonExchangeError, err.Error())
	}

	if err := s.recordExecution(ctx, job, conn.Name(), requestedAt, result); err != nil {
		_, _ = s.positions.ReleaseSellLock(ctx, position.ID, job.ID)
		return err
	}

	if result.Status != model.ExecutionStatusFilled && result.Status != model.ExecutionStatusPartiallyFilled {
		_, _ = s.positions.ReleaseSellLock(ctx, position.ID, job.ID)
		return s.failJob(ctx, job, model.ReasonExchangeError,
			fmt.Sprintf("order ended %s on the exchange", result.Status))
	}

	origin := job.SellOrigin
	if origin == "" {
		origin = model.CloseReasonManual
	}
	if err := s.positions.OnSellExecuted(ctx, position.ID, result.ExecutedQty, result.AvgPrice, origin); err != nil {
		_, _ = s.positions.ReleaseSellLock(ctx, position.ID, job.ID)
		return err
	}

	// A full close clears the lock with the position; a partial sell must
	// release explicitly.
	_, _ = s.positions.ReleaseSellLock(ctx, position.ID, job.ID)

	if account.VaultID != nil {
		asset := s.quoteAssetOf(job.Symbol)
		if err := s.vault.CreditSellReturn(ctx, *account.VaultID, asset, result.CummQuoteQty, &job.ID); err != nil {
			return err
		}
	}

	status := model.TradeJobStatusFilled
	if result.Status == model.ExecutionStatusPartiallyFilled {
		status = model.TradeJobStatusPartiallyFilled
	}
	return s.jobs.UpdateStatus(ctx, job.ID, status, "", "")
}

// SweepExpiredLimits cancels PENDING_LIMIT jobs whose expiry passed and
// releases their reservations.
func (s *Service) SweepExpiredLimits(ctx context.Context) (int, error) {
	expired, err := s.jobs.FindExpiredLimits(ctx, s.now(), 100)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range expired {
		job := &expired[i]
		err := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusCanceled,
			model.ReasonLimitExpired, "limit expiry passed before trigger")
		if errors.Is(err, repository.ErrTerminalStatus) {
			continue
		}
		if err != nil {
			return swept, err
		}
		if err := s.releaseReservation(ctx, job); err != nil {
			return swept, err
		}
		swept++
	}

	if swept > 0 {
		logger.WithField("count", swept).Info("Expired limit jobs canceled")
	}
	return swept, nil
}

// SweepAbandonedReservations fails non-terminal jobs untouched for longer
// than the stale age and releases their capital. Covers processes that died
// between reservation and exchange call.
func (s *Service) SweepAbandonedReservations(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.StaleJobAge)
	stale, err := s.jobs.FindStale(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range stale {
		job := &stale[i]
		err := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusFailed,
			model.ReasonReconciliationSweep, "job abandoned before completion")
		if errors.Is(err, repository.ErrTerminalStatus) {
			continue
		}
		if err != nil {
			return swept, err
		}

		// A stale job that already reached the exchange may carry a real
		// fill this ledger never confirmed; refunding its reservation then
		// double-counts the capital. Flag it for manual reconciliation.
		if job.VaultReservationID != nil {
			attempts, err := s.executions.FindByJob(ctx, job.ID)
			if err != nil {
				return swept, err
			}
			if len(attempts) > 0 {
				s.recordException(ctx, "vault", "CancelReserve", "fatal",
					fmt.Errorf("refunding reservation %d of job %d that has %d exchange attempts on record",
						*job.VaultReservationID, job.ID, len(attempts)))
			}
		}

		if err := s.releaseReservation(ctx, job); err != nil {
			return swept, err
		}
		swept++
	}

	if swept > 0 {
		logger.WithField("count", swept).Warn("Abandoned jobs swept by reconciliation")
	}
	return swept, nil
}

// PendingLimitJobs lists jobs waiting on a limit trigger, for the monitor
// loop to price-check.
func (s *Service) PendingLimitJobs(ctx context.Context, limit int) ([]model.TradeJob, error) {
	status := model.TradeJobStatusPendingLimit
	return s.jobs.Search(ctx, repository.TradeJobSearchOptions{Status: &status, Limit: limit})
}

// DispatchPendingJobs executes MARKET jobs that sat PENDING past the retry
// age: inline execution was interrupted, or a sell was parked by a busy
// position lock. Busy positions stay parked until a later pass.
func (s *Service) DispatchPendingJobs(ctx context.Context, limit int) (int, error) {
	cutoff := s.now().Add(-s.config.PendingRetryAge)
	pending, err := s.jobs.FindPendingMarket(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for i := range pending {
		job := &pending[i]
		if err := s.Execute(ctx, job.ID); err != nil {
			if errors.Is(err, ErrPositionBusy) {
				continue
			}
			logger.WithField("job_id", job.ID).WithError(err).Error("Failed to dispatch pending job")
			continue
		}
		dispatched++
	}

	if dispatched > 0 {
		logger.WithField("count", dispatched).Info("Pending market jobs dispatched")
	}
	return dispatched, nil
}

// SyncPartialFills polls the exchange for orders that last reported a
// partial fill and applies the progression: execution row update, position
// and vault deltas. The job status itself stays PARTIALLY_FILLED; only the
// execution row tracks the exchange-side state.
func (s *Service) SyncPartialFills(ctx context.Context, limit int) (int, error) {
	status := model.TradeJobStatusPartiallyFilled
	partials, err := s.jobs.Search(ctx, repository.TradeJobSearchOptions{Status: &status, Limit: limit})
	if err != nil {
		return 0, err
	}

	synced := 0
	for i := range partials {
		job := &partials[i]
		progressed, err := s.syncJobFill(ctx, job)
		if err != nil {
			logger.WithField("job_id", job.ID).WithError(err).Error("Failed to sync partial fill")
			continue
		}
		if progressed {
			synced++
		}
	}
	return synced, nil
}

func (s *Service) syncJobFill(ctx context.Context, job *model.TradeJob) (bool, error) {
	execution, err := s.executions.FindByClientOrderID(ctx, ClientOrderID(job.ID, job.AttemptCount))
	if err != nil || execution == nil {
		return false, err
	}
	// A terminal exchange status means nothing more can fill.
	if execution.Status != model.ExecutionStatusNew && execution.Status != model.ExecutionStatusPartiallyFilled {
		return false, nil
	}

	account, err := s.accounts.FindByID(ctx, job.ExchangeAccountID)
	if err != nil {
		return false, err
	}
	if account == nil {
		return false, fmt.Errorf("exchange account %d not found", job.ExchangeAccountID)
	}
	conn, err := s.connectorFor(account)
	if err != nil {
		return false, err
	}

	result, err := conn.FetchOrder(ctx, execution.ExchangeOrderID, job.Symbol)
	if err != nil {
		return false, err
	}

	deltaQty := result.ExecutedQty.Sub(execution.ExecutedQty)
	deltaQuote := result.CummQuoteQty.Sub(execution.CummQuoteQty)
	if deltaQty.IsPositive() {
		fillPrice := result.AvgPrice
		if deltaQuote.IsPositive() {
			fillPrice = deltaQuote.DivRound(deltaQty, 8)
		}

		if job.Side == model.TradeSideBuy {
			if _, err := s.positions.OnBuyExecuted(ctx, job.ExchangeAccountID, job.TradeMode,
				job.Symbol, deltaQty, fillPrice); err != nil {
				return false, err
			}
			if err := s.debitLateFill(ctx, account, job, deltaQuote); err != nil {
				s.recordException(ctx, "vault", "Reserve", "error", err)
			}
		} else {
			if err := s.applyLateSellFill(ctx, job, deltaQty, fillPrice); err != nil {
				return false, err
			}
			if account.VaultID != nil && deltaQuote.IsPositive() {
				if err := s.vault.CreditSellReturn(ctx, *account.VaultID,
					s.quoteAssetOf(job.Symbol), deltaQuote, &job.ID); err != nil {
					return false, err
				}
			}
		}
	}

	if err := s.executions.UpdateProgress(ctx, execution.ID, result.Status,
		result.ExecutedQty, result.CummQuoteQty, result.AvgPrice, result.Raw); err != nil {
		return false, err
	}

	return deltaQty.IsPositive() || result.Status != execution.Status, nil
}

// debitLateFill charges a buy fill that arrived after the job's original
// reservation settled. A fresh reserve/confirm pair keeps the ledger a pure
// sum of typed transactions.
func (s *Service) debitLateFill(ctx context.Context, account *model.ExchangeAccount, job *model.TradeJob, cost decimal.Decimal) error {
	if account.VaultID == nil || !cost.IsPositive() {
		return nil
	}
	asset := s.quoteAssetOf(job.Symbol)
	reservationID, err := s.vault.Reserve(ctx, *account.VaultID, asset, cost, &job.ID)
	if err != nil {
		return err
	}
	return s.vault.ConfirmReserve(ctx, reservationID, cost)
}

func (s *Service) applyLateSellFill(ctx context.Context, job *model.TradeJob, qty, price decimal.Decimal) error {
	position, err := s.positions.GetOpenPosition(ctx, job.ExchangeAccountID, job.TradeMode, job.Symbol)
	if err != nil {
		return err
	}
	if position == nil {
		s.recordException(ctx, "positions", "OnSellExecuted", "error",
			fmt.Errorf("late sell fill for job %d has no open position", job.ID))
		return nil
	}
	origin := job.SellOrigin
	if origin == "" {
		origin = model.CloseReasonManual
	}
	return s.positions.OnSellExecuted(ctx, position.ID, qty, price, origin)
}

// ConnectorForAccount exposes the cached connector, for the monitor loop's
// ticker checks.
func (s *Service) ConnectorForAccount(ctx context.Context, accountID uint) (connectors.ExchangeConnector, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("exchange account %d not found", accountID)
	}
	return s.connectorFor(account)
}

// CancelJob turns a job terminal on explicit request.
func (s *Service) CancelJob(ctx context.Context, jobID uint, message string) error {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}

	if err := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusCanceled,
		model.ReasonManualCancel, message); err != nil {
		return err
	}
	return s.releaseReservation(ctx, job)
}

func (s *Service) resolveBuyAmount(ctx context.Context, account *model.ExchangeAccount, req CreateJobRequest) (decimal.Decimal, error) {
	if req.QuoteAmount != nil {
		return s.sizer.QuoteAmountFixed(*req.QuoteAmount)
	}
	if account.VaultID == nil {
		return decimal.Zero, sizing.ErrBelowMinNotional
	}

	asset := s.quoteAssetOf(req.Symbol)
	available, err := s.vault.AvailableBalance(ctx, *account.VaultID, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return s.sizer.QuoteAmountFromPercent(available, account.OrderSizePercent)
}

func (s *Service) releaseReservation(ctx context.Context, job *model.TradeJob) error {
	if job.VaultReservationID == nil {
		return nil
	}
	err := s.vault.CancelReserve(ctx, *job.VaultReservationID)
	if errors.Is(err, vault.ErrReservationSettled) {
		return nil
	}
	return err
}

// recordException persists an audit row for failures worth manual review.
// Persistence failure only logs; it never masks the original error.
func (s *Service) recordException(ctx context.Context, module, method, level string, cause error) {
	if s.exceptions == nil {
		return
	}
	exc := &model.Exception{
		Service: "trade_executor",
		Module:  module,
		Method:  method,
		Message: cause.Error(),
		Level:   level,
	}
	if err := s.exceptions.Create(ctx, exc); err != nil {
		logger.WithError(err).Error("Failed to persist exception")
	}
}

func (s *Service) failJob(ctx context.Context, job *model.TradeJob, reasonCode, message string) error {
	if err := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusFailed, reasonCode, message); err != nil {
		if errors.Is(err, repository.ErrTerminalStatus) {
			return nil
		}
		return err
	}
	return s.releaseReservation(ctx, job)
}

func (s *Service) skipJob(ctx context.Context, job *model.TradeJob, reasonCode, message string) error {
	if err := s.jobs.UpdateStatus(ctx, job.ID, model.TradeJobStatusSkipped, reasonCode, message); err != nil {
		if errors.Is(err, repository.ErrTerminalStatus) {
			return nil
		}
		return err
	}
	return s.releaseReservation(ctx, job)
}

func (s *Service) recordExecution(ctx context.Context, job *model.TradeJob, exchangeName string, requestedAt time.Time, result *connectors.OrderResult) error {
	execution := &model.TradeExecution{
		TradeJobID:        job.ID,
		ExchangeAccountID: job.ExchangeAccountID,
		TradeMode:         job.TradeMode,
		ExchangeName:      exchangeName,
		ClientOrderID:     result.ClientOrderID,
		ExchangeOrderID:   result.ExchangeOrderID,
		Status:            result.Status,
		ExecutedQty:       result.ExecutedQty,
		CummQuoteQty:      result.CummQuoteQty,
		AvgPrice:          result.AvgPrice,
		RawResponse:       result.Raw,
		RequestedAt:       requestedAt,
	}
	return s.executions.Create(ctx, execution)
}

func (s *Service) connectorFor(account *model.ExchangeAccount) (connectors.ExchangeConnector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.connCache[account.ID]; ok {
		return conn, nil
	}
	conn, err := s.factory(account)
	if err != nil {
		return nil, err
	}
	s.connCache[account.ID] = conn
	return conn, nil
}

// quoteAssetOf derives the quote asset from the symbol's suffix.
func (s *Service) quoteAssetOf(symbol string) string {
	for _, asset := range []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "USD"} {
		if strings.HasSuffix(symbol, asset) && len(symbol) > len(asset) {
			return asset
		}
	}
	return s.config.DefaultQuoteAsset
}
