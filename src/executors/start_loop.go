package executors

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/jobs"
	"tradeexecutor/src/model"
	"tradeexecutor/src/notify"
	"tradeexecutor/src/repository"
)

var oneHundred = decimal.NewFromInt(100)

// Loop is the background sweeper: pending-job dispatch, limit-order
// triggers, partial-fill sync, SL/TP monitoring, expired-limit cancellation
// and reservation reconciliation. It runs beside
// the API server, possibly in a separate process; every mutation goes
// through the same guarded state machine, so double-running it is safe.
type Loop struct {
	svc       *jobs.Service
	positions *repository.PositionRepository
	alerts    notify.Dispatcher
	config    Config
}

func NewLoop() *Loop {
	return &Loop{
		svc:       jobs.NewService(),
		positions: repository.NewPositionRepository(),
		alerts:    notify.NewMarkerDispatcher(notify.LogDispatcher{}),
		config:    GetConfig(),
	}
}

// WithDeps allows overriding the wired dependencies. Useful for tests.
func (l *Loop) WithDeps(svc *jobs.Service, positions *repository.PositionRepository, alerts notify.Dispatcher) *Loop {
	clone := *l
	clone.svc = svc
	clone.positions = positions
	clone.alerts = alerts
	return &clone
}

func StartLoop(ctx context.Context) error {
	loop := NewLoop()

	ticker := time.NewTicker(loop.config.LoopPeriod) // Set up a ticker that fires periodically
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("loop stopped")
			return nil

		case <-ticker.C:
			logger.Debug("loop tick")
			loop.RunOnce(ctx)
		}
	}
}

// RunOnce executes one sweep tick. Each stage logs its own failure and the
// tick continues; a broken exchange must not stop reconciliation.
func (l *Loop) RunOnce(ctx context.Context) {
	if _, err := l.svc.SweepExpiredLimits(ctx); err != nil {
		logger.WithError(err).Error("Failed to sweep expired limit jobs")
	}
	if _, err := l.svc.SweepAbandonedReservations(ctx); err != nil {
		logger.WithError(err).Error("Failed to sweep abandoned reservations")
	}
	if _, err := l.svc.DispatchPendingJobs(ctx, l.config.MonitorBatchSize); err != nil {
		logger.WithError(err).Error("Failed to dispatch pending jobs")
	}
	l.triggerLimitJobs(ctx)
	if _, err := l.svc.SyncPartialFills(ctx, l.config.MonitorBatchSize); err != nil {
		logger.WithError(err).Error("Failed to sync partial fills")
	}
	l.monitorSLTP(ctx)
}

// triggerLimitJobs price-checks PENDING_LIMIT jobs and executes the ones
// whose trigger crossed.
func (l *Loop) triggerLimitJobs(ctx context.Context) {
	pending, err := l.svc.PendingLimitJobs(ctx, l.config.MonitorBatchSize)
	if err != nil {
		logger.WithError(err).Error("Failed to list pending limit jobs")
		return
	}

	for i := range pending {
		job := &pending[i]
		if job.LimitPrice == nil {
			continue
		}

		conn, err := l.svc.ConnectorForAccount(ctx, job.ExchangeAccountID)
		if err != nil {
			logger.WithField("jobID", job.ID).WithError(err).Error("Failed to build connector")
			continue
		}

		ticker, err := conn.FetchTicker(ctx, job.Symbol)
		if err != nil {
			logger.WithFields(logger.Fields{
				"jobID":  job.ID,
				"symbol": job.Symbol,
			}).WithError(err).Warn("Failed to fetch ticker for limit check")
			continue
		}

		if !limitTriggered(job, ticker.Last) {
			continue
		}

		logger.WithFields(logger.Fields{
			"jobID": job.ID,
			"last":  ticker.Last.String(),
			"limit": job.LimitPrice.String(),
		}).Info("Limit trigger crossed, executing job")

		if err := l.svc.Execute(ctx, job.ID); err != nil {
			if errors.Is(err, jobs.ErrPositionBusy) {
				continue
			}
			logger.WithField("jobID", job.ID).WithError(err).Error("Failed to execute triggered job")
		}
	}
}

// limitTriggered reports whether the last price crossed the job's trigger.
// A plain LIMIT buys under the price and sells over it; STOP_LIMIT is the
// mirror (breakout entry, protective exit).
func limitTriggered(job *model.TradeJob, last decimal.Decimal) bool {
	price := *job.LimitPrice
	buy := job.Side == model.TradeSideBuy

	if job.OrderType == model.OrderTypeStopLimit {
		if buy {
			return last.GreaterThanOrEqual(price)
		}
		return last.LessThanOrEqual(price)
	}

	if buy {
		return last.LessThanOrEqual(price)
	}
	return last.GreaterThanOrEqual(price)
}

// monitorSLTP checks open positions with SL/TP configured and closes the
// ones whose trigger fired.
func (l *Loop) monitorSLTP(ctx context.Context) {
	watched, err := l.positions.FindOpenWithSLTP(ctx, l.config.MonitorBatchSize)
	if err != nil {
		logger.WithError(err).Error("Failed to list SL/TP positions")
		return
	}

	for i := range watched {
		position := &watched[i]

		conn, err := l.svc.ConnectorForAccount(ctx, position.ExchangeAccountID)
		if err != nil {
			logger.WithField("positionID", position.ID).WithError(err).Error("Failed to build connector")
			continue
		}

		ticker, err := conn.FetchTicker(ctx, position.Symbol)
		if err != nil {
			logger.WithFields(logger.Fields{
				"positionID": position.ID,
				"symbol":     position.Symbol,
			}).WithError(err).Warn("Failed to fetch ticker for SL/TP check")
			continue
		}

		origin, alertType := sltpTrigger(position, ticker.Last)
		if origin == "" {
			continue
		}

		job, err := l.svc.CreateJob(ctx, jobs.CreateJobRequest{
			AccountID:  position.ExchangeAccountID,
			Symbol:     position.Symbol,
			Side:       model.TradeSideSell,
			SellOrigin: origin,
		})
		if err != nil {
			logger.WithField("positionID", position.ID).WithError(err).Error("Failed to create SL/TP sell job")
			continue
		}

		if err := l.svc.Execute(ctx, job.ID); err != nil {
			if errors.Is(err, jobs.ErrPositionBusy) {
				logger.WithField("positionID", position.ID).Debug("Position busy, retrying next tick")
				continue
			}
			logger.WithField("jobID", job.ID).WithError(err).Error("Failed to execute SL/TP sell job")
			continue
		}

		alert := notify.Alert{
			PositionID: position.ID,
			AlertType:  alertType,
			Symbol:     position.Symbol,
			Message:    "position closed by " + origin,
		}
		if err := l.alerts.Send(ctx, alert); err != nil {
			logger.WithField("positionID", position.ID).WithError(err).Error("Failed to send alert")
		}
	}
}

// sltpTrigger returns the sell origin and alert type for a fired trigger,
// or empty strings when neither fired. Stop loss wins when both would fire
// on the same tick.
func sltpTrigger(position *model.TradePosition, last decimal.Decimal) (string, string) {
	if position.StopLossEnabled && position.StopLossPct.IsPositive() {
		slPrice := position.OpeningPrice.Mul(oneHundred.Sub(position.StopLossPct)).Div(oneHundred)
		if last.LessThanOrEqual(slPrice) {
			return model.CloseReasonStopLoss, notify.AlertStopLossHit
		}
	}
	if position.TakeProfitEnabled && position.TakeProfitPct.IsPositive() {
		tpPrice := position.OpeningPrice.Mul(oneHundred.Add(position.TakeProfitPct)).Div(oneHundred)
		if last.GreaterThanOrEqual(tpPrice) {
			return model.CloseReasonTargetHit, notify.AlertTargetHit
		}
	}
	return "", ""
}
