package executors

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/database"
	"tradeexecutor/src/jobs"
	"tradeexecutor/src/model"
	"tradeexecutor/src/notify"
	"tradeexecutor/src/positions"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/vault"
)

type loopHarness struct {
	loop    *Loop
	svc     *jobs.Service
	db      *gorm.DB
	sim     *connectors.SimConnector
	ledger  *positions.Ledger
	account *model.ExchangeAccount
	vaultID uint
}

func newLoopHarness(t *testing.T) *loopHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))

	pot := &model.Vault{UserID: 1, TradeMode: model.TradeModeSimulation, Name: "main"}
	require.NoError(t, db.Create(pot).Error)

	vaultID := pot.ID
	account := &model.ExchangeAccount{
		UserID:           1,
		ExchangeName:     "BINANCE",
		TradeMode:        model.TradeModeSimulation,
		OrderSizePercent: 10,
		VaultID:          &vaultID,
		Active:           true,
	}
	require.NoError(t, db.Create(account).Error)

	sim := connectors.NewSimConnector()
	positionRepo := repository.NewPositionRepository().WithDB(db)
	positionLedger := positions.NewLedger(positionRepo)
	vaultLedger := vault.NewLedger().WithDB(db)

	svc := jobs.NewService().WithDeps(
		repository.NewTradeJobRepository().WithDB(db),
		repository.NewTradeExecutionRepository().WithDB(db),
		repository.NewExchangeAccountRepository().WithDB(db),
		vaultLedger,
		positionLedger,
		repository.NewExceptionRepository().WithDB(db),
		func(acct *model.ExchangeAccount) (connectors.ExchangeConnector, error) {
			return sim, nil
		},
	)

	dispatcher := notify.NewMarkerDispatcher(notify.NoopDispatcher{}).
		WithMarkers(repository.NewPositionAlertRepository().WithDB(db))

	loop := NewLoop().WithDeps(svc, positionRepo, dispatcher)

	require.NoError(t, vaultLedger.Deposit(context.Background(), vaultID, "USDT", decimal.NewFromInt(1000)))

	return &loopHarness{
		loop:    loop,
		svc:     svc,
		db:      db,
		sim:     sim,
		ledger:  positionLedger,
		account: account,
		vaultID: vaultID,
	}
}

func (h *loopHarness) openPosition(t *testing.T) *model.TradePosition {
	t.Helper()
	ctx := context.Background()

	h.sim.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	job, err := h.svc.CreateJob(ctx, jobs.CreateJobRequest{
		AccountID: h.account.ID,
		Symbol:    "BTCUSDT",
		Side:      model.TradeSideBuy,
	})
	require.NoError(t, err)
	require.NoError(t, h.svc.Execute(ctx, job.ID))

	position, err := h.ledger.GetOpenPosition(ctx, h.account.ID, model.TradeModeSimulation, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, position)
	return position
}

func (h *loopHarness) reloadPosition(t *testing.T, id uint) *model.TradePosition {
	t.Helper()
	var position model.TradePosition
	require.NoError(t, h.db.First(&position, id).Error)
	return &position
}

func TestLoopClosesPositionOnStopLoss(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()

	position := h.openPosition(t)
	require.NoError(t, h.ledger.UpdateSLTP(ctx, position.ID,
		true, decimal.NewFromInt(10), false, decimal.Zero))

	// 10% under the 50000 entry is 45000; drop below it.
	h.sim.SetPrice("BTCUSDT", decimal.NewFromInt(44000))
	h.loop.RunOnce(ctx)

	closed := h.reloadPosition(t, position.ID)
	assert.Equal(t, model.PositionStatusClosed, closed.Status)
	assert.Equal(t, model.CloseReasonStopLoss, closed.CloseReason)

	var markers int64
	require.NoError(t, h.db.Model(&model.PositionAlert{}).
		Where("trade_position_id = ? AND alert_type = ?", position.ID, notify.AlertStopLossHit).
		Count(&markers).Error)
	assert.Equal(t, int64(1), markers)
}

func TestLoopClosesPositionOnTakeProfit(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()

	position := h.openPosition(t)
	require.NoError(t, h.ledger.UpdateSLTP(ctx, position.ID,
		false, decimal.Zero, true, decimal.NewFromInt(20)))

	h.sim.SetPrice("BTCUSDT", decimal.NewFromInt(60000))
	h.loop.RunOnce(ctx)

	closed := h.reloadPosition(t, position.ID)
	assert.Equal(t, model.PositionStatusClosed, closed.Status)
	assert.Equal(t, model.CloseReasonTargetHit, closed.CloseReason)
}

func TestLoopSkipsBusyPosition(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()

	position := h.openPosition(t)
	require.NoError(t, h.ledger.UpdateSLTP(ctx, position.ID,
		true, decimal.NewFromInt(10), false, decimal.Zero))

	acquired, err := h.ledger.AcquireSellLock(ctx, position.ID, 9999, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	h.sim.SetPrice("BTCUSDT", decimal.NewFromInt(44000))
	h.loop.RunOnce(ctx)

	// The lock holder wins; the monitor retries on a later tick.
	assert.Equal(t, model.PositionStatusOpen, h.reloadPosition(t, position.ID).Status)
}

func TestLoopExecutesTriggeredLimitJob(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()

	h.sim.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	price := decimal.NewFromInt(45000)
	expiry := time.Now().Add(time.Hour)
	job, err := h.svc.CreateJob(ctx, jobs.CreateJobRequest{
		AccountID:   h.account.ID,
		Symbol:      "BTCUSDT",
		Side:        model.TradeSideBuy,
		OrderType:   model.OrderTypeLimit,
		LimitPrice:  &price,
		LimitExpiry: &expiry,
	})
	require.NoError(t, err)
	require.Equal(t, model.TradeJobStatusPendingLimit, job.Status)

	// Above the limit: no trigger.
	h.loop.RunOnce(ctx)
	var reloaded model.TradeJob
	require.NoError(t, h.db.First(&reloaded, job.ID).Error)
	assert.Equal(t, model.TradeJobStatusPendingLimit, reloaded.Status)

	// Crossing down through the limit executes the buy.
	h.sim.SetPrice("BTCUSDT", decimal.NewFromInt(44900))
	h.loop.RunOnce(ctx)
	require.NoError(t, h.db.First(&reloaded, job.ID).Error)
	assert.Equal(t, model.TradeJobStatusFilled, reloaded.Status)

	position, err := h.ledger.GetOpenPosition(ctx, h.account.ID, model.TradeModeSimulation, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, position)
}

func TestSLTPTriggerPrecedence(t *testing.T) {
	position := &model.TradePosition{
		OpeningPrice:      decimal.NewFromInt(100),
		StopLossEnabled:   true,
		StopLossPct:       decimal.NewFromInt(5),
		TakeProfitEnabled: true,
		TakeProfitPct:     decimal.NewFromInt(10),
	}

	origin, alert := sltpTrigger(position, decimal.NewFromInt(94))
	assert.Equal(t, model.CloseReasonStopLoss, origin)
	assert.Equal(t, notify.AlertStopLossHit, alert)

	origin, alert = sltpTrigger(position, decimal.NewFromInt(111))
	assert.Equal(t, model.CloseReasonTargetHit, origin)
	assert.Equal(t, notify.AlertTargetHit, alert)

	origin, _ = sltpTrigger(position, decimal.NewFromInt(100))
	assert.Empty(t, origin)
}

func TestLimitTriggered(t *testing.T) {
	price := decimal.NewFromInt(100)

	cases := []struct {
		name      string
		side      string
		orderType string
		last      int64
		want      bool
	}{
		{name: "limit buy below", side: model.TradeSideBuy, orderType: model.OrderTypeLimit, last: 99, want: true},
		{name: "limit buy above", side: model.TradeSideBuy, orderType: model.OrderTypeLimit, last: 101, want: false},
		{name: "limit sell above", side: model.TradeSideSell, orderType: model.OrderTypeLimit, last: 101, want: true},
		{name: "limit sell below", side: model.TradeSideSell, orderType: model.OrderTypeLimit, last: 99, want: false},
		{name: "stop buy breakout", side: model.TradeSideBuy, orderType: model.OrderTypeStopLimit, last: 101, want: true},
		{name: "stop sell breakdown", side: model.TradeSideSell, orderType: model.OrderTypeStopLimit, last: 99, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := &model.TradeJob{Side: tc.side, OrderType: tc.orderType, LimitPrice: &price}
			assert.Equal(t, tc.want, limitTriggered(job, decimal.NewFromInt(tc.last)))
		})
	}
}
