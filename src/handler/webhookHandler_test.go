package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
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
	"tradeexecutor/src/positions"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/vault"
	"tradeexecutor/src/webhook"
)

type stubGate struct {
	source      *model.WebhookSource
	ipOK        bool
	signatureOK bool
	rateOK      bool
}

func (s *stubGate) Resolve(ctx context.Context, code string) (*model.WebhookSource, error) {
	if s.source != nil && s.source.WebhookCode == code {
		return s.source, nil
	}
	return nil, nil
}

func (s *stubGate) ValidateIP(source *model.WebhookSource, ip string) bool { return s.ipOK }

func (s *stubGate) ValidateSignature(source *model.WebhookSource, rawBody []byte, signatureHeader string) bool {
	return s.signatureOK
}

func (s *stubGate) CheckRateLimit(ctx context.Context, source *model.WebhookSource) (bool, error) {
	return s.rateOK, nil
}

type stubEvents struct {
	recorded []*model.WebhookEvent
}

func (s *stubEvents) RecordEvent(ctx context.Context, event *model.WebhookEvent) error {
	event.ID = uint(len(s.recorded) + 1)
	s.recorded = append(s.recorded, event)
	return nil
}

type stubCreator struct {
	requests   []jobs.CreateJobRequest
	executed   []uint
	executeErr error
}

func (s *stubCreator) CreateJob(ctx context.Context, req jobs.CreateJobRequest) (*model.TradeJob, error) {
	s.requests = append(s.requests, req)
	status := model.TradeJobStatusPending
	if req.SkipReason != "" {
		status = model.TradeJobStatusSkipped
	}
	return &model.TradeJob{ID: uint(len(s.requests)), Symbol: req.Symbol, Side: req.Side, Status: status}, nil
}

func (s *stubCreator) Execute(ctx context.Context, jobID uint) error {
	s.executed = append(s.executed, jobID)
	return s.executeErr
}

func postWebhook(t *testing.T, h http.HandlerFunc, code, body string) *httptest.ResponseRecorder {
	t.Helper()

	router := chi.NewRouter()
	router.Post("/webhook/{code}", h)

	req := httptest.NewRequest(http.MethodPost, "/webhook/"+code, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.5:4444"
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func activeSource() *model.WebhookSource {
	return &model.WebhookSource{
		ID:          3,
		WebhookCode: "abc123",
		TradeMode:   model.TradeModeSimulation,
		Active:      true,
		Bindings: []model.WebhookSourceBinding{
			{WebhookSourceID: 3, ExchangeAccountID: 11},
			{WebhookSourceID: 3, ExchangeAccountID: 12},
		},
	}
}

func TestWebhookIntakeUnknownCode(t *testing.T) {
	gate := &stubGate{ipOK: true, signatureOK: true, rateOK: true}
	h := WebhookIntakeHandler(gate, &stubEvents{}, &stubCreator{})

	recorder := postWebhook(t, h, "nope", `{"symbol":"BTCUSDT","action":"buy"}`)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestWebhookIntakeRejectedByIP(t *testing.T) {
	gate := &stubGate{source: activeSource(), ipOK: false, signatureOK: true, rateOK: true}
	events := &stubEvents{}
	h := WebhookIntakeHandler(gate, events, &stubCreator{})

	recorder := postWebhook(t, h, "abc123", `{"symbol":"BTCUSDT","action":"buy"}`)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Empty(t, events.recorded, "rejected signal must leave no event behind")
}

func TestWebhookIntakeRejectedBySignature(t *testing.T) {
	gate := &stubGate{source: activeSource(), ipOK: true, signatureOK: false, rateOK: true}
	events := &stubEvents{}
	h := WebhookIntakeHandler(gate, events, &stubCreator{})

	recorder := postWebhook(t, h, "abc123", `{"symbol":"BTCUSDT","action":"buy"}`)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Empty(t, events.recorded)
}

func TestWebhookIntakeFansOutToBindings(t *testing.T) {
	gate := &stubGate{source: activeSource(), ipOK: true, signatureOK: true, rateOK: true}
	events := &stubEvents{}
	creator := &stubCreator{}
	h := WebhookIntakeHandler(gate, events, creator)

	recorder := postWebhook(t, h, "abc123", `{"symbol":"BINANCE:BTCUSDT","action":"buy"}`)
	assert.Equal(t, http.StatusAccepted, recorder.Code)

	require.Len(t, events.recorded, 1)
	require.Len(t, creator.requests, 2)
	assert.Equal(t, uint(11), creator.requests[0].AccountID)
	assert.Equal(t, uint(12), creator.requests[1].AccountID)
	assert.Equal(t, "BTCUSDT", creator.requests[0].Symbol)
	assert.Equal(t, model.TradeSideBuy, creator.requests[0].Side)
	assert.Empty(t, creator.requests[0].SkipReason)

	// Every market job created from the signal is dispatched immediately.
	assert.Equal(t, []uint{1, 2}, creator.executed)
}

func TestWebhookIntakeParksJobOnBusyPosition(t *testing.T) {
	gate := &stubGate{source: activeSource(), ipOK: true, signatureOK: true, rateOK: true}
	creator := &stubCreator{executeErr: jobs.ErrPositionBusy}
	h := WebhookIntakeHandler(gate, &stubEvents{}, creator)

	recorder := postWebhook(t, h, "abc123", `{"symbol":"BTCUSDT","action":"sell"}`)
	assert.Equal(t, http.StatusAccepted, recorder.Code)

	require.Len(t, creator.requests, 2)
	assert.Equal(t, []uint{1, 2}, creator.executed, "busy jobs stay PENDING for the dispatch sweep")
}

func TestWebhookIntakeSellSignalCarriesOrigin(t *testing.T) {
	gate := &stubGate{source: activeSource(), ipOK: true, signatureOK: true, rateOK: true}
	creator := &stubCreator{}
	h := WebhookIntakeHandler(gate, &stubEvents{}, creator)

	recorder := postWebhook(t, h, "abc123", `{"symbol":"BTCUSDT","action":"sell"}`)
	assert.Equal(t, http.StatusAccepted, recorder.Code)

	require.Len(t, creator.requests, 2)
	assert.Equal(t, model.TradeSideSell, creator.requests[0].Side)
	assert.Equal(t, model.CloseReasonWebhookSell, creator.requests[0].SellOrigin)
}

func TestWebhookIntakeRateLimitedStillRecordsEventAndSkips(t *testing.T) {
	gate := &stubGate{source: activeSource(), ipOK: true, signatureOK: true, rateOK: false}
	events := &stubEvents{}
	creator := &stubCreator{}
	h := WebhookIntakeHandler(gate, events, creator)

	recorder := postWebhook(t, h, "abc123", `{"symbol":"BTCUSDT","action":"buy"}`)
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)

	require.Len(t, events.recorded, 1, "rate-limited delivery still counts in the window")
	require.Len(t, creator.requests, 2)
	assert.Equal(t, model.ReasonRateLimited, creator.requests[0].SkipReason)
	assert.Empty(t, creator.executed, "skipped jobs are never dispatched")
}

func TestWebhookIntakeIgnoresUnparseableSignal(t *testing.T) {
	gate := &stubGate{source: activeSource(), ipOK: true, signatureOK: true, rateOK: true}
	events := &stubEvents{}
	creator := &stubCreator{}
	h := WebhookIntakeHandler(gate, events, creator)

	recorder := postWebhook(t, h, "abc123", `{}`)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "ignored")

	require.Len(t, events.recorded, 1)
	assert.Empty(t, creator.requests, "unparseable signal creates no jobs")
}

/// Full wiring: a buy signal through the real gate, parser, job machine, sim
// exchange and ledgers must end in a FILLED job and an open position.
func TestWebhookMarketBuyFillsEndToEnd(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// A single connection keeps every session on the same in-memory DB.
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

	source := &model.WebhookSource{
		UserID:      1,
		WebhookCode: "e2e-code",
		TradeMode:   model.TradeModeSimulation,
		Active:      true,
		Bindings:    []model.WebhookSourceBinding{{ExchangeAccountID: account.ID}},
	}
	require.NoError(t, db.Create(source).Error)

	vaultLedger := vault.NewLedger().WithDB(db)
	require.NoError(t, vaultLedger.Deposit(context.Background(), vaultID, "USDT", decimal.NewFromInt(1000)))

	sim := connectors.NewSimConnector()
	sim.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	svc := jobs.NewService().WithDeps(
		repository.NewTradeJobRepository().WithDB(db),
		repository.NewTradeExecutionRepository().WithDB(db),
		repository.NewExchangeAccountRepository().WithDB(db),
		vaultLedger,
		positions.NewLedger(repository.NewPositionRepository().WithDB(db)),
		repository.NewExceptionRepository().WithDB(db),
		func(acct *model.ExchangeAccount) (connectors.ExchangeConnector, error) {
			return sim, nil
		},
	)

	sources := repository.NewWebhookSourceRepository().WithDB(db)
	h := WebhookIntakeHandler(webhook.NewRegistry(sources, sources), sources, svc)

	recorder := postWebhook(t, h, "e2e-code", `{"symbol":"BINANCE:BTCUSDT","action":"buy"}`)
	require.Equal(t, http.StatusAccepted, recorder.Code, recorder.Body.String())

	var job model.TradeJob
	require.NoError(t, db.Where("symbol = ?", "BTCUSDT").First(&job).Error)
	assert.Equal(t, model.TradeJobStatusFilled, job.Status)

	var execution model.TradeExecution
	require.NoError(t, db.Where("trade_job_id = ?", job.ID).First(&execution).Error)
	assert.Equal(t, model.ExecutionStatusFilled, execution.Status)

	var position model.TradePosition
	require.NoError(t, db.Where("symbol = ?", "BTCUSDT").First(&position).Error)
	assert.Equal(t, model.PositionStatusOpen, position.Status)
	assert.True(t, position.QuantityRemaining.Equal(decimal.RequireFromString("0.002")))
}
