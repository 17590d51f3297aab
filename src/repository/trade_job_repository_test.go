package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"tradeexecutor/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm with sqlmock: %v", err)
	}

	return gormDB, mock
}

func ptrString(s string) *string { return &s }

func TestTradeJobRepositorySearch(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &TradeJobRepository{db: mockDB}

	createdAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	jobs := []model.TradeJob{
		{ID: 1, ExchangeAccountID: 1, Symbol: "BTCUSDT", Status: model.TradeJobStatusFilled, CreatedAt: createdAt},
		{ID: 2, ExchangeAccountID: 1, Symbol: "ETHUSDT", Status: model.TradeJobStatusPending, CreatedAt: createdAt.Add(time.Hour)},
	}

	jobRows := func(returned ...model.TradeJob) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"id", "exchange_account_id", "symbol", "status", "created_at"})
		for _, job := range returned {
			rows.AddRow(job.ID, job.ExchangeAccountID, job.Symbol, job.Status, job.CreatedAt)
		}
		return rows
	}

	t.Run("filters by account", func(t *testing.T) {
		accountID := uint(1)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trade_jobs" WHERE exchange_account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`)).
			WithArgs(accountID, 20).
			WillReturnRows(jobRows(jobs[1], jobs[0]))

		results, err := repo.Search(context.Background(), TradeJobSearchOptions{ExchangeAccountID: &accountID})
		if err != nil {
			t.Fatalf("unexpected error searching jobs: %v", err)
		}

		if len(results) != 2 {
			t.Fatalf("expected 2 jobs, got %d", len(results))
		}

		if results[0].Symbol != "ETHUSDT" || results[1].Symbol != "BTCUSDT" {
			t.Fatalf("jobs not returned in expected order: %+v", results)
		}
	})

	t.Run("filters by symbol and status", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trade_jobs" WHERE symbol = $1 AND status = $2 ORDER BY created_at DESC, id DESC LIMIT $3`)).
			WithArgs("BTCUSDT", model.TradeJobStatusFilled, 20).
			WillReturnRows(jobRows(jobs[0]))

		results, err := repo.Search(context.Background(), TradeJobSearchOptions{
			Symbol: ptrString("BTCUSDT"),
			Status: ptrString(model.TradeJobStatusFilled),
		})
		if err != nil {
			t.Fatalf("unexpected error searching jobs: %v", err)
		}

		if len(results) != 1 || results[0].ID != 1 {
			t.Fatalf("unexpected jobs returned: %+v", results)
		}
	})

	t.Run("applies pagination offset", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trade_jobs" ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`)).
			WithArgs(10, 10).
			WillReturnRows(jobRows())

		results, err := repo.Search(context.Background(), TradeJobSearchOptions{Limit: 10, Offset: 10})
		if err != nil {
			t.Fatalf("unexpected error searching jobs: %v", err)
		}

		if len(results) != 0 {
			t.Fatalf("expected no jobs, got %d", len(results))
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestUpdateStatusRequiresReason(t *testing.T) {
	repo := &TradeJobRepository{}

	for _, status := range []string{
		model.TradeJobStatusFailed,
		model.TradeJobStatusSkipped,
		model.TradeJobStatusCanceled,
	} {
		err := repo.UpdateStatus(context.Background(), 1, status, "", "")
		if err != ErrReasonRequired {
			t.Fatalf("expected ErrReasonRequired for %s, got %v", status, err)
		}
	}
}
