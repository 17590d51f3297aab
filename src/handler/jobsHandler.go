package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/jobs"
	"tradeexecutor/src/model"
	"tradeexecutor/src/repository"
)

type jobSearcher interface {
	Search(ctx context.Context, options repository.TradeJobSearchOptions) ([]model.TradeJob, error)
}

type createJobPayload struct {
	AccountID    uint             `json:"account_id"`
	Symbol       string           `json:"symbol"`
	Side         string           `json:"side"`
	OrderType    string           `json:"order_type,omitempty"`
	QuoteAmount  *decimal.Decimal `json:"quote_amount,omitempty"`
	BaseQuantity *decimal.Decimal `json:"base_quantity,omitempty"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	LimitExpiry  *time.Time       `json:"limit_expiry,omitempty"`
}

// CreateJobHandler accepts a manual trading intent and runs it through the
// pre-trade gate, executing market orders on the spot. The job comes back
// with its post-gate status, SKIPPED included.
func CreateJobHandler(runner jobRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createJobPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if payload.AccountID == 0 || payload.Symbol == "" {
			http.Error(w, "account_id and symbol are required", http.StatusBadRequest)
			return
		}
		if payload.Side != model.TradeSideBuy && payload.Side != model.TradeSideSell {
			http.Error(w, "side must be BUY or SELL", http.StatusBadRequest)
			return
		}
		if payload.OrderType != "" && payload.OrderType != model.OrderTypeMarket &&
			payload.OrderType != model.OrderTypeLimit && payload.OrderType != model.OrderTypeStopLimit {
			http.Error(w, "invalid order_type", http.StatusBadRequest)
			return
		}
		if payload.OrderType != "" && payload.OrderType != model.OrderTypeMarket && payload.LimitPrice == nil {
			http.Error(w, "limit orders require limit_price", http.StatusBadRequest)
			return
		}

		sellOrigin := ""
		if payload.Side == model.TradeSideSell {
			sellOrigin = model.CloseReasonManual
		}

		job, err := runner.CreateJob(r.Context(), jobs.CreateJobRequest{
			AccountID:    payload.AccountID,
			Symbol:       payload.Symbol,
			Side:         payload.Side,
			OrderType:    payload.OrderType,
			QuoteAmount:  payload.QuoteAmount,
			BaseQuantity: payload.BaseQuantity,
			LimitPrice:   payload.LimitPrice,
			LimitExpiry:  payload.LimitExpiry,
			SellOrigin:   sellOrigin,
		})
		if err != nil {
			logger.WithError(err).Error("failed to create trade job")
			http.Error(w, "Unable to create job", http.StatusUnprocessableEntity)
			return
		}

		// Market jobs run right away. A busy position returns 409 and leaves
		// the job PENDING for the dispatch sweep; other execution outcomes
		// live on the job record.
		if job.Status == model.TradeJobStatusPending {
			if err := runner.Execute(r.Context(), job.ID); err != nil {
				if errors.Is(err, jobs.ErrPositionBusy) {
					http.Error(w, err.Error(), http.StatusConflict)
					return
				}
				logger.WithField("jobID", job.ID).WithError(err).Error("failed to execute trade job")
			}
		}

		writeJSON(w, http.StatusCreated, job)
	}
}

// DefaultCreateJobHandler wires the handler to the production job service.
func DefaultCreateJobHandler() http.HandlerFunc {
	return CreateJobHandler(jobs.NewService())
}

// SearchJobsHandler lists jobs newest first. Supports pagination and
// filters (accountId, symbol, status).
func SearchJobsHandler(repo jobSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var accountID *uint
		if accountParam := r.URL.Query().Get("accountId"); accountParam != "" {
			id, err := strconv.ParseUint(accountParam, 10, 64)
			if err != nil {
				http.Error(w, "invalid accountId", http.StatusBadRequest)
				return
			}
			account := uint(id)
			accountID = &account
		}

		var symbol *string
		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			symbol = &symbolParam
		}

		var status *string
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			status = &statusParam
		}

		page := 1
		if pageParam := r.URL.Query().Get("page"); pageParam != "" {
			parsedPage, err := strconv.Atoi(pageParam)
			if err != nil || parsedPage <= 0 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			page = parsedPage
		}

		limit := 20
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsedLimit, err := strconv.Atoi(limitParam)
			if err != nil || parsedLimit <= 0 || parsedLimit > 100 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsedLimit
		}

		results, err := repo.Search(r.Context(), repository.TradeJobSearchOptions{
			ExchangeAccountID: accountID,
			Symbol:            symbol,
			Status:            status,
			Limit:             limit,
			Offset:            (page - 1) * limit,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search trade jobs")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, results)
	}
}

// DefaultSearchJobsHandler wires the handler to the production repository.
func DefaultSearchJobsHandler() http.HandlerFunc {
	return SearchJobsHandler(repository.NewTradeJobRepository())
}
