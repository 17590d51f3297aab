package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/jobs"
	"tradeexecutor/src/model"
	"tradeexecutor/src/positions"
	"tradeexecutor/src/repository"
)

type positionSearcher interface {
	Search(ctx context.Context, options repository.PositionSearchOptions) ([]model.TradePosition, error)
	FindByID(ctx context.Context, id uint) (*model.TradePosition, error)
}

type positionLedger interface {
	UpdateSLTP(ctx context.Context, positionID uint, slEnabled bool, slPct decimal.Decimal, tpEnabled bool, tpPct decimal.Decimal) error
	LockSellByWebhook(ctx context.Context, positionID uint, locked bool) error
	ClosePosition(ctx context.Context, positionID uint, quantity *decimal.Decimal) (decimal.Decimal, error)
}

type jobRunner interface {
	CreateJob(ctx context.Context, req jobs.CreateJobRequest) (*model.TradeJob, error)
	Execute(ctx context.Context, jobID uint) error
}

// SearchPositionsHandler lists positions newest first. Supports pagination
// and filters (accountId, symbol, status).
func SearchPositionsHandler(repo positionSearcher) http.HandlerFunc {
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

		limit := 50
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsedLimit, err := strconv.Atoi(limitParam)
			if err != nil || parsedLimit <= 0 || parsedLimit > 200 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsedLimit
		}

		results, err := repo.Search(r.Context(), repository.PositionSearchOptions{
			ExchangeAccountID: accountID,
			Symbol:            symbol,
			Status:            status,
			Limit:             limit,
			Offset:            (page - 1) * limit,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search positions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, results)
	}
}

// DefaultSearchPositionsHandler wires the handler to the production repository.
func DefaultSearchPositionsHandler() http.HandlerFunc {
	return SearchPositionsHandler(repository.NewPositionRepository())
}

type updateSLTPPayload struct {
	StopLossEnabled   bool            `json:"stop_loss_enabled"`
	StopLossPercent   decimal.Decimal `json:"stop_loss_percent"`
	TakeProfitEnabled bool            `json:"take_profit_enabled"`
	TakeProfitPercent decimal.Decimal `json:"take_profit_percent"`
}

// UpdateSLTPHandler reconfigures stop-loss/take-profit on an open position.
func UpdateSLTPHandler(ledger positionLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positionID, ok := positionIDFromURL(w, r)
		if !ok {
			return
		}

		var payload updateSLTPPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		err := ledger.UpdateSLTP(r.Context(), positionID,
			payload.StopLossEnabled, payload.StopLossPercent,
			payload.TakeProfitEnabled, payload.TakeProfitPercent)
		if err != nil {
			if errors.Is(err, repository.ErrPositionClosed) {
				http.Error(w, "position is closed", http.StatusConflict)
				return
			}
			logger.WithError(err).Error("failed to update position SL/TP")
			http.Error(w, "Unable to update position", http.StatusUnprocessableEntity)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// DefaultUpdateSLTPHandler wires the handler to the production ledger.
func DefaultUpdateSLTPHandler() http.HandlerFunc {
	return UpdateSLTPHandler(positions.NewLedger(repository.NewPositionRepository()))
}

type webhookLockPayload struct {
	Locked bool `json:"locked"`
}

// WebhookSellLockHandler toggles the flag that blocks webhook-originated
// sells on a position.
func WebhookSellLockHandler(ledger positionLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positionID, ok := positionIDFromURL(w, r)
		if !ok {
			return
		}

		var payload webhookLockPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if err := ledger.LockSellByWebhook(r.Context(), positionID, payload.Locked); err != nil {
			if errors.Is(err, repository.ErrPositionClosed) {
				http.Error(w, "position is closed", http.StatusConflict)
				return
			}
			logger.WithError(err).Error("failed to toggle webhook sell lock")
			http.Error(w, "Unable to update position", http.StatusUnprocessableEntity)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// DefaultWebhookSellLockHandler wires the handler to the production ledger.
func DefaultWebhookSellLockHandler() http.HandlerFunc {
	return WebhookSellLockHandler(positions.NewLedger(repository.NewPositionRepository()))
}

type closePositionPayload struct {
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
}

// ClosePositionHandler sells part or all of a position on request. The sell
// runs synchronously through the job machine; a busy sell lock surfaces as
// 409 rather than a generic failure.
func ClosePositionHandler(repo positionSearcher, ledger positionLedger, runner jobRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positionID, ok := positionIDFromURL(w, r)
		if !ok {
			return
		}

		var payload closePositionPayload
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				http.Error(w, "Invalid payload", http.StatusBadRequest)
				return
			}
		}

		quantity, err := ledger.ClosePosition(r.Context(), positionID, payload.Quantity)
		if err != nil {
			if errors.Is(err, positions.ErrPositionNotFound) {
				http.Error(w, "position not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, positions.ErrInvalidQuantity) {
				http.Error(w, "invalid quantity", http.StatusBadRequest)
				return
			}
			logger.WithError(err).Error("failed to resolve close quantity")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		position, err := repo.FindByID(r.Context(), positionID)
		if err != nil || position == nil {
			http.Error(w, "position not found", http.StatusNotFound)
			return
		}

		job, err := runner.CreateJob(r.Context(), jobs.CreateJobRequest{
			AccountID:    position.ExchangeAccountID,
			Symbol:       position.Symbol,
			Side:         model.TradeSideSell,
			BaseQuantity: &quantity,
			SellOrigin:   model.CloseReasonManual,
		})
		if err != nil {
			logger.WithError(err).Error("failed to create close job")
			http.Error(w, "Unable to create job", http.StatusUnprocessableEntity)
			return
		}

		if err := runner.Execute(r.Context(), job.ID); err != nil {
			if errors.Is(err, jobs.ErrPositionBusy) {
				http.Error(w, "position busy, try again shortly", http.StatusConflict)
				return
			}
			logger.WithError(err).Error("failed to execute close job")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":   job.ID,
			"quantity": quantity,
		})
	}
}

// DefaultClosePositionHandler wires the handler to the production stack.
func DefaultClosePositionHandler() http.HandlerFunc {
	repo := repository.NewPositionRepository()
	return ClosePositionHandler(repo, positions.NewLedger(repo), jobs.NewService())
}

func positionIDFromURL(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid position id", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}
