package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TradeJobStatusPending         = "PENDING"
	TradeJobStatusPendingLimit    = "PENDING_LIMIT"
	TradeJobStatusExecuting       = "EXECUTING"
	TradeJobStatusFilled          = "FILLED"
	TradeJobStatusPartiallyFilled = "PARTIALLY_FILLED"
	TradeJobStatusFailed          = "FAILED"
	TradeJobStatusCanceled        = "CANCELED"
	TradeJobStatusSkipped         = "SKIPPED"
)

const (
	TradeSideBuy  = "BUY"
	TradeSideSell = "SELL"
)

const (
	OrderTypeMarket    = "MARKET"
	OrderTypeLimit     = "LIMIT"
	OrderTypeStopLimit = "STOP_LIMIT"
)

// Reason codes attached to terminal FAILED/SKIPPED/CANCELED transitions.
const (
	ReasonRateLimited         = "RATE_LIMITED"
	ReasonSizingRejected      = "SIZING_REJECTED"
	ReasonInsufficientFunds   = "INSUFFICIENT_FUNDS"
	ReasonExchangeError       = "EXCHANGE_ERROR"
	ReasonLimitExpired        = "LIMIT_EXPIRED"
	ReasonReconciliationSweep = "RECONCILIATION_SWEEP"
	ReasonManualCancel        = "MANUAL_CANCEL"
)

// TradeJob is one trading intent from signal (or manual action) to terminal
// state. Immutable once FILLED; all other mutation goes through the status
// updater on the repository.
type TradeJob struct {
	ID                uint  `gorm:"primaryKey" json:"id"`
	WebhookEventID    *uint `gorm:"index" json:"webhook_event_id,omitempty"`
	ExchangeAccountID uint  `gorm:"index" json:"exchange_account_id"`

	TradeMode string `gorm:"size:20;not null" json:"trade_mode"`
	Symbol    string `gorm:"size:50;not null;index" json:"symbol"`
	Side      string `gorm:"size:10;not null" json:"side"`
	OrderType string `gorm:"size:20;not null;default:MARKET" json:"order_type"`

	// Sizing: exactly one of the two is set. BUY jobs are sized in quote
	// currency, SELL jobs in base quantity.
	QuoteAmount  decimal.Decimal `gorm:"type:numeric" json:"quote_amount"`
	BaseQuantity decimal.Decimal `gorm:"type:numeric" json:"base_quantity"`

	LimitPrice  *decimal.Decimal `gorm:"type:numeric" json:"limit_price,omitempty"`
	LimitExpiry *time.Time       `json:"limit_expiry,omitempty"`

	Status        string `gorm:"size:30;not null;default:PENDING;index" json:"status"`
	ReasonCode    string `gorm:"size:50" json:"reason_code,omitempty"`
	ReasonMessage string `gorm:"size:1024" json:"reason_message,omitempty"`

	// SellOrigin records which actor requested a SELL job so the position
	// close reason can be derived from it.
	SellOrigin string `gorm:"size:30" json:"sell_origin,omitempty"`

	// VaultReservationID links a BUY job to the vault transaction that
	// reserved its capital.
	VaultReservationID *uint `gorm:"index" json:"vault_reservation_id,omitempty"`

	// AttemptCount feeds the deterministic client order id per exchange call.
	AttemptCount int `gorm:"not null;default:0" json:"attempt_count"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Executions []TradeExecution `gorm:"foreignKey:TradeJobID" json:"executions,omitempty"`
}

func (TradeJob) TableName() string {
	return "trade_jobs"
}

// IsTerminalJobStatus reports whether a status may never be left again.
func IsTerminalJobStatus(status string) bool {
	switch status {
	case TradeJobStatusFilled,
		TradeJobStatusPartiallyFilled,
		TradeJobStatusFailed,
		TradeJobStatusCanceled,
		TradeJobStatusSkipped:
		return true
	}
	return false
}
