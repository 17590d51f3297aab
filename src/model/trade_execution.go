package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange-side statuses we track on an execution row.
const (
	ExecutionStatusNew             = "NEW"
	ExecutionStatusPartiallyFilled = "PARTIALLY_FILLED"
	ExecutionStatusFilled          = "FILLED"
	ExecutionStatusCanceled        = "CANCELED"
	ExecutionStatusRejected        = "REJECTED"
)

// TradeExecution stores the result of one exchange call attempt for a job.
// Rows are append-only; the only updates allowed reflect asynchronous
// exchange-side status progression of the same order.
type TradeExecution struct {
	ID                uint `gorm:"primaryKey" json:"id"`
	TradeJobID        uint `gorm:"index" json:"trade_job_id"`
	ExchangeAccountID uint `gorm:"index" json:"exchange_account_id"`

	TradeMode    string `gorm:"size:20;not null" json:"trade_mode"`
	ExchangeName string `gorm:"size:50;not null" json:"exchange_name"`

	// ClientOrderID is the deterministic idempotency key sent with the order.
	// Unique per job attempt so a network-level retry is recognized by the
	// exchange as the same order.
	ClientOrderID   string `gorm:"size:64;uniqueIndex;not null" json:"client_order_id"`
	ExchangeOrderID string `gorm:"size:255;index" json:"exchange_order_id"`

	Status string `gorm:"size:30;not null" json:"status"`

	ExecutedQty  decimal.Decimal `gorm:"type:numeric" json:"executed_qty"`
	CummQuoteQty decimal.Decimal `gorm:"type:numeric" json:"cumm_quote_qty"`
	AvgPrice     decimal.Decimal `gorm:"type:numeric" json:"avg_price"`

	// RawResponse keeps the exchange payload verbatim for audit; the typed
	// columns above are the source of truth.
	RawResponse string `gorm:"type:text" json:"raw_response,omitempty"`

	RequestedAt time.Time `json:"requested_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (TradeExecution) TableName() string {
	return "trade_executions"
}
