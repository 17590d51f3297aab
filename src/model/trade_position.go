package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionStatusOpen   = "OPEN"
	PositionStatusClosed = "CLOSED"
)

// Close reasons, derived from the origin of the closing sell.
const (
	CloseReasonTargetHit      = "TARGET_HIT"
	CloseReasonStopLoss       = "STOP_LOSS"
	CloseReasonWebhookSell    = "WEBHOOK_SELL"
	CloseReasonManual         = "MANUAL"
	CloseReasonReconciliation = "RECONCILIATION"
)

// TradePosition aggregates fills into one open holding per
// (account, mode, symbol). The sell lock fields implement the cross-process
// mutual exclusion for concurrent sell attempts: owner + expiry persisted on
// the row and only ever mutated via conditional updates.
type TradePosition struct {
	ID                uint `gorm:"primaryKey" json:"id"`
	ExchangeAccountID uint `gorm:"index" json:"exchange_account_id"`

	TradeMode string `gorm:"size:20;not null;index" json:"trade_mode"`
	Symbol    string `gorm:"size:50;not null;index" json:"symbol"`
	Status    string `gorm:"size:20;not null;default:OPEN;index" json:"status"`

	QuantityRemaining decimal.Decimal `gorm:"type:numeric" json:"quantity_remaining"`
	OpeningPrice      decimal.Decimal `gorm:"type:numeric" json:"opening_price"`
	RealizedPnlUSD    decimal.Decimal `gorm:"type:numeric" json:"realized_pnl_usd"`

	StopLossEnabled   bool            `gorm:"not null;default:false" json:"stop_loss_enabled"`
	StopLossPct       decimal.Decimal `gorm:"type:numeric" json:"stop_loss_pct"`
	TakeProfitEnabled bool            `gorm:"not null;default:false" json:"take_profit_enabled"`
	TakeProfitPct     decimal.Decimal `gorm:"type:numeric" json:"take_profit_pct"`

	// WebhookSellLocked disables webhook-originated sells on this position
	// without affecting SL/TP or manual closes.
	WebhookSellLocked bool `gorm:"not null;default:false" json:"webhook_sell_locked"`

	SellLockJobID  *uint      `gorm:"index" json:"sell_lock_job_id,omitempty"`
	SellLockExpiry *time.Time `json:"sell_lock_expiry,omitempty"`

	CloseReason string     `gorm:"size:30" json:"close_reason,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (TradePosition) TableName() string {
	return "trade_positions"
}

// PositionAlert marks a (position, alert type) pair as notified so the
// dispatcher is never called twice for the same alert.
type PositionAlert struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	TradePositionID uint      `gorm:"not null;index:idx_position_alert,unique" json:"trade_position_id"`
	AlertType       string    `gorm:"size:50;not null;index:idx_position_alert,unique" json:"alert_type"`
	CreatedAt       time.Time `json:"created_at"`
}

func (PositionAlert) TableName() string {
	return "position_alerts"
}

// DustThreshold is the quantity below which a position is treated as fully
// closed despite a non-zero remainder, absorbing exchange rounding noise.
var DustThreshold = decimal.RequireFromString("0.00000001")
