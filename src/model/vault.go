package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vault transaction types. A balance is only ever changed by appending one
// of these rows and recomputing the derived total.
const (
	VaultTxDeposit    = "DEPOSIT"
	VaultTxWithdrawal = "WITHDRAWAL"
	VaultTxBuyReserve = "BUY_RESERVE"
	VaultTxBuyConfirm = "BUY_CONFIRM"
	VaultTxBuyCancel  = "BUY_CANCEL"
	VaultTxSellReturn = "SELL_RETURN"
)

const (
	VaultTxStatusOpen      = "OPEN"
	VaultTxStatusConfirmed = "CONFIRMED"
	VaultTxStatusCanceled  = "CANCELED"
)

// Vault is a capital pot belonging to one user, partitioned by trade mode.
type Vault struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:idx_vault_user_mode,unique" json:"user_id"`
	TradeMode string    `gorm:"size:20;not null;index:idx_vault_user_mode,unique" json:"trade_mode"`
	Name      string    `gorm:"size:255" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Vault) TableName() string {
	return "vaults"
}

// VaultBalance is the derived running total per (vault, asset). Never
// written directly by callers; the ledger recomputes it from transactions.
type VaultBalance struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	VaultID   uint            `gorm:"not null;index:idx_vault_asset,unique" json:"vault_id"`
	Asset     string          `gorm:"size:20;not null;index:idx_vault_asset,unique" json:"asset"`
	Balance   decimal.Decimal `gorm:"type:numeric" json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (VaultBalance) TableName() string {
	return "vault_balances"
}

// VaultTransaction is one append-only ledger row. Amount carries the sign of
// its effect on the balance: DEPOSIT/BUY_CANCEL/SELL_RETURN positive,
// WITHDRAWAL/BUY_RESERVE negative. BUY_CONFIRM is zero-sum against its
// reservation (confirmed spend stays debited, only the excess comes back).
type VaultTransaction struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	VaultID uint   `gorm:"not null;index" json:"vault_id"`
	Asset   string `gorm:"size:20;not null;index" json:"asset"`

	TxType string          `gorm:"size:20;not null;index" json:"tx_type"`
	Amount decimal.Decimal `gorm:"type:numeric" json:"amount"`

	// Status tracks reservation settlement: BUY_RESERVE rows start OPEN and
	// move to CONFIRMED or CANCELED exactly once. Other types are CONFIRMED
	// on insert.
	Status string `gorm:"size:20;not null;default:CONFIRMED;index" json:"status"`

	// ReservationID links BUY_CONFIRM/BUY_CANCEL rows back to the
	// BUY_RESERVE they settle.
	ReservationID *uint `gorm:"index" json:"reservation_id,omitempty"`
	TradeJobID    *uint `gorm:"index" json:"trade_job_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (VaultTransaction) TableName() string {
	return "vault_transactions"
}
