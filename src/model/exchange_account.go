package model

import "time"

// ExchangeAccount holds one user's credentials for one exchange, partitioned
// by trade mode. API credentials are stored encrypted and decrypted only at
// connector construction time.
type ExchangeAccount struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"not null;index:idx_account_user,unique" json:"user_id"`

	ExchangeName string `gorm:"size:50;not null;index:idx_account_user,unique" json:"exchange_name"`
	TradeMode    string `gorm:"size:20;not null;index:idx_account_user,unique" json:"trade_mode"`

	APIKeyEnc    string `gorm:"column:api_key;type:text" json:"-"`
	APISecretEnc string `gorm:"column:api_secret;type:text" json:"-"`

	// OrderSizePercent sizes vault-funded BUY jobs as a percentage of the
	// available quote balance.
	OrderSizePercent int `gorm:"not null;default:100" json:"order_size_percent"`

	VaultID *uint `gorm:"index" json:"vault_id,omitempty"`
	Active  bool  `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExchangeAccount) TableName() string {
	return "exchange_accounts"
}
