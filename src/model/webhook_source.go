package model

import "time"

const (
	TradeModeReal       = "REAL"
	TradeModeSimulation = "SIMULATION"
)

// WebhookSource represents one inbound signal source owned by a user.
// The webhook_code is issued once and never changes; rotating a code means
// creating a new source.
type WebhookSource struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"index" json:"user_id"`

	WebhookCode string `gorm:"size:64;uniqueIndex;not null" json:"webhook_code"`
	TradeMode   string `gorm:"size:20;not null;default:SIMULATION" json:"trade_mode"`

	// AllowedIPs is a comma-separated list of exact IPs or CIDR blocks.
	// Empty means every caller is admitted.
	AllowedIPs string `gorm:"size:1024" json:"allowed_ips,omitempty"`

	// SigningSecretEnc holds the HMAC signing secret encrypted at rest.
	// Empty means signature validation is disabled for this source.
	SigningSecretEnc string `gorm:"column:signing_secret;type:text" json:"-"`

	RateLimitPerMin int  `gorm:"not null;default:60" json:"rate_limit_per_min"`
	Active          bool `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// One source can fan out to several exchange accounts.
	Bindings []WebhookSourceBinding `gorm:"foreignKey:WebhookSourceID" json:"bindings,omitempty"`
}

func (WebhookSource) TableName() string {
	return "webhook_sources"
}

// WebhookSourceBinding maps a source to one exchange account that should
// receive jobs created from its signals.
type WebhookSourceBinding struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	WebhookSourceID   uint      `gorm:"not null;index:idx_source_account,unique" json:"webhook_source_id"`
	ExchangeAccountID uint      `gorm:"not null;index:idx_source_account,unique" json:"exchange_account_id"`
	CreatedAt         time.Time `json:"created_at"`

	ExchangeAccount *ExchangeAccount `gorm:"constraint:OnDelete:CASCADE" json:"exchange_account,omitempty"`
}

func (WebhookSourceBinding) TableName() string {
	return "webhook_source_bindings"
}

// WebhookEvent is one admitted inbound payload. The rows double as the
// backing data for the sliding-window rate limit, so they must be written
// before job creation.
type WebhookEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	WebhookSourceID uint      `gorm:"index" json:"webhook_source_id"`
	RemoteIP        string    `gorm:"size:64" json:"remote_ip"`
	RawBody         string    `gorm:"type:text" json:"raw_body"`
	ReceivedAt      time.Time `gorm:"index" json:"received_at"`
	CreatedAt       time.Time `json:"created_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
