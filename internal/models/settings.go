package models

import "github.com/shopspring/decimal"

// GatewaySettings is the single admin-editable settings row. Values here
// override the environment defaults loaded at startup.
type GatewaySettings struct {
	BaseModel
	MerchantAddress       string          `gorm:"size:56" json:"merchant_address"`
	AcceptedAssets        string          `gorm:"size:128" json:"accepted_assets"` // comma-separated codes
	PaymentTimeoutMinutes int             `json:"payment_timeout_minutes"`
	PriceBufferPercent    decimal.Decimal `gorm:"type:decimal(5,2)" json:"price_buffer_percent"`
	TolerancePercent      decimal.Decimal `gorm:"type:decimal(5,2)" json:"tolerance_percent"`
	ToleranceMinimum      decimal.Decimal `gorm:"type:decimal(20,7)" json:"tolerance_minimum"`
	PriceCacheSeconds     int             `json:"price_cache_seconds"`
}
