package models

import "github.com/shopspring/decimal"

// PriceSnapshot persists the last successfully fetched USD price per asset.
// It backs the oracle's last-known-good fallback across restarts.
type PriceSnapshot struct {
	BaseModel
	AssetCode string          `gorm:"size:12;uniqueIndex" json:"asset_code"`
	PriceUSD  decimal.Decimal `gorm:"type:decimal(15,8)" json:"price_usd"`
}
