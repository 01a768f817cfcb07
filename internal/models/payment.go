package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment statuses. Transitions leave pending exactly once: either to
// confirmed or to expired, never back.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusExpired   = "expired"
)

// Payment stores the Stellar payment expectation for a single order.
type Payment struct {
	BaseModel
	OrderID         uuid.UUID       `gorm:"type:uuid;uniqueIndex" json:"order_id"`
	Memo            string          `gorm:"size:28;index" json:"memo"`
	AssetCode       string          `gorm:"size:12" json:"asset_code"`
	AssetIssuer     string          `gorm:"size:56" json:"asset_issuer"`
	AmountToken     decimal.Decimal `gorm:"type:decimal(20,7)" json:"amount_token"`
	AmountUSD       decimal.Decimal `gorm:"type:decimal(10,2)" json:"amount_usd"`
	TokenPrice      decimal.Decimal `gorm:"type:decimal(15,8)" json:"token_price"`
	MerchantAddress string          `gorm:"size:56" json:"merchant_address"`
	Status          string          `gorm:"size:20;index;default:'pending'" json:"status"`
	TxHash          string          `gorm:"size:64" json:"tx_hash"`
	SenderAddress   string          `gorm:"size:56" json:"sender_address"`
	ExpiresAt       time.Time       `gorm:"index" json:"expires_at"`
	PaidAt          *time.Time      `json:"paid_at"`
}

// Expired reports whether the payment window has closed at the given instant.
func (p *Payment) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Settled reports whether the payment reached a terminal state.
func (p *Payment) Settled() bool {
	return p.Status == PaymentStatusConfirmed || p.Status == PaymentStatusExpired
}
