package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses used by the gateway. The storefront owns the rest of the
// order lifecycle; the gateway only moves orders between these states.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusFailed     = "failed"
)

// Order is the gateway's view of a storefront order: enough to price the
// payment, authorize guest status polls and record the outcome.
type Order struct {
	BaseModel
	OrderNumber   string          `gorm:"uniqueIndex" json:"order_number"`
	OrderKey      uuid.UUID       `gorm:"type:uuid" json:"-"`
	Status        string          `gorm:"size:20;index" json:"status"`
	TotalUSD      decimal.Decimal `gorm:"type:decimal(10,2)" json:"total_usd"`
	PaymentMethod string          `gorm:"size:32" json:"payment_method"`
	Notes         []OrderNote     `json:"notes,omitempty"`
}

// OrderNote is an append-only audit entry on an order.
type OrderNote struct {
	BaseModel
	OrderID uuid.UUID `gorm:"type:uuid;index" json:"order_id"`
	Text    string    `json:"text"`
}

// OrderMeta is a key/value annotation on an order, unique per key.
type OrderMeta struct {
	BaseModel
	OrderID uuid.UUID `gorm:"type:uuid;index:idx_order_meta,unique" json:"order_id"`
	Key     string    `gorm:"size:64;index:idx_order_meta,unique" json:"key"`
	Value   string    `json:"value"`
}
