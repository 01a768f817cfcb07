package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/stellarpay/internal/models"
)

// ErrOrderNotFound is returned when the storefront has no such order.
var ErrOrderNotFound = errors.New("order not found")

// OrderStore is the gateway's only window into the storefront's order
// subsystem. The reconciliation engine never touches order rows directly;
// tests substitute fakes.
type OrderStore interface {
	GetTotal(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error)
	OrderKey(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error)
	PaymentMethod(ctx context.Context, orderID uuid.UUID) (string, error)
	TransitionStatus(ctx context.Context, orderID uuid.UUID, status, note string) error
	AddAuditNote(ctx context.Context, orderID uuid.UUID, text string) error
	SetMeta(ctx context.Context, orderID uuid.UUID, key, value string) error
}

// GormOrderStore serves orders from the shared database.
type GormOrderStore struct {
	db *gorm.DB
}

// NewGormOrderStore returns an OrderStore backed by the given database.
func NewGormOrderStore(db *gorm.DB) *GormOrderStore {
	return &GormOrderStore{db: db}
}

func (s *GormOrderStore) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *GormOrderStore) GetTotal(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	return order.TotalUSD, nil
}

func (s *GormOrderStore) OrderKey(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return uuid.Nil, err
	}
	return order.OrderKey, nil
}

func (s *GormOrderStore) PaymentMethod(ctx context.Context, orderID uuid.UUID) (string, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return "", err
	}
	return order.PaymentMethod, nil
}

func (s *GormOrderStore) TransitionStatus(ctx context.Context, orderID uuid.UUID, status, note string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	if note != "" {
		return s.AddAuditNote(ctx, orderID, note)
	}
	return nil
}

func (s *GormOrderStore) AddAuditNote(ctx context.Context, orderID uuid.UUID, text string) error {
	note := models.OrderNote{OrderID: orderID, Text: text}
	return s.db.WithContext(ctx).Create(&note).Error
}

func (s *GormOrderStore) SetMeta(ctx context.Context, orderID uuid.UUID, key, value string) error {
	meta := models.OrderMeta{OrderID: orderID, Key: key, Value: value}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&meta).Error
}
