package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/stellarpay/internal/config"
	"github.com/example/stellarpay/internal/models"
	"github.com/example/stellarpay/internal/stellar"
	"github.com/example/stellarpay/internal/token"
)

// Settings is the typed runtime snapshot the engine and handlers read. It is
// rebuilt from the database row after every admin update; callers receive a
// copy and never read config ambiently.
type Settings struct {
	MerchantAddress    string
	AcceptedAssets     []string
	PaymentTimeout     time.Duration
	PriceBufferPercent decimal.Decimal
	TolerancePercent   decimal.Decimal
	ToleranceMinimum   decimal.Decimal
	PriceCacheTTL      time.Duration
}

// AcceptsAsset reports whether the given code is on the accepted list.
func (s Settings) AcceptsAsset(code string) bool {
	for _, c := range s.AcceptedAssets {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// SettingsUpdate carries an admin settings change. Nil fields keep their
// current value.
type SettingsUpdate struct {
	MerchantAddress       *string          `json:"merchant_address"`
	AcceptedAssets        []string         `json:"accepted_assets"`
	PaymentTimeoutMinutes *int             `json:"payment_timeout_minutes"`
	PriceBufferPercent    *decimal.Decimal `json:"price_buffer_percent"`
	TolerancePercent      *decimal.Decimal `json:"tolerance_percent"`
	ToleranceMinimum      *decimal.Decimal `json:"tolerance_minimum"`
	PriceCacheSeconds     *int             `json:"price_cache_seconds"`
}

// SettingsService owns the admin-editable gateway settings row and serves
// the current snapshot to the rest of the process.
type SettingsService struct {
	db       *gorm.DB
	registry *token.Registry
	stellar  *stellar.Client

	mu      sync.RWMutex
	current Settings
}

// NewSettingsService loads the settings row, seeding it from environment
// defaults on first boot.
func NewSettingsService(db *gorm.DB, registry *token.Registry, stellarClient *stellar.Client, cfg *config.Config) (*SettingsService, error) {
	s := &SettingsService{db: db, registry: registry, stellar: stellarClient}

	var row models.GatewaySettings
	err := db.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.GatewaySettings{
			MerchantAddress:       cfg.MerchantAddress,
			AcceptedAssets:        strings.Join(cfg.AcceptedAssets, ","),
			PaymentTimeoutMinutes: cfg.PaymentTimeoutMinutes,
			PriceBufferPercent:    cfg.PriceBufferPercent,
			TolerancePercent:      cfg.TolerancePercent,
			ToleranceMinimum:      cfg.ToleranceMinimum,
			PriceCacheSeconds:     cfg.PriceCacheSeconds,
		}
		if err := db.Create(&row).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = snapshotFromRow(row)
	s.mu.Unlock()
	return s, nil
}

// Current returns the active settings snapshot.
func (s *SettingsService) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and persists an admin settings change, then swaps in the
// new snapshot. The merchant address is format-checked and its trustlines
// verified for every accepted issued asset before it is stored.
func (s *SettingsService) Update(ctx context.Context, upd SettingsUpdate) (Settings, error) {
	var row models.GatewaySettings
	if err := s.db.WithContext(ctx).First(&row).Error; err != nil {
		return Settings{}, err
	}

	if upd.MerchantAddress != nil {
		address := strings.ToUpper(strings.TrimSpace(*upd.MerchantAddress))
		if address != "" && !stellar.ValidateAddress(address) {
			return Settings{}, fmt.Errorf("invalid Stellar address: must be 56 characters starting with G")
		}
		row.MerchantAddress = address
	}

	if upd.AcceptedAssets != nil {
		var codes []string
		for _, code := range upd.AcceptedAssets {
			code = strings.ToUpper(strings.TrimSpace(code))
			if _, ok := s.registry.Get(code); !ok {
				return Settings{}, fmt.Errorf("unsupported asset: %s", code)
			}
			codes = append(codes, code)
		}
		if len(codes) == 0 {
			return Settings{}, errors.New("at least one accepted asset is required")
		}
		row.AcceptedAssets = strings.Join(codes, ",")
	}

	if upd.PaymentTimeoutMinutes != nil {
		if *upd.PaymentTimeoutMinutes < 5 || *upd.PaymentTimeoutMinutes > 120 {
			return Settings{}, errors.New("payment timeout must be between 5 and 120 minutes")
		}
		row.PaymentTimeoutMinutes = *upd.PaymentTimeoutMinutes
	}

	if upd.PriceBufferPercent != nil {
		if err := checkPercent(*upd.PriceBufferPercent); err != nil {
			return Settings{}, fmt.Errorf("price buffer: %w", err)
		}
		row.PriceBufferPercent = *upd.PriceBufferPercent
	}

	if upd.TolerancePercent != nil {
		if err := checkPercent(*upd.TolerancePercent); err != nil {
			return Settings{}, fmt.Errorf("tolerance: %w", err)
		}
		row.TolerancePercent = *upd.TolerancePercent
	}

	if upd.ToleranceMinimum != nil {
		if upd.ToleranceMinimum.IsNegative() {
			return Settings{}, errors.New("tolerance minimum must not be negative")
		}
		row.ToleranceMinimum = *upd.ToleranceMinimum
	}

	if upd.PriceCacheSeconds != nil {
		if *upd.PriceCacheSeconds < 0 {
			return Settings{}, errors.New("price cache TTL must not be negative")
		}
		row.PriceCacheSeconds = *upd.PriceCacheSeconds
	}

	if row.MerchantAddress != "" {
		if err := s.verifyTrustlines(ctx, row); err != nil {
			return Settings{}, err
		}
	}

	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return Settings{}, err
	}

	next := snapshotFromRow(row)
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}

func (s *SettingsService) verifyTrustlines(ctx context.Context, row models.GatewaySettings) error {
	for _, code := range strings.Split(row.AcceptedAssets, ",") {
		asset, ok := s.registry.Get(code)
		if !ok || asset.Native {
			continue
		}
		has, err := s.stellar.CheckTrustline(ctx, row.MerchantAddress, asset.Code, asset.Issuer)
		if err != nil {
			return fmt.Errorf("could not verify %s trustline: %w", asset.Code, err)
		}
		if !has {
			return fmt.Errorf("merchant address has no %s trustline", asset.Code)
		}
	}
	return nil
}

func snapshotFromRow(row models.GatewaySettings) Settings {
	var codes []string
	for _, part := range strings.Split(row.AcceptedAssets, ",") {
		if code := strings.TrimSpace(part); code != "" {
			codes = append(codes, code)
		}
	}
	return Settings{
		MerchantAddress:    row.MerchantAddress,
		AcceptedAssets:     codes,
		PaymentTimeout:     time.Duration(row.PaymentTimeoutMinutes) * time.Minute,
		PriceBufferPercent: row.PriceBufferPercent,
		TolerancePercent:   row.TolerancePercent,
		ToleranceMinimum:   row.ToleranceMinimum,
		PriceCacheTTL:      time.Duration(row.PriceCacheSeconds) * time.Second,
	}
}

func checkPercent(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(10)) {
		return errors.New("must be between 0 and 10")
	}
	return nil
}
