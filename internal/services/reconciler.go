package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/stellarpay/internal/amount"
	"github.com/example/stellarpay/internal/models"
	"github.com/example/stellarpay/internal/pricing"
	"github.com/example/stellarpay/internal/stellar"
	"github.com/example/stellarpay/internal/token"
)

var (
	// ErrPaymentNotFound means no payment record exists for the order.
	ErrPaymentNotFound = errors.New("no payment record for order")
	// ErrAlreadySettled means the record is confirmed or expired; no
	// further ledger checks are performed for it.
	ErrAlreadySettled = errors.New("payment already settled")
	// ErrNotConfigured means the gateway has no merchant address.
	ErrNotConfigured = errors.New("gateway not configured: merchant address missing")
	// ErrUnsupportedAsset means the asset is unknown or not accepted.
	ErrUnsupportedAsset = errors.New("unsupported asset")
	// ErrUnauthorized means the supplied order key does not match.
	ErrUnauthorized = errors.New("order key mismatch")
	// ErrMemoCollision means two orders share a memo. This breaks the only
	// correlation key the ledger matcher has; it is never auto-resolved.
	ErrMemoCollision = errors.New("memo collision across orders: manual intervention required")
)

const (
	memoPrefix = "R8-"
	// statusCheckLockTTL throttles guest-poll-triggered ledger checks per
	// order. Advisory only: correctness comes from the conditional status
	// update, the lock just spares Horizon redundant queries.
	statusCheckLockTTL = 20 * time.Second
)

// orderLocks is an in-process TTL lock set keyed by order ID.
type orderLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]time.Time
}

func newOrderLocks() *orderLocks {
	return &orderLocks{m: make(map[uuid.UUID]time.Time)}
}

// TryAcquire takes the lock for an order unless it is already held and
// unexpired. Locks are not released explicitly; they lapse after ttl.
func (l *orderLocks) TryAcquire(orderID uuid.UUID, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if until, ok := l.m[orderID]; ok && now.Before(until) {
		return false
	}
	if len(l.m) > 1024 {
		for id, until := range l.m {
			if now.After(until) {
				delete(l.m, id)
			}
		}
	}
	l.m[orderID] = now.Add(ttl)
	return true
}

// StatusResult is what the guest status poll returns.
type StatusResult struct {
	Status    string `json:"status"`
	TxHash    string `json:"tx_hash,omitempty"`
	ExpiresIn int64  `json:"expires_in"`
	Checked   bool   `json:"checked"`
}

// TokenStats aggregates confirmed volume per asset.
type TokenStats struct {
	Total          int64           `json:"total"`
	Confirmed      int64           `json:"confirmed"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	USDReceived    decimal.Decimal `json:"usd_received"`
}

// Statistics summarizes the payments table.
type Statistics struct {
	Total            int64                 `json:"total"`
	Pending          int64                 `json:"pending"`
	Confirmed        int64                 `json:"confirmed"`
	Expired          int64                 `json:"expired"`
	ByToken          map[string]TokenStats `json:"by_token"`
	TotalUSDReceived decimal.Decimal       `json:"total_usd_received"`
}

// SettingsFn supplies the current settings snapshot per call.
type SettingsFn func() Settings

// Reconciler decides "paid / not yet / expired" for orders. It is the only
// writer of payment records; all three triggers (sweep, manual check, status
// poll) converge on the same conditional-update path, so racing executions
// settle a record at most once.
type Reconciler struct {
	db       *gorm.DB
	stellar  *stellar.Client
	oracle   *pricing.Oracle
	registry *token.Registry
	orders   OrderStore
	notifier Notifier
	settings SettingsFn
	locks    *orderLocks
}

// NewReconciler wires the engine from its collaborators.
func NewReconciler(db *gorm.DB, stellarClient *stellar.Client, oracle *pricing.Oracle, registry *token.Registry, orders OrderStore, notifier Notifier, settings SettingsFn) *Reconciler {
	return &Reconciler{
		db:       db,
		stellar:  stellarClient,
		oracle:   oracle,
		registry: registry,
		orders:   orders,
		notifier: notifier,
		settings: settings,
		locks:    newOrderLocks(),
	}
}

// GenerateMemo builds the unique correlation memo for an order:
// R8-<8 hex of the order id>-<6 random hex>, 18 bytes, within Stellar's
// 28-byte text memo limit.
func GenerateMemo(orderID uuid.UUID) string {
	ref := strings.ReplaceAll(orderID.String(), "-", "")[:8]

	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; keep the memo
		// usable regardless.
		nano := time.Now().UnixNano()
		buf[0], buf[1], buf[2] = byte(nano>>16), byte(nano>>8), byte(nano)
	}
	return memoPrefix + ref + "-" + hex.EncodeToString(buf)
}

// CreatePayment creates (or reuses) the pending payment record for an order.
//
// Reuse-on-return: a buyer who abandons checkout and comes back before
// expiry with the same asset gets the original memo, amount and deadline
// back. A changed asset or an already-expired record yields fresh terms; the
// memo is kept if one was already issued to the order.
func (r *Reconciler) CreatePayment(ctx context.Context, orderID uuid.UUID, assetCode string) (*models.Payment, error) {
	st := r.settings()
	if st.MerchantAddress == "" {
		return nil, ErrNotConfigured
	}

	asset, ok := r.registry.Get(assetCode)
	if !ok || !st.AcceptsAsset(asset.Code) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, assetCode)
	}

	total, err := r.orders.GetTotal(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	memo := ""

	var existing models.Payment
	err = r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&existing).Error
	switch {
	case err == nil:
		if existing.Status == models.PaymentStatusConfirmed {
			return nil, ErrAlreadySettled
		}
		if existing.Status == models.PaymentStatusPending &&
			existing.AssetCode == asset.Code &&
			!existing.Expired(now) {
			return &existing, nil
		}
		memo = existing.Memo
	case errors.Is(err, gorm.ErrRecordNotFound):
		// first record for this order
	default:
		return nil, err
	}

	quote, err := r.oracle.TokenAmount(ctx, total, asset.Code, true)
	if err != nil {
		return nil, err
	}

	if memo == "" {
		memo = GenerateMemo(orderID)
	}

	payment := models.Payment{
		OrderID:         orderID,
		Memo:            memo,
		AssetCode:       asset.Code,
		AssetIssuer:     asset.Issuer,
		AmountToken:     quote.TokenAmount,
		AmountUSD:       total,
		TokenPrice:      quote.PriceUSD,
		MerchantAddress: st.MerchantAddress,
		Status:          models.PaymentStatusPending,
		ExpiresAt:       now.Add(st.PaymentTimeout),
	}

	if existing.ID != uuid.Nil {
		// The unique order_id constraint means "fresh record" is an
		// in-place reset of the old row.
		payment.BaseModel = existing.BaseModel
		payment.TxHash = ""
		payment.SenderAddress = ""
		payment.PaidAt = nil
		if err := r.db.WithContext(ctx).Save(&payment).Error; err != nil {
			return nil, err
		}
	} else if err := r.db.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, err
	}

	if err := r.orders.SetMeta(ctx, orderID, "stellar_memo", memo); err != nil {
		log.Printf("[Reconciler] set memo meta for order %s: %v", orderID, err)
	}
	if err := r.orders.SetMeta(ctx, orderID, "stellar_expected_amount", quote.TokenAmount.StringFixed(amount.Scale)); err != nil {
		log.Printf("[Reconciler] set amount meta for order %s: %v", orderID, err)
	}
	if err := r.orders.TransitionStatus(ctx, orderID, models.OrderStatusPending, fmt.Sprintf("Awaiting %s payment", asset.Code)); err != nil {
		log.Printf("[Reconciler] transition order %s to pending: %v", orderID, err)
	}

	return &payment, nil
}

// SweepPending reconciles every pending payment once. Per-record failures
// are logged and skipped so one bad record or one Horizon hiccup never
// stalls the rest of the batch.
func (r *Reconciler) SweepPending(ctx context.Context) {
	st := r.settings()

	var pending []models.Payment
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.PaymentStatusPending).
		Order("created_at asc").
		Find(&pending).Error; err != nil {
		log.Printf("[Sweep] loading pending payments: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	for i := range pending {
		if err := r.reconcile(ctx, &pending[i], st); err != nil {
			log.Printf("[Sweep] order %s: %v", pending[i].OrderID, err)
		}
	}
}

// CheckOrder is the manual trigger: reconcile one order now. Settled records
// are rejected without a ledger call.
func (r *Reconciler) CheckOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	payment, err := r.loadPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Settled() {
		return payment, ErrAlreadySettled
	}

	if err := r.reconcile(ctx, payment, r.settings()); err != nil {
		return nil, err
	}
	return r.loadPayment(ctx, orderID)
}

// Status serves the guest poll: verify the order key, opportunistically run
// a check when the record is still pending and the per-order lock is free,
// and report where things stand.
func (r *Reconciler) Status(ctx context.Context, orderID, orderKey uuid.UUID, force bool) (*StatusResult, error) {
	key, err := r.orders.OrderKey(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if key == uuid.Nil || key != orderKey {
		return nil, ErrUnauthorized
	}

	payment, err := r.loadPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}

	checked := false
	if payment.Status == models.PaymentStatusPending {
		if r.locks.TryAcquire(orderID, statusCheckLockTTL) {
			if err := r.reconcile(ctx, payment, r.settings()); err != nil {
				log.Printf("[Status] check for order %s: %v", orderID, err)
			} else {
				checked = true
			}
			if payment, err = r.loadPayment(ctx, orderID); err != nil {
				return nil, err
			}
		} else if force {
			log.Printf("[Status] check for order %s throttled", orderID)
		}
	}

	expiresIn := int64(time.Until(payment.ExpiresAt).Seconds())
	if expiresIn < 0 || payment.Settled() {
		expiresIn = 0
	}

	return &StatusResult{
		Status:    payment.Status,
		TxHash:    payment.TxHash,
		ExpiresIn: expiresIn,
		Checked:   checked,
	}, nil
}

// reconcile applies the state machine to one pending record: expiry wins
// over anything a ledger query might say, an explicit match confirms, and an
// inconclusive query changes nothing.
func (r *Reconciler) reconcile(ctx context.Context, p *models.Payment, st Settings) error {
	if time.Now().UTC().After(p.ExpiresAt) {
		return r.expire(ctx, p)
	}

	merchant := p.MerchantAddress
	if merchant == "" {
		merchant = st.MerchantAddress
	}
	if merchant == "" {
		return ErrNotConfigured
	}

	asset, ok := r.registry.Get(p.AssetCode)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, p.AssetCode)
	}

	match, err := r.stellar.CheckPayment(ctx, stellar.CheckParams{
		MerchantAddress: merchant,
		Memo:            p.Memo,
		MinAmount:       amount.MinAcceptable(p.AmountToken, st.TolerancePercent, st.ToleranceMinimum),
		AssetCode:       asset.Code,
		AssetIssuer:     asset.Issuer,
		Native:          asset.Native,
	})
	if err != nil {
		// Inconclusive: state stays put.
		return err
	}
	if match == nil {
		return nil
	}

	var collisions int64
	if err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("memo = ? AND order_id <> ?", p.Memo, p.OrderID).
		Count(&collisions).Error; err != nil {
		return err
	}
	if collisions > 0 {
		log.Printf("[Reconciler] FATAL: memo %q is shared by %d other payment record(s); refusing to settle order %s", p.Memo, collisions, p.OrderID)
		return ErrMemoCollision
	}

	return r.confirm(ctx, p, match)
}

// confirm transitions pending -> confirmed. The status guard in the WHERE
// clause makes racing writers no-ops: side effects fire only for the single
// execution whose update actually changed the row.
func (r *Reconciler) confirm(ctx context.Context, p *models.Payment, match *stellar.PaymentMatch) error {
	now := time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", p.OrderID, models.PaymentStatusPending).
		Updates(map[string]any{
			"status":         models.PaymentStatusConfirmed,
			"tx_hash":        match.TxHash,
			"sender_address": match.From,
			"paid_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	note := fmt.Sprintf("%s %s payment confirmed. TX: %s. From: %s",
		match.Amount.StringFixed(amount.Scale), p.AssetCode, match.TxHash, match.From)
	if err := r.orders.TransitionStatus(ctx, p.OrderID, models.OrderStatusProcessing, note); err != nil {
		log.Printf("[Reconciler] order %s transition after confirm: %v", p.OrderID, err)
	}
	if err := r.orders.SetMeta(ctx, p.OrderID, "stellar_tx_hash", match.TxHash); err != nil {
		log.Printf("[Reconciler] order %s tx hash meta: %v", p.OrderID, err)
	}

	log.Printf("[Reconciler] %s payment confirmed for order %s - TX: %s", p.AssetCode, p.OrderID, match.TxHash)

	if r.notifier != nil {
		go r.notifier.PaymentConfirmed(PaymentNotification{
			OrderNumber: p.OrderID.String(),
			AssetCode:   p.AssetCode,
			Amount:      match.Amount,
			Memo:        p.Memo,
			TxHash:      match.TxHash,
			From:        match.From,
		})
	}
	return nil
}

// expire transitions pending -> expired under the same conditional-update
// discipline as confirm.
func (r *Reconciler) expire(ctx context.Context, p *models.Payment) error {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", p.OrderID, models.PaymentStatusPending).
		Update("status", models.PaymentStatusExpired)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	note := fmt.Sprintf("Payment expired. Expected: %s %s. Memo: %s. No matching payment found on the Stellar network before the deadline.",
		p.AmountToken.StringFixed(amount.Scale), p.AssetCode, p.Memo)
	if err := r.orders.TransitionStatus(ctx, p.OrderID, models.OrderStatusFailed, note); err != nil {
		log.Printf("[Reconciler] order %s transition after expiry: %v", p.OrderID, err)
	}

	log.Printf("[Reconciler] payment expired for order %s (%s)", p.OrderID, p.AssetCode)

	if r.notifier != nil {
		go r.notifier.PaymentExpired(PaymentNotification{
			OrderNumber: p.OrderID.String(),
			AssetCode:   p.AssetCode,
			Amount:      p.AmountToken,
			Memo:        p.Memo,
		})
	}
	return nil
}

func (r *Reconciler) loadPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Payment returns the payment record for an order, if any.
func (r *Reconciler) Payment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.loadPayment(ctx, orderID)
}

// Stats summarizes the payments table for the admin dashboard.
func (r *Reconciler) Stats(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{ByToken: make(map[string]TokenStats)}

	var statusRows []struct {
		Status string
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusRows).Error; err != nil {
		return nil, err
	}
	for _, row := range statusRows {
		stats.Total += row.Count
		switch row.Status {
		case models.PaymentStatusPending:
			stats.Pending = row.Count
		case models.PaymentStatusConfirmed:
			stats.Confirmed = row.Count
		case models.PaymentStatusExpired:
			stats.Expired = row.Count
		}
	}

	var tokenRows []struct {
		AssetCode      string
		TotalCount     int64
		ConfirmedCount int64
		TotalReceived  decimal.Decimal
		TotalUSD       decimal.Decimal
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select(`asset_code,
			count(*) as total_count,
			sum(case when status = 'confirmed' then 1 else 0 end) as confirmed_count,
			sum(case when status = 'confirmed' then amount_token else 0 end) as total_received,
			sum(case when status = 'confirmed' then amount_usd else 0 end) as total_usd`).
		Group("asset_code").
		Scan(&tokenRows).Error; err != nil {
		return nil, err
	}
	for _, row := range tokenRows {
		stats.ByToken[row.AssetCode] = TokenStats{
			Total:          row.TotalCount,
			Confirmed:      row.ConfirmedCount,
			AmountReceived: row.TotalReceived,
			USDReceived:    row.TotalUSD,
		}
		stats.TotalUSDReceived = stats.TotalUSDReceived.Add(row.TotalUSD)
	}

	return stats, nil
}
