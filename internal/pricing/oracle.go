// Package pricing resolves USD prices for supported assets. API-priced
// tokens come from one shared pricing endpoint; the rest are triangulated
// through the XLM orderbook on Horizon. Failures fall back to the persisted
// last-known-good price and then to the registry's static table.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/stellarpay/internal/amount"
	"github.com/example/stellarpay/internal/stellar"
	"github.com/example/stellarpay/internal/token"
)

// DefaultPricingAPI is the REST endpoint quoting the API-priced tokens.
const DefaultPricingAPI = "https://api.real8.org/prices"

var one = decimal.NewFromInt(1)
var hundred = decimal.NewFromInt(100)

// ErrUnknownAsset is returned for codes outside the registry.
var ErrUnknownAsset = errors.New("pricing: unknown asset")

// SnapshotStore persists the last successfully fetched price per asset so
// the fallback survives restarts.
type SnapshotStore interface {
	Load(ctx context.Context, code string) (decimal.Decimal, bool, error)
	Save(ctx context.Context, code string, price decimal.Decimal) error
}

// Quote is the result of a fiat-to-token conversion.
type Quote struct {
	TokenAmount    decimal.Decimal `json:"token_amount"`
	FiatAmount     decimal.Decimal `json:"fiat_amount"`
	PriceUSD       decimal.Decimal `json:"price_usd"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	BufferPercent  decimal.Decimal `json:"buffer_percent"`
}

// Options carries the per-call tunables the admin can change at runtime.
type Options struct {
	CacheTTL      time.Duration
	BufferPercent decimal.Decimal
}

// OptionsFn supplies the current options snapshot.
type OptionsFn func() Options

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Oracle fetches, caches and converts asset prices.
type Oracle struct {
	registry   *token.Registry
	stellar    *stellar.Client
	store      SnapshotStore
	options    OptionsFn
	pricingURL string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedPrice
}

// NewOracle wires an oracle from its collaborators.
func NewOracle(registry *token.Registry, stellarClient *stellar.Client, store SnapshotStore, options OptionsFn, pricingURL string) *Oracle {
	if pricingURL == "" {
		pricingURL = DefaultPricingAPI
	}
	return &Oracle{
		registry:   registry,
		stellar:    stellarClient,
		store:      store,
		options:    options,
		pricingURL: strings.TrimRight(pricingURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      make(map[string]cachedPrice),
	}
}

// Price returns the current USD price for an asset. Unless force is set, a
// cached price younger than the configured TTL is returned as-is. On fetch
// failure the persisted snapshot and then the static fallback table are
// consulted; the error only propagates when neither exists.
func (o *Oracle) Price(ctx context.Context, code string, force bool) (decimal.Decimal, error) {
	asset, ok := o.registry.Get(code)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, code)
	}
	code = asset.Code

	opts := o.options()

	if !force {
		if price, ok := o.cached(code, opts.CacheTTL); ok {
			return price, nil
		}
	}

	price, err := o.fetch(ctx, asset)
	if err != nil {
		log.Printf("[Pricing] fetch failed for %s: %v", code, err)
		return o.fallback(ctx, code, err)
	}

	o.mu.Lock()
	o.cache[code] = cachedPrice{price: price, fetchedAt: time.Now()}
	o.mu.Unlock()

	if storeErr := o.store.Save(ctx, code, price); storeErr != nil {
		log.Printf("[Pricing] failed to persist snapshot for %s: %v", code, storeErr)
	}

	return price, nil
}

// TokenAmount converts a fiat amount into tokens at the current price. With
// the buffer applied the effective price drops, so the buyer sends slightly
// more tokens than the literal conversion; that headroom absorbs price drift
// during the payment window.
func (o *Oracle) TokenAmount(ctx context.Context, fiat decimal.Decimal, code string, includeBuffer bool) (*Quote, error) {
	price, err := o.Price(ctx, code, false)
	if err != nil {
		return nil, err
	}

	opts := o.options()

	effective := price
	buffer := decimal.Zero
	if includeBuffer {
		buffer = opts.BufferPercent
		effective = price.Mul(one.Sub(buffer.Div(hundred)))
	}

	if !effective.IsPositive() {
		return nil, fmt.Errorf("pricing: non-positive effective price for %s", code)
	}

	return &Quote{
		TokenAmount:    fiat.DivRound(effective, amount.Scale),
		FiatAmount:     fiat,
		PriceUSD:       price,
		EffectivePrice: effective,
		BufferPercent:  buffer,
	}, nil
}

// ClearCache drops all cached prices, forcing the next lookup to refetch.
func (o *Oracle) ClearCache() {
	o.mu.Lock()
	o.cache = make(map[string]cachedPrice)
	o.mu.Unlock()
}

func (o *Oracle) cached(code string, ttl time.Duration) (decimal.Decimal, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.cache[code]
	if !ok || time.Since(entry.fetchedAt) > ttl {
		return decimal.Zero, false
	}
	return entry.price, true
}

func (o *Oracle) fetch(ctx context.Context, asset token.Asset) (decimal.Decimal, error) {
	if asset.PriceSource == token.PriceSourceAPI {
		return o.fetchFromAPI(ctx, asset.Code)
	}
	return o.fetchFromOrderbook(ctx, asset)
}

// The pricing endpoint quotes every API-priced token in one response, keyed
// either by "<CODE>_USDC" or by the bare code.
func (o *Oracle) fetchFromAPI(ctx context.Context, code string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.pricingURL, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing API unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("pricing API returned status %d", resp.StatusCode)
	}

	var payload map[string]struct {
		PriceInUSD decimal.Decimal `json:"priceInUSD"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("invalid pricing API response: %w", err)
	}

	for _, key := range []string{code + "_USDC", code} {
		if entry, ok := payload[key]; ok {
			if !entry.PriceInUSD.IsPositive() {
				return decimal.Zero, fmt.Errorf("pricing API quoted %s at %s", code, entry.PriceInUSD)
			}
			return entry.PriceInUSD, nil
		}
	}

	return decimal.Zero, fmt.Errorf("pricing API response missing %s", code)
}

// Orderbook-priced assets have no direct USD quote. The mid-price of the
// asset/XLM book gives the rate in XLM, which the XLM USD price turns into
// USD. If the XLM lookup itself errors, its static fallback rate keeps the
// triangulation alive.
func (o *Oracle) fetchFromOrderbook(ctx context.Context, asset token.Asset) (decimal.Decimal, error) {
	xlm, _ := o.registry.Get("XLM")

	params := asset.HorizonParams("selling")
	for k, v := range xlm.HorizonParams("buying") {
		params[k] = v
	}

	book, err := o.stellar.FetchOrderbook(ctx, params)
	if err != nil {
		return decimal.Zero, err
	}

	mid, err := midPrice(book)
	if err != nil {
		return decimal.Zero, fmt.Errorf("orderbook for %s: %w", asset.Code, err)
	}

	xlmUSD, err := o.Price(ctx, "XLM", false)
	if err != nil {
		xlmUSD = xlm.FallbackPrice
		log.Printf("[Pricing] XLM lookup failed, using static rate %s: %v", xlmUSD, err)
	}

	return mid.Mul(xlmUSD), nil
}

func (o *Oracle) fallback(ctx context.Context, code string, fetchErr error) (decimal.Decimal, error) {
	if price, ok, err := o.store.Load(ctx, code); err == nil && ok {
		return price, nil
	} else if err != nil {
		log.Printf("[Pricing] snapshot load failed for %s: %v", code, err)
	}

	if price, ok := o.registry.FallbackPrice(code); ok && price.IsPositive() {
		return price, nil
	}

	return decimal.Zero, fetchErr
}

// midPrice averages the best bid and best ask, or uses whichever side
// exists when the book is one-sided.
func midPrice(book *stellar.Orderbook) (decimal.Decimal, error) {
	var bid, ask decimal.Decimal
	var haveBid, haveAsk bool

	if len(book.Bids) > 0 {
		if d, err := decimal.NewFromString(book.Bids[0].Price); err == nil {
			bid, haveBid = d, true
		}
	}
	if len(book.Asks) > 0 {
		if d, err := decimal.NewFromString(book.Asks[0].Price); err == nil {
			ask, haveAsk = d, true
		}
	}

	switch {
	case haveBid && haveAsk:
		return bid.Add(ask).Div(decimal.NewFromInt(2)), nil
	case haveBid:
		return bid, nil
	case haveAsk:
		return ask, nil
	default:
		return decimal.Zero, errors.New("empty orderbook")
	}
}
