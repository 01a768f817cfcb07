package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/stellarpay/internal/stellar"
	"github.com/example/stellarpay/internal/token"
)

type memoryStore struct {
	prices map[string]decimal.Decimal
}

func newMemoryStore() *memoryStore {
	return &memoryStore{prices: make(map[string]decimal.Decimal)}
}

func (s *memoryStore) Load(_ context.Context, code string) (decimal.Decimal, bool, error) {
	p, ok := s.prices[code]
	return p, ok, nil
}

func (s *memoryStore) Save(_ context.Context, code string, price decimal.Decimal) error {
	s.prices[code] = price
	return nil
}

func staticOptions(ttl time.Duration, buffer string) OptionsFn {
	return func() Options {
		return Options{CacheTTL: ttl, BufferPercent: decimal.RequireFromString(buffer)}
	}
}

func pricingServer(t *testing.T, calls *int64, quotes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}
		payload := make(map[string]map[string]string, len(quotes))
		for key, price := range quotes {
			payload[key] = map[string]string{"priceInUSD": price}
		}
		json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPriceFetchAndCache(t *testing.T) {
	var calls int64
	srv := pricingServer(t, &calls, map[string]string{"REAL8_USDC": "0.02"})

	store := newMemoryStore()
	oracle := NewOracle(token.NewRegistry(), stellar.NewClient("http://127.0.0.1:0"), store, staticOptions(time.Minute, "0"), srv.URL)

	price, err := oracle.Price(context.Background(), "REAL8", false)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.02")))
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))

	// Second lookup inside the TTL is served from cache.
	_, err = oracle.Price(context.Background(), "REAL8", false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))

	// Force bypasses the cache.
	_, err = oracle.Price(context.Background(), "REAL8", true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&calls))

	// A successful fetch persists the snapshot.
	saved, ok, _ := store.Load(context.Background(), "REAL8")
	require.True(t, ok)
	assert.True(t, saved.Equal(decimal.RequireFromString("0.02")))
}

func TestPriceFallbackToSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	store := newMemoryStore()
	store.prices["REAL8"] = decimal.RequireFromString("0.0199")

	oracle := NewOracle(token.NewRegistry(), stellar.NewClient("http://127.0.0.1:0"), store, staticOptions(0, "0"), srv.URL)

	price, err := oracle.Price(context.Background(), "REAL8", false)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.0199")))
}

func TestPriceFallbackToStaticTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	oracle := NewOracle(token.NewRegistry(), stellar.NewClient("http://127.0.0.1:0"), newMemoryStore(), staticOptions(0, "0"), srv.URL)

	price, err := oracle.Price(context.Background(), "USDC", false)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(1)))
}

func TestPriceUnknownAsset(t *testing.T) {
	oracle := NewOracle(token.NewRegistry(), stellar.NewClient("http://127.0.0.1:0"), newMemoryStore(), staticOptions(0, "0"), "http://127.0.0.1:0")

	_, err := oracle.Price(context.Background(), "DOGE", false)
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestTokenAmountWithBuffer(t *testing.T) {
	srv := pricingServer(t, nil, map[string]string{"REAL8_USDC": "0.02"})

	oracle := NewOracle(token.NewRegistry(), stellar.NewClient("http://127.0.0.1:0"), newMemoryStore(), staticOptions(time.Minute, "2"), srv.URL)

	quote, err := oracle.TokenAmount(context.Background(), decimal.RequireFromString("50"), "REAL8", true)
	require.NoError(t, err)

	// 2% buffer: effective price 0.0196, 50 / 0.0196 = 2551.0204082.
	assert.True(t, quote.EffectivePrice.Equal(decimal.RequireFromString("0.0196")), "got %s", quote.EffectivePrice)
	assert.True(t, quote.TokenAmount.Equal(decimal.RequireFromString("2551.0204082")), "got %s", quote.TokenAmount)
	assert.True(t, quote.PriceUSD.Equal(decimal.RequireFromString("0.02")))

	// Without the buffer the literal conversion applies.
	quote, err = oracle.TokenAmount(context.Background(), decimal.RequireFromString("50"), "REAL8", false)
	require.NoError(t, err)
	assert.True(t, quote.TokenAmount.Equal(decimal.RequireFromString("2500.0000000")), "got %s", quote.TokenAmount)
}

func TestOrderbookTriangulation(t *testing.T) {
	pricingSrv := pricingServer(t, nil, map[string]string{"XLM_USDC": "0.45"})

	horizonSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order_book", r.URL.Path)
		json.NewEncoder(w).Encode(stellar.Orderbook{
			Bids: []stellar.PriceLevel{{Price: "0.03"}},
			Asks: []stellar.PriceLevel{{Price: "0.05"}},
		})
	}))
	t.Cleanup(horizonSrv.Close)

	oracle := NewOracle(token.NewRegistry(), stellar.NewClient(horizonSrv.URL), newMemoryStore(), staticOptions(time.Minute, "0"), pricingSrv.URL)

	// Mid 0.04 XLM at 0.45 USD/XLM -> 0.018 USD.
	price, err := oracle.Price(context.Background(), "wREAL8", false)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.018")), "got %s", price)
}
