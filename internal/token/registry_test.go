package token

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	xlm, ok := r.Get("xlm")
	require.True(t, ok)
	assert.True(t, xlm.Native)
	assert.Empty(t, xlm.Issuer)

	real8, ok := r.Get("REAL8")
	require.True(t, ok)
	assert.Equal(t, "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD", real8.Issuer)
	assert.Equal(t, "credit_alphanum12", real8.AssetType)

	_, ok = r.Get("DOGE")
	assert.False(t, ok)
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Validate("XLM", ""))
	assert.False(t, r.Validate("XLM", "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD"))
	assert.True(t, r.Validate("USDC", "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"))
	assert.False(t, r.Validate("USDC", "GDHU6WRG4IEQXM5NZ4BMPKOXHW76MZM4Y2IEMFDVXBSDP6SJY4ITNPP2"))
	assert.False(t, r.Validate("DOGE", ""))
}

func TestRegistryPriceSources(t *testing.T) {
	r := NewRegistry()

	assert.ElementsMatch(t, []string{"XLM", "REAL8", "USDC"}, r.APIPriced())
	assert.ElementsMatch(t, []string{"wREAL8", "EURC", "SLVR", "GOLD"}, r.OrderbookPriced())

	price, ok := r.FallbackPrice("usdc")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(1)))
}

func TestHorizonParams(t *testing.T) {
	r := NewRegistry()

	xlm, _ := r.Get("XLM")
	assert.Equal(t, map[string]string{"buying_asset_type": "native"}, xlm.HorizonParams("buying"))

	usdc, _ := r.Get("USDC")
	params := usdc.HorizonParams("selling")
	assert.Equal(t, "credit_alphanum4", params["selling_asset_type"])
	assert.Equal(t, "USDC", params["selling_asset_code"])
	assert.Equal(t, usdc.Issuer, params["selling_asset_issuer"])
}
