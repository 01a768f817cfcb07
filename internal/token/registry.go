package token

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PriceSource says where an asset's USD price comes from.
type PriceSource string

const (
	// PriceSourceAPI assets are quoted by the pricing REST endpoint in one
	// shared response.
	PriceSourceAPI PriceSource = "api"
	// PriceSourceOrderbook assets are priced off the Horizon orderbook
	// against XLM and triangulated to USD.
	PriceSourceOrderbook PriceSource = "orderbook"
)

// Asset describes one accepted Stellar token.
type Asset struct {
	Code          string
	Name          string
	Issuer        string // empty for the native asset
	Decimals      int
	Native        bool
	AssetType     string // native, credit_alphanum4, credit_alphanum12
	PriceSource   PriceSource
	FallbackPrice decimal.Decimal // approximate USD price when all lookups fail
	Icon          string
	Color         string
}

// HorizonParams returns the query parameters identifying this asset on a
// Horizon orderbook endpoint, prefixed with "selling_asset_" or
// "buying_asset_" depending on side.
func (a Asset) HorizonParams(side string) map[string]string {
	prefix := side + "_asset_"
	if a.Native {
		return map[string]string{prefix + "type": "native"}
	}
	return map[string]string{
		prefix + "type":   a.AssetType,
		prefix + "code":   a.Code,
		prefix + "issuer": a.Issuer,
	}
}

// Registry is the static catalog of supported tokens, loaded once and
// read-only afterwards.
type Registry struct {
	assets map[string]Asset
	order  []string
}

// NewRegistry returns the default token catalog.
func NewRegistry() *Registry {
	assets := []Asset{
		{
			Code: "XLM", Name: "Stellar Lumens", Decimals: 7,
			Native: true, AssetType: "native", PriceSource: PriceSourceAPI,
			FallbackPrice: decimal.RequireFromString("0.45"),
			Icon:          "xlm.svg", Color: "#000000",
		},
		{
			Code: "REAL8", Name: "REAL8 Token",
			Issuer:   "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD",
			Decimals: 7, AssetType: "credit_alphanum12", PriceSource: PriceSourceAPI,
			FallbackPrice: decimal.RequireFromString("0.0142"),
			Icon:          "real8.svg", Color: "#0052FF",
		},
		{
			Code: "wREAL8", Name: "Wrapped REAL8",
			Issuer:   "GADYIWMD5P75ZHTVIIF6ADU6GYE5T7WRZIHAU4LPAZ4F5IMPD7NRK7V7",
			Decimals: 7, AssetType: "credit_alphanum12", PriceSource: PriceSourceOrderbook,
			FallbackPrice: decimal.RequireFromString("0.0142"),
			Icon:          "wreal8.svg", Color: "#00C2FF",
		},
		{
			Code: "USDC", Name: "USD Coin",
			Issuer:   "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN",
			Decimals: 7, AssetType: "credit_alphanum4", PriceSource: PriceSourceAPI,
			FallbackPrice: decimal.RequireFromString("1.00"),
			Icon:          "usdc.svg", Color: "#2775CA",
		},
		{
			Code: "EURC", Name: "Euro Coin",
			Issuer:   "GDHU6WRG4IEQXM5NZ4BMPKOXHW76MZM4Y2IEMFDVXBSDP6SJY4ITNPP2",
			Decimals: 7, AssetType: "credit_alphanum4", PriceSource: PriceSourceOrderbook,
			FallbackPrice: decimal.RequireFromString("1.10"),
			Icon:          "eurc.svg", Color: "#003399",
		},
		{
			Code: "SLVR", Name: "Silver Token",
			Issuer:   "GBZVELEQD3WBN3R3VAG64HVBDOZ76ZL6QPLSFGKWPFED33Q3234NSLVR",
			Decimals: 7, AssetType: "credit_alphanum4", PriceSource: PriceSourceOrderbook,
			FallbackPrice: decimal.RequireFromString("31.00"),
			Icon:          "slvr.svg", Color: "#C0C0C0",
		},
		{
			Code: "GOLD", Name: "Gold Token",
			Issuer:   "GBC5ZGK6MQU3XG5Y72SXPA7P5R5NHYT2475SNEJB2U3EQ6J56QLVGOLD",
			Decimals: 7, AssetType: "credit_alphanum4", PriceSource: PriceSourceOrderbook,
			FallbackPrice: decimal.RequireFromString("2700.00"),
			Icon:          "gold.svg", Color: "#FFD700",
		},
	}

	r := &Registry{assets: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		r.assets[strings.ToUpper(a.Code)] = a
		r.order = append(r.order, a.Code)
	}
	return r
}

// Get looks up an asset by code, case-insensitively.
func (r *Registry) Get(code string) (Asset, bool) {
	a, ok := r.assets[strings.ToUpper(code)]
	return a, ok
}

// All returns every supported asset in catalog order.
func (r *Registry) All() []Asset {
	out := make([]Asset, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.assets[strings.ToUpper(code)])
	}
	return out
}

// Codes returns every supported asset code in catalog order.
func (r *Registry) Codes() []string {
	return append([]string(nil), r.order...)
}

// Validate checks that a code/issuer pair names a supported asset: the
// native asset must carry no issuer, issued assets must match exactly.
func (r *Registry) Validate(code, issuer string) bool {
	a, ok := r.Get(code)
	if !ok {
		return false
	}
	if a.Native {
		return issuer == ""
	}
	return a.Issuer == issuer
}

// APIPriced returns the codes quoted by the pricing REST endpoint.
func (r *Registry) APIPriced() []string {
	return r.codesBySource(PriceSourceAPI)
}

// OrderbookPriced returns the codes priced off the Horizon orderbook.
func (r *Registry) OrderbookPriced() []string {
	return r.codesBySource(PriceSourceOrderbook)
}

func (r *Registry) codesBySource(src PriceSource) []string {
	var out []string
	for _, code := range r.order {
		if r.assets[strings.ToUpper(code)].PriceSource == src {
			out = append(out, code)
		}
	}
	return out
}

// FallbackPrice returns the static approximate USD price for an asset. These
// are the prices of last resort when the API and the persisted snapshot are
// both unavailable.
func (r *Registry) FallbackPrice(code string) (decimal.Decimal, bool) {
	a, ok := r.Get(code)
	if !ok {
		return decimal.Zero, false
	}
	return a.FallbackPrice, true
}
