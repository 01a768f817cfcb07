// Package stellar is a read-only client for the Horizon ledger indexer. It
// never signs or submits anything; it only pages through account history
// looking for payments the gateway expects.
package stellar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/stellarpay/internal/amount"
)

const (
	// DefaultHorizonURL is the public Horizon instance for the Stellar
	// public network.
	DefaultHorizonURL = "https://horizon.stellar.org"

	txPageLimit      = 200
	txMaxPages       = 5
	paymentPageLimit = 100

	addressLen      = 56
	addressAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
)

// HorizonError reports a failed or malformed Horizon call. It is distinct
// from "no matching payment", which is a normal outcome.
type HorizonError struct {
	Status int
	Op     string
	Err    error
}

func (e *HorizonError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("horizon %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("horizon %s: status %d", e.Op, e.Status)
}

func (e *HorizonError) Unwrap() error { return e.Err }

// CheckParams describes the payment the gateway is looking for.
type CheckParams struct {
	MerchantAddress string
	Memo            string
	// MinAmount is the tolerance-adjusted acceptance threshold, already
	// computed by the caller.
	MinAmount   decimal.Decimal
	AssetCode   string
	AssetIssuer string
	Native      bool
}

// PaymentMatch is a qualifying ledger payment.
type PaymentMatch struct {
	TxHash      string
	Amount      decimal.Decimal
	From        string
	LedgerTime  string
	PagingToken string
}

// Client talks to a Horizon instance over HTTP.
type Client struct {
	horizonURL string
	httpClient *http.Client
}

// NewClient returns a client for the given Horizon base URL.
func NewClient(horizonURL string) *Client {
	if horizonURL == "" {
		horizonURL = DefaultHorizonURL
	}
	return &Client{
		horizonURL: strings.TrimRight(horizonURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ValidateAddress checks the Stellar public-key format: 56 base32 characters
// starting with G. No network call.
func ValidateAddress(address string) bool {
	if len(address) != addressLen {
		return false
	}
	if address[0] != 'G' {
		return false
	}
	for i := 0; i < len(address); i++ {
		if !strings.ContainsRune(addressAlphabet, rune(address[i])) {
			return false
		}
	}
	return true
}

// CheckTrustline reports whether the account can receive the given asset.
// The native asset needs no trustline.
func (c *Client) CheckTrustline(ctx context.Context, address, assetCode, assetIssuer string) (bool, error) {
	if assetIssuer == "" {
		return true, nil
	}

	var account Account
	if err := c.getJSON(ctx, "/accounts/"+address, nil, &account); err != nil {
		return false, err
	}

	for _, b := range account.Balances {
		if b.AssetCode == assetCode && b.AssetIssuer == assetIssuer {
			return true, nil
		}
	}
	return false, nil
}

// CheckPayment looks for a successful payment to the merchant carrying the
// given memo. The result is three-way: a match, (nil, nil) when no matching
// payment exists in recent history, or an error when Horizon could not be
// queried conclusively.
//
// The primary strategy walks the account's transaction history newest-first
// and matches on memo before spending a second call on the operation list.
// If that finds nothing, the legacy fallback walks the payments feed and
// fetches each candidate's parent transaction to read the memo. The fallback
// is exhaustive for the asset but costs one extra round-trip per candidate,
// so it only runs after the fast path draws a blank.
func (c *Client) CheckPayment(ctx context.Context, p CheckParams) (*PaymentMatch, error) {
	match, err := c.checkByTransactions(ctx, p)
	if err != nil {
		return nil, err
	}
	if match != nil {
		return match, nil
	}
	return c.checkByPayments(ctx, p)
}

func (c *Client) checkByTransactions(ctx context.Context, p CheckParams) (*PaymentMatch, error) {
	memo := strings.TrimSpace(p.Memo)
	cursor := ""

	for page := 0; page < txMaxPages; page++ {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(txPageLimit))
		q.Set("order", "desc")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var txs transactionsPage
		if err := c.getJSON(ctx, "/accounts/"+p.MerchantAddress+"/transactions", q, &txs); err != nil {
			return nil, err
		}
		if len(txs.Embedded.Records) == 0 {
			return nil, nil
		}

		for _, tx := range txs.Embedded.Records {
			if !tx.Successful || tx.MemoType != "text" {
				continue
			}
			if strings.TrimSpace(tx.Memo) != memo {
				continue
			}

			match, err := c.matchOperation(ctx, tx, p)
			if err != nil {
				return nil, err
			}
			if match != nil {
				return match, nil
			}
		}

		cursor = txs.Embedded.Records[len(txs.Embedded.Records)-1].PagingToken
	}

	return nil, nil
}

func (c *Client) matchOperation(ctx context.Context, tx Transaction, p CheckParams) (*PaymentMatch, error) {
	var ops operationsPage
	if err := c.getJSON(ctx, "/transactions/"+tx.Hash+"/operations", nil, &ops); err != nil {
		return nil, err
	}

	for _, op := range ops.Embedded.Records {
		if !isPaymentType(op.Type) {
			continue
		}
		if op.To != p.MerchantAddress {
			continue
		}
		if !assetMatches(op, p) {
			continue
		}

		received, ok := operationAmount(op)
		if !ok {
			continue
		}
		// One stroop of slack absorbs representation rounding at the edge.
		if received.Add(amount.OneStroop).GreaterThanOrEqual(p.MinAmount) {
			return &PaymentMatch{
				TxHash:      tx.Hash,
				Amount:      received,
				From:        op.From,
				LedgerTime:  op.CreatedAt,
				PagingToken: op.PagingToken,
			}, nil
		}
	}

	return nil, nil
}

func (c *Client) checkByPayments(ctx context.Context, p CheckParams) (*PaymentMatch, error) {
	memo := strings.TrimSpace(p.Memo)

	q := url.Values{}
	q.Set("limit", fmt.Sprint(paymentPageLimit))
	q.Set("order", "desc")

	var ops operationsPage
	if err := c.getJSON(ctx, "/accounts/"+p.MerchantAddress+"/payments", q, &ops); err != nil {
		return nil, err
	}

	for _, op := range ops.Embedded.Records {
		if !isPaymentType(op.Type) || op.To != p.MerchantAddress {
			continue
		}
		if !assetMatches(op, p) {
			continue
		}

		received, ok := operationAmount(op)
		if !ok {
			continue
		}
		if received.Add(amount.OneStroop).LessThan(p.MinAmount) {
			continue
		}

		// The payments feed does not carry the memo; fetch the parent
		// transaction to read it.
		var tx Transaction
		if err := c.getJSON(ctx, "/transactions/"+op.TransactionHash, nil, &tx); err != nil {
			return nil, err
		}
		if !tx.Successful || tx.MemoType != "text" || strings.TrimSpace(tx.Memo) != memo {
			continue
		}

		return &PaymentMatch{
			TxHash:      op.TransactionHash,
			Amount:      received,
			From:        op.From,
			LedgerTime:  op.CreatedAt,
			PagingToken: op.PagingToken,
		}, nil
	}

	return nil, nil
}

// FetchOrderbook returns the current orderbook for selling/buying asset
// pairs, identified by Horizon query parameters.
func (c *Client) FetchOrderbook(ctx context.Context, params map[string]string) (*Orderbook, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}

	var book Orderbook
	if err := c.getJSON(ctx, "/order_book", q, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.horizonURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &HorizonError{Op: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &HorizonError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HorizonError{Op: path, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &HorizonError{Op: path, Err: err}
	}
	return nil
}

func isPaymentType(t string) bool {
	switch t {
	case "payment", "path_payment_strict_send", "path_payment_strict_receive":
		return true
	}
	return false
}

func assetMatches(op Operation, p CheckParams) bool {
	if p.Native {
		return op.AssetType == "native"
	}
	return op.AssetCode == p.AssetCode && op.AssetIssuer == p.AssetIssuer
}

func operationAmount(op Operation) (decimal.Decimal, bool) {
	raw := op.Amount
	if raw == "" {
		raw = op.SourceAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
