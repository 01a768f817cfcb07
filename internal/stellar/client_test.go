package stellar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMerchant = "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD"
	testSender   = "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"
)

// horizonStub serves canned Horizon responses keyed by path prefix.
type horizonStub struct {
	transactions []Transaction
	operations   map[string][]Operation // by tx hash
	payments     []Operation
	status       int
}

func (h *horizonStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.status != 0 {
			w.WriteHeader(h.status)
			return
		}

		switch {
		case strings.HasSuffix(r.URL.Path, "/transactions") && strings.HasPrefix(r.URL.Path, "/accounts/"):
			// Paged desc; only the first page carries records, cursors get
			// an empty page so the walk terminates.
			var page transactionsPage
			if r.URL.Query().Get("cursor") == "" {
				page.Embedded.Records = h.transactions
			}
			json.NewEncoder(w).Encode(page)
		case strings.HasSuffix(r.URL.Path, "/payments"):
			var page operationsPage
			page.Embedded.Records = h.payments
			json.NewEncoder(w).Encode(page)
		case strings.HasSuffix(r.URL.Path, "/operations"):
			hash := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/transactions/"), "/operations")
			var page operationsPage
			page.Embedded.Records = h.operations[hash]
			json.NewEncoder(w).Encode(page)
		case strings.HasPrefix(r.URL.Path, "/transactions/"):
			hash := strings.TrimPrefix(r.URL.Path, "/transactions/")
			for _, tx := range h.transactions {
				if tx.Hash == hash {
					json.NewEncoder(w).Encode(tx)
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newStubClient(t *testing.T, stub *horizonStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func checkParams(memo, min string) CheckParams {
	return CheckParams{
		MerchantAddress: testMerchant,
		Memo:            memo,
		MinAmount:       decimal.RequireFromString(min),
		AssetCode:       "REAL8",
		AssetIssuer:     "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD",
	}
}

func TestValidateAddress(t *testing.T) {
	assert.True(t, ValidateAddress(testMerchant))
	assert.False(t, ValidateAddress(""))
	assert.False(t, ValidateAddress(testMerchant[:55]))
	assert.False(t, ValidateAddress("S"+testMerchant[1:]))
	assert.False(t, ValidateAddress(strings.Replace(testMerchant, "B", "b", 1)))
	assert.False(t, ValidateAddress(strings.Replace(testMerchant, "B", "0", 1)))
}

func TestCheckPaymentPrimaryMatch(t *testing.T) {
	stub := &horizonStub{
		transactions: []Transaction{
			{Hash: "aaa", Successful: true, MemoType: "text", Memo: "R8-deadbeef-0c1d2e", PagingToken: "1"},
		},
		operations: map[string][]Operation{
			"aaa": {{
				Type: "payment", To: testMerchant, From: testSender,
				AssetType: "credit_alphanum12", AssetCode: "REAL8",
				AssetIssuer: "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD",
				Amount:      "2551.0204082",
			}},
		},
	}
	client := newStubClient(t, stub)

	match, err := client.CheckPayment(context.Background(), checkParams("R8-deadbeef-0c1d2e", "2500.0000000"))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "aaa", match.TxHash)
	assert.Equal(t, testSender, match.From)
	assert.True(t, match.Amount.Equal(decimal.RequireFromString("2551.0204082")))
}

func TestCheckPaymentUnderpaidNoMatch(t *testing.T) {
	stub := &horizonStub{
		transactions: []Transaction{
			{Hash: "aaa", Successful: true, MemoType: "text", Memo: "R8-deadbeef-0c1d2e", PagingToken: "1"},
		},
		operations: map[string][]Operation{
			"aaa": {{
				Type: "payment", To: testMerchant, From: testSender,
				AssetType: "credit_alphanum12", AssetCode: "REAL8",
				AssetIssuer: "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD",
				Amount:      "2400.0000000",
			}},
		},
	}
	client := newStubClient(t, stub)

	match, err := client.CheckPayment(context.Background(), checkParams("R8-deadbeef-0c1d2e", "2500.0000000"))
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCheckPaymentStroopSlack(t *testing.T) {
	// One stroop under the threshold still matches.
	stub := &horizonStub{
		transactions: []Transaction{
			{Hash: "aaa", Successful: true, MemoType: "text", Memo: "R8-deadbeef-0c1d2e", PagingToken: "1"},
		},
		operations: map[string][]Operation{
			"aaa": {{
				Type: "payment", To: testMerchant, From: testSender,
				AssetType: "credit_alphanum12", AssetCode: "REAL8",
				AssetIssuer: "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD",
				Amount:      "2499.9999999",
			}},
		},
	}
	client := newStubClient(t, stub)

	match, err := client.CheckPayment(context.Background(), checkParams("R8-deadbeef-0c1d2e", "2500.0000000"))
	require.NoError(t, err)
	require.NotNil(t, match)
}

func TestCheckPaymentPathPayment(t *testing.T) {
	stub := &horizonStub{
		transactions: []Transaction{
			{Hash: "bbb", Successful: true, MemoType: "text", Memo: "R8-cafebabe-aabbcc", PagingToken: "1"},
		},
		operations: map[string][]Operation{
			"bbb": {{
				Type: "path_payment_strict_send", To: testMerchant, From: testSender,
				AssetType: "credit_alphanum12", AssetCode: "REAL8",
				AssetIssuer: "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD",
				Amount:      "100.0000000",
			}},
		},
	}
	client := newStubClient(t, stub)

	match, err := client.CheckPayment(context.Background(), checkParams("R8-cafebabe-aabbcc", "99.0000000"))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "bbb", match.TxHash)
}

func TestCheckPaymentSkipsFailedAndWrongMemo(t *testing.T) {
	stub := &horizonStub{
		transactions: []Transaction{
			{Hash: "f1", Successful: false, MemoType: "text", Memo: "R8-deadbeef-0c1d2e", PagingToken: "1"},
			{Hash: "f2", Successful: true, MemoType: "hash", Memo: "R8-deadbeef-0c1d2e", PagingToken: "2"},
			{Hash: "f3", Successful: true, MemoType: "text", Memo: "R8-other-memo", PagingToken: "3"},
		},
	}
	client := newStubClient(t, stub)

	match, err := client.CheckPayment(context.Background(), checkParams("R8-deadbeef-0c1d2e", "1.0000000"))
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCheckPaymentFallbackViaPaymentsFeed(t *testing.T) {
	// Nothing in the transaction history, but the payments feed has a
	// candidate whose parent transaction carries the memo.
	stub := &horizonStub{
		transactions: []Transaction{
			{Hash: "ccc", Successful: true, MemoType: "text", Memo: "R8-12345678-ffeedd", PagingToken: "9"},
		},
		payments: []Operation{{
			Type: "payment", TransactionHash: "ccc", To: testMerchant, From: testSender,
			AssetType: "credit_alphanum12", AssetCode: "REAL8",
			AssetIssuer: "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD",
			Amount:      "55.0000000",
		}},
	}
	// The tx history handler returns the memo-bearing tx, which would match
	// via the primary path; give it no operations so the primary path draws
	// a blank and the fallback has to do the work.
	client := newStubClient(t, stub)

	match, err := client.CheckPayment(context.Background(), checkParams("R8-12345678-ffeedd", "50.0000000"))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "ccc", match.TxHash)
}

func TestCheckPaymentHorizonError(t *testing.T) {
	client := newStubClient(t, &horizonStub{status: http.StatusInternalServerError})

	match, err := client.CheckPayment(context.Background(), checkParams("R8-deadbeef-0c1d2e", "1"))
	assert.Nil(t, match)
	require.Error(t, err)

	var herr *HorizonError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusInternalServerError, herr.Status)
}

func TestCheckTrustline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Account{
			AccountID: testMerchant,
			Balances: []Balance{
				{AssetType: "credit_alphanum12", AssetCode: "REAL8", AssetIssuer: "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD"},
				{AssetType: "native"},
			},
		})
	}))
	defer srv.Close()
	client := NewClient(srv.URL)

	has, err := client.CheckTrustline(context.Background(), testMerchant, "REAL8", "GBVYYQ7XXRZW6ZCNNCL2X2THNPQ6IM4O47HAA25JTAG7Z3CXJCQ3W4CD")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = client.CheckTrustline(context.Background(), testMerchant, "USDC", "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN")
	require.NoError(t, err)
	assert.False(t, has)

	// Native needs no trustline, and no network call.
	has, err = client.CheckTrustline(context.Background(), testMerchant, "XLM", "")
	require.NoError(t, err)
	assert.True(t, has)
}
