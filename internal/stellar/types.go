package stellar

// Horizon wire types. Only the fields the gateway reads are declared;
// everything else in the responses is ignored.

// Transaction is a Horizon transaction record.
type Transaction struct {
	Hash        string `json:"hash"`
	Successful  bool   `json:"successful"`
	Ledger      int64  `json:"ledger"`
	CreatedAt   string `json:"created_at"`
	MemoType    string `json:"memo_type"`
	Memo        string `json:"memo"`
	PagingToken string `json:"paging_token"`
}

// Operation is a Horizon operation record. Payment and path-payment
// operations share this shape.
type Operation struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	TransactionHash string `json:"transaction_hash"`
	CreatedAt       string `json:"created_at"`
	PagingToken     string `json:"paging_token"`

	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`

	From         string `json:"from"`
	To           string `json:"to"`
	Amount       string `json:"amount"`
	SourceAmount string `json:"source_amount"`
}

// Balance is one trustline entry on a Horizon account.
type Balance struct {
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`
	Balance     string `json:"balance"`
}

// Account is a Horizon account record.
type Account struct {
	AccountID string    `json:"account_id"`
	Balances  []Balance `json:"balances"`
}

// PriceLevel is one side of an orderbook summary.
type PriceLevel struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// Orderbook is a Horizon orderbook summary.
type Orderbook struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

type transactionsPage struct {
	Embedded struct {
		Records []Transaction `json:"records"`
	} `json:"_embedded"`
}

type operationsPage struct {
	Embedded struct {
		Records []Operation `json:"records"`
	} `json:"_embedded"`
}
