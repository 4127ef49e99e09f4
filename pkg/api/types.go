package api

// Response types for REST endpoints and WebSocket messages. All amounts
// are the raw on-ledger integers; clients apply decimals themselves.

type MarketInfo struct {
	Address          string `json:"address"`
	Authority        string `json:"authority"`
	BaseMint         string `json:"baseMint"`
	QuoteMint        string `json:"quoteMint"`
	MinBaseOrderSize uint64 `json:"minBaseOrderSize"`
	TickSize         uint64 `json:"tickSize"`
	FeeRateBps       uint16 `json:"feeRateBps"`
	NumBids          uint64 `json:"numBids"`
	NumAsks          uint64 `json:"numAsks"`
}

// PriceLevel is one aggregated [price, size] tuple.
type PriceLevel struct {
	Price uint64 `json:"price"`
	Size  uint64 `json:"size"`
}

// OrderbookSnapshot is the aggregated book at request time. Bids are
// sorted high to low, asks low to high.
type OrderbookSnapshot struct {
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

type TradeInfo struct {
	Market    string `json:"market"`
	Price     uint64 `json:"price"`
	Size      uint64 `json:"size"`
	Side      string `json:"side"` // taker side
	Timestamp uint64 `json:"timestamp"`
}

type OrderInfo struct {
	ID        uint64 `json:"id"`
	Market    string `json:"market"`
	Owner     string `json:"owner"`
	Side      string `json:"side"`
	Price     uint64 `json:"price"`
	Size      uint64 `json:"size"`
	Filled    uint64 `json:"filled"`
	Remaining uint64 `json:"remaining"`
	CreatedAt uint64 `json:"createdAt"`
}

type BalanceInfo struct {
	Mint   string `json:"mint"`
	Free   uint64 `json:"free"`
	Locked uint64 `json:"locked"`
}

type AccountInfo struct {
	Address  string        `json:"address"`
	Balances []BalanceInfo `json:"balances"`
}

// WSSubscribeRequest is sent by a client to manage channel subscriptions,
// e.g. {"op":"subscribe","channels":["trades:0x...","orderbook:0x..."]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// TradeUpdate is broadcast on the trades channel after each fill.
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Market    string `json:"market"`
	Price     uint64 `json:"price"`
	Size      uint64 `json:"size"`
	Side      string `json:"side"`
	Timestamp uint64 `json:"timestamp"`
}

// OrderbookUpdate is broadcast on the orderbook channel after each
// applied instruction that changed the book.
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
