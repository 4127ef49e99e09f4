// Package state holds the persisted exchange records: Market, Order and
// Trade. Records are value types with fixed-width little-endian layouts
// (see codec.go) and carry no behavior beyond validation and derived
// amounts; all mutation happens in the instruction processor.
package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solstice-dex/solstice/pkg/core/numeric"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side { return -s }

// Market is the per-trading-pair root record. One Market exists per pair;
// every Order references it and every instruction re-loads it fresh.
type Market struct {
	Initialized bool
	Authority   common.Address
	BaseMint    common.Address
	QuoteMint   common.Address

	MinBaseOrderSize uint64 // base units
	TickSize         uint64 // quote units, minimum price increment
	FeeRateBps       uint16 // 0..10000

	NextOrderID uint64 // strictly increasing, never reused
	NumBids     uint64 // live resting buy orders
	NumAsks     uint64 // live resting sell orders
}

// Validate checks market parameter invariants.
func (m *Market) Validate() error {
	if m.TickSize == 0 {
		return fmt.Errorf("%w: tick size must be positive", ErrInvalidParameter)
	}
	if m.MinBaseOrderSize == 0 {
		return fmt.Errorf("%w: min base order size must be positive", ErrInvalidParameter)
	}
	if m.FeeRateBps > numeric.BpsDenominator {
		return fmt.Errorf("%w: fee rate %d exceeds %d bps", ErrInvalidParameter, m.FeeRateBps, numeric.BpsDenominator)
	}
	return nil
}

// ValidateOrder checks an incoming limit order against market parameters.
func (m *Market) ValidateOrder(price, qty uint64) error {
	if qty == 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidParameter)
	}
	if qty < m.MinBaseOrderSize {
		return fmt.Errorf("%w: quantity %d below minimum %d", ErrInvalidParameter, qty, m.MinBaseOrderSize)
	}
	if price == 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidParameter)
	}
	if price%m.TickSize != 0 {
		return fmt.Errorf("%w: price %d not a multiple of tick size %d", ErrInvalidParameter, price, m.TickSize)
	}
	return nil
}

// Fee computes the fee charged on a trade's quote value.
func (m *Market) Fee(quoteAmount uint64) (uint64, error) {
	return numeric.FeeBps(quoteAmount, m.FeeRateBps)
}

// Order is one live or historical limit order. Resting orders are exactly
// the orders with RemainingQty > 0 held in the book for their side.
type Order struct {
	Initialized  bool
	ID           uint64
	Owner        common.Address
	Market       common.Address
	Side         Side
	LimitPrice   uint64 // quote units per base unit
	OriginalQty  uint64 // base units
	RemainingQty uint64 // base units, <= OriginalQty
	CreatedAt    uint64 // unix seconds, price-time priority tie-break
}

// Filled returns the cumulative executed quantity.
func (o *Order) Filled() uint64 { return o.OriginalQty - o.RemainingQty }

// IsClosed reports whether the order has left the book.
func (o *Order) IsClosed() bool { return o.RemainingQty == 0 }

// LockedAmount returns the funds still locked for the order: remaining
// base for a sell, remaining quantity at the limit price for a buy.
func (o *Order) LockedAmount() (uint64, error) {
	if o.Side == Sell {
		return o.RemainingQty, nil
	}
	return numeric.CheckedMul(o.RemainingQty, o.LimitPrice)
}

// LockMint returns the mint the order's locked funds are denominated in.
func (o *Order) LockMint(m *Market) common.Address {
	if o.Side == Sell {
		return m.BaseMint
	}
	return m.QuoteMint
}

// Trade records one matched pair of orders. Trades are immutable once
// created and are the source of truth for settlement amounts.
type Trade struct {
	MakerOrderID uint64
	TakerOrderID uint64
	Maker        common.Address
	Taker        common.Address
	Price        uint64 // always the maker's resting price
	Quantity     uint64 // base units
	TakerIsBuy   bool
	Timestamp    uint64
}

// QuoteAmount returns price*quantity with checked multiplication.
func (t *Trade) QuoteAmount() (uint64, error) {
	return numeric.CheckedMul(t.Price, t.Quantity)
}

// Buyer returns the party receiving base and paying quote.
func (t *Trade) Buyer() common.Address {
	if t.TakerIsBuy {
		return t.Taker
	}
	return t.Maker
}

// Seller returns the party paying base and receiving quote.
func (t *Trade) Seller() common.Address {
	if t.TakerIsBuy {
		return t.Maker
	}
	return t.Taker
}

// Transfer is one balance-movement intent produced by settlement or
// cancellation. From == To with FromLocked set expresses an unlock: funds
// move from the owner's locked balance back to their free balance.
type Transfer struct {
	From       common.Address
	To         common.Address
	Mint       common.Address
	Amount     uint64
	FromLocked bool // debit the payer's locked balance instead of free
}

// IsUnlock reports whether the transfer releases locked funds in place.
func (tr *Transfer) IsUnlock() bool { return tr.From == tr.To && tr.FromLocked }
