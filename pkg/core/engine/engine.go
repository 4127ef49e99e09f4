// Package engine implements price-time priority matching. One call
// consumes an incoming taker order against the opposite side of the
// book, emits trades at the makers' resting prices, settles each trade
// as it happens, and rests the residual on the taker's own side.
//
// The engine holds no state across invocations: the market, book and
// taker are freshly loaded by the caller, and all mutation flows back
// through them.
package engine

import (
	"fmt"

	"github.com/solstice-dex/solstice/pkg/core/book"
	"github.com/solstice-dex/solstice/pkg/core/numeric"
	"github.com/solstice-dex/solstice/pkg/core/state"
)

// Settler applies one trade's balance movements atomically. Any error is
// fatal for the whole instruction, including trades already matched.
type Settler interface {
	Settle(mkt *state.Market, taker *state.Order, trade *state.Trade) error
}

// crosses reports whether the best resting order is marketable against
// the taker's limit.
func crosses(taker, maker *state.Order) bool {
	if taker.Side == state.Buy {
		return maker.LimitPrice <= taker.LimitPrice
	}
	return maker.LimitPrice >= taker.LimitPrice
}

// Match walks the opposite side of the book in priority order until the
// taker is filled, the best opposite price no longer crosses, or the
// side is exhausted. The residual taker quantity, if any, is inserted as
// a resting order and the market's side counters are kept in sync.
func Match(mkt *state.Market, bk *book.Book, taker *state.Order, settler Settler) ([]state.Trade, error) {
	if taker.RemainingQty == 0 {
		return nil, fmt.Errorf("%w: taker order %d has zero quantity", state.ErrInvalidParameter, taker.ID)
	}

	var trades []state.Trade
	for taker.RemainingQty > 0 {
		maker, ok := bk.Best(taker.Side.Opposite())
		if !ok || !crosses(taker, maker) {
			break
		}

		qty := taker.RemainingQty
		if maker.RemainingQty < qty {
			qty = maker.RemainingQty
		}

		trade := state.Trade{
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			Maker:        maker.Owner,
			Taker:        taker.Owner,
			Price:        maker.LimitPrice, // maker sets the price
			Quantity:     qty,
			TakerIsBuy:   taker.Side == state.Buy,
			Timestamp:    taker.CreatedAt,
		}

		// Underflow is unreachable given the min() above; hitting it
		// means book state is corrupt, not a user error.
		remaining, err := numeric.CheckedSub(taker.RemainingQty, qty)
		if err != nil {
			return nil, fmt.Errorf("taker %d remaining quantity underflow: %w", taker.ID, err)
		}
		taker.RemainingQty = remaining

		remaining, err = numeric.CheckedSub(maker.RemainingQty, qty)
		if err != nil {
			return nil, fmt.Errorf("maker %d remaining quantity underflow: %w", maker.ID, err)
		}
		maker.RemainingQty = remaining

		if maker.RemainingQty == 0 {
			bk.Remove(maker.ID)
			if err := decrementSide(mkt, maker.Side); err != nil {
				return nil, err
			}
		}

		if err := settler.Settle(mkt, taker, &trade); err != nil {
			return nil, fmt.Errorf("settle trade %d/%d: %w", trade.MakerOrderID, trade.TakerOrderID, err)
		}
		trades = append(trades, trade)
	}

	if taker.RemainingQty > 0 {
		if err := bk.Insert(taker); err != nil {
			return nil, fmt.Errorf("rest taker %d: %w", taker.ID, err)
		}
		if err := incrementSide(mkt, taker.Side); err != nil {
			return nil, err
		}
	}

	return trades, nil
}

func incrementSide(mkt *state.Market, side state.Side) error {
	var err error
	if side == state.Buy {
		mkt.NumBids, err = numeric.CheckedAdd(mkt.NumBids, 1)
	} else {
		mkt.NumAsks, err = numeric.CheckedAdd(mkt.NumAsks, 1)
	}
	if err != nil {
		return fmt.Errorf("%s resting count overflow: %w", side, err)
	}
	return nil
}

func decrementSide(mkt *state.Market, side state.Side) error {
	var err error
	if side == state.Buy {
		mkt.NumBids, err = numeric.CheckedSub(mkt.NumBids, 1)
	} else {
		mkt.NumAsks, err = numeric.CheckedSub(mkt.NumAsks, 1)
	}
	if err != nil {
		return fmt.Errorf("%s resting count underflow: %w", side, err)
	}
	return nil
}
