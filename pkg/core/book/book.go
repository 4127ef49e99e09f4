// Package book holds the resting orders of one market, partitioned by
// side and ordered for deterministic matching. Each side is a btree
// keyed by (price, creation time, order id) so the best order is the
// tree minimum and removal by id is O(log n) via the id index.
package book

import (
	"fmt"

	"github.com/google/btree"

	"github.com/solstice-dex/solstice/pkg/core/state"
)

const btreeDegree = 32

// PriceLevel aggregates resting quantity at one price.
type PriceLevel struct {
	Price uint64
	Qty   uint64
}

// bidLess orders bids by price descending, then creation time ascending,
// then id ascending: the tree minimum is the best bid.
func bidLess(a, b *state.Order) bool {
	if a.LimitPrice != b.LimitPrice {
		return a.LimitPrice > b.LimitPrice
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

// askLess orders asks by price ascending, then creation time ascending,
// then id ascending: the tree minimum is the best ask.
func askLess(a, b *state.Order) bool {
	if a.LimitPrice != b.LimitPrice {
		return a.LimitPrice < b.LimitPrice
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

type Book struct {
	bids *btree.BTreeG[*state.Order]
	asks *btree.BTreeG[*state.Order]
	byID map[uint64]*state.Order
}

func New() *Book {
	return &Book{
		bids: btree.NewG(btreeDegree, bidLess),
		asks: btree.NewG(btreeDegree, askLess),
		byID: make(map[uint64]*state.Order),
	}
}

func (b *Book) tree(side state.Side) *btree.BTreeG[*state.Order] {
	if side == state.Buy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order to its side. The order must have positive
// remaining quantity and an id not already present.
func (b *Book) Insert(o *state.Order) error {
	if o.RemainingQty == 0 {
		return fmt.Errorf("order %d has no remaining quantity", o.ID)
	}
	if _, ok := b.byID[o.ID]; ok {
		return fmt.Errorf("order %d already in book", o.ID)
	}
	b.tree(o.Side).ReplaceOrInsert(o)
	b.byID[o.ID] = o
	return nil
}

// Remove takes an order out of the book by id.
func (b *Book) Remove(id uint64) (*state.Order, bool) {
	o, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	b.tree(o.Side).Delete(o)
	delete(b.byID, id)
	return o, true
}

// Get returns the resting order with the given id, if any.
func (b *Book) Get(id uint64) (*state.Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// Best returns the highest-priority resting order on a side: the highest
// bid or the lowest ask, earliest first within a price.
func (b *Book) Best(side state.Side) (*state.Order, bool) {
	return b.tree(side).Min()
}

// Len returns the number of resting orders on a side.
func (b *Book) Len(side state.Side) int { return b.tree(side).Len() }

// Ascend walks a side in matching priority order until fn returns false.
func (b *Book) Ascend(side state.Side, fn func(*state.Order) bool) {
	b.tree(side).Ascend(fn)
}

// Levels aggregates a side into price levels in priority order, up to
// max levels (0 means all).
func (b *Book) Levels(side state.Side, max int) []PriceLevel {
	var levels []PriceLevel
	b.Ascend(side, func(o *state.Order) bool {
		if n := len(levels); n > 0 && levels[n-1].Price == o.LimitPrice {
			levels[n-1].Qty += o.RemainingQty
			return true
		}
		if max > 0 && len(levels) == max {
			return false
		}
		levels = append(levels, PriceLevel{Price: o.LimitPrice, Qty: o.RemainingQty})
		return true
	})
	return levels
}
