package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/solstice-dex/solstice/pkg/core/ledger"
	"github.com/solstice-dex/solstice/pkg/core/numeric"
	"github.com/solstice-dex/solstice/pkg/core/processor"
	"github.com/solstice-dex/solstice/pkg/core/state"
)

// PebbleStore is the durable account store behind the processor. One
// instruction's write set commits as a single synced pebble batch, so a
// partially applied instruction is never observable on disk.
type PebbleStore struct {
	db       *pebble.DB
	tradeSeq uint64
}

func Open(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	s := &PebbleStore{db: db}
	if err := s.loadTradeSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) loadTradeSeq() error {
	val, closer, err := s.db.Get(tradeSeqKey())
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load trade sequence: %w", err)
	}
	defer closer.Close()
	s.tradeSeq = binary.LittleEndian.Uint64(val)
	return nil
}

func (s *PebbleStore) LoadMarket(addr common.Address) (*state.Market, error) {
	val, closer, err := s.db.Get(marketKey(addr))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", addr.Hex(), err)
	}
	defer closer.Close()
	return state.UnmarshalMarket(val)
}

func (s *PebbleStore) LoadOrder(market common.Address, id uint64) (*state.Order, error) {
	val, closer, err := s.db.Get(orderKey(market, id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	defer closer.Close()
	return state.UnmarshalOrder(val)
}

// LoadOpenOrders returns every resting order of a market. Closed orders
// are deleted at commit time, so everything stored is live.
func (s *PebbleStore) LoadOpenOrders(market common.Address) ([]*state.Order, error) {
	prefix := orderPrefix(market)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	defer iter.Close()

	var orders []*state.Order
	for iter.First(); iter.Valid(); iter.Next() {
		o, err := state.UnmarshalOrder(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("order at %q: %w", iter.Key(), err)
		}
		orders = append(orders, o)
	}
	return orders, iter.Error()
}

// LoadLedger reads every persisted balance into a fresh in-memory
// ledger. Each instruction starts from this fresh load; nothing is
// cached across invocations.
func (s *PebbleStore) LoadLedger() (*ledger.Ledger, error) {
	prefix := balancePrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	defer iter.Close()

	led := ledger.New()
	for iter.First(); iter.Valid(); iter.Next() {
		owner, mint, err := balanceKeyAddrs(iter.Key())
		if err != nil {
			return nil, err
		}
		bal, err := decodeBalance(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("balance at %q: %w", iter.Key(), err)
		}
		led.Set(owner, mint, bal)
	}
	return led, iter.Error()
}

// LoadRecentTrades returns up to limit trades for a market, most recent
// first.
func (s *PebbleStore) LoadRecentTrades(market common.Address, limit int) ([]*state.Trade, error) {
	prefix := tradePrefix(market)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	defer iter.Close()

	var trades []*state.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		tr, err := state.UnmarshalTrade(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("trade at %q: %w", iter.Key(), err)
		}
		trades = append(trades, tr)
	}
	return trades, iter.Error()
}

// Markets returns every initialized market keyed by address.
func (s *PebbleStore) Markets() (map[common.Address]*state.Market, error) {
	prefix := marketPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate markets: %w", err)
	}
	defer iter.Close()

	markets := make(map[common.Address]*state.Market)
	for iter.First(); iter.Valid(); iter.Next() {
		addr, err := marketKeyAddr(iter.Key())
		if err != nil {
			return nil, err
		}
		m, err := state.UnmarshalMarket(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("market at %q: %w", iter.Key(), err)
		}
		markets[addr] = m
	}
	return markets, iter.Error()
}

// Commit applies one instruction's write set as a single synced batch.
func (s *PebbleStore) Commit(ws *processor.WriteSet) error {
	b := s.db.NewBatch()
	defer b.Close()

	if ws.Market != nil {
		if err := b.Set(marketKey(ws.MarketAddr), ws.Market.Marshal(), nil); err != nil {
			return fmt.Errorf("batch market: %w", err)
		}
	}
	for _, o := range ws.PutOrders {
		if err := b.Set(orderKey(o.Market, o.ID), o.Marshal(), nil); err != nil {
			return fmt.Errorf("batch order %d: %w", o.ID, err)
		}
	}
	for _, id := range ws.DeleteOrders {
		if err := b.Delete(orderKey(ws.MarketAddr, id), nil); err != nil {
			return fmt.Errorf("batch delete order %d: %w", id, err)
		}
	}

	seq := s.tradeSeq
	for i := range ws.Trades {
		seq++
		tr := &ws.Trades[i]
		if err := b.Set(tradeKey(ws.MarketAddr, tr.Timestamp, seq), tr.Marshal(), nil); err != nil {
			return fmt.Errorf("batch trade %d: %w", seq, err)
		}
	}
	if seq != s.tradeSeq {
		if err := b.Set(tradeSeqKey(), binary.LittleEndian.AppendUint64(nil, seq), nil); err != nil {
			return fmt.Errorf("batch trade sequence: %w", err)
		}
	}

	for _, e := range ws.Balances {
		if err := b.Set(balanceKey(e.Owner, e.Mint), encodeBalance(e.Balance), nil); err != nil {
			return fmt.Errorf("batch balance %s/%s: %w", e.Owner.Hex(), e.Mint.Hex(), err)
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit write set: %w", err)
	}
	s.tradeSeq = seq
	return nil
}

// CreditBalance deposits free funds for an owner, outside the
// instruction path. This stands in for the host's token bridge.
func (s *PebbleStore) CreditBalance(owner, mint common.Address, amount uint64) error {
	key := balanceKey(owner, mint)
	bal := ledger.Balance{}
	val, closer, err := s.db.Get(key)
	if err != nil && err != pebble.ErrNotFound {
		return fmt.Errorf("get balance: %w", err)
	}
	if err == nil {
		bal, err = decodeBalance(val)
		closer.Close()
		if err != nil {
			return err
		}
	}
	bal.Free, err = numeric.CheckedAdd(bal.Free, amount)
	if err != nil {
		return fmt.Errorf("credit %d to %s: %w", amount, owner.Hex(), err)
	}
	if err := s.db.Set(key, encodeBalance(bal), pebble.Sync); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func encodeBalance(b ledger.Balance) []byte {
	buf := make([]byte, 0, 16)
	buf = binary.LittleEndian.AppendUint64(buf, b.Free)
	buf = binary.LittleEndian.AppendUint64(buf, b.Locked)
	return buf
}

func decodeBalance(val []byte) (ledger.Balance, error) {
	if len(val) != 16 {
		return ledger.Balance{}, fmt.Errorf("balance record: got %d bytes, want 16", len(val))
	}
	return ledger.Balance{
		Free:   binary.LittleEndian.Uint64(val[:8]),
		Locked: binary.LittleEndian.Uint64(val[8:]),
	}, nil
}

var _ processor.Store = (*PebbleStore)(nil)
