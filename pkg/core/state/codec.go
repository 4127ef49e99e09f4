package state

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Fixed-width little-endian record layouts. Serialized records must
// round-trip byte-for-byte: unmarshal(marshal(r)) == r and
// marshal(unmarshal(b)) == b for any valid b.
const (
	addrLen = common.AddressLength // 20

	// initialized u8 | authority | base_mint | quote_mint |
	// min_base_order_size u64 | tick_size u64 | fee_rate_bps u16 |
	// next_order_id u64 | num_bids u64 | num_asks u64
	MarketLen = 1 + 3*addrLen + 8 + 8 + 2 + 8 + 8 + 8 // 103

	// initialized u8 | order_id u64 | owner | market | is_buy u8 |
	// limit_price u64 | original_qty u64 | remaining_qty u64 | created_at u64
	OrderLen = 1 + 8 + 2*addrLen + 1 + 8 + 8 + 8 + 8 // 82

	// maker_order_id u64 | taker_order_id u64 | maker | taker |
	// price u64 | quantity u64 | taker_is_buy u8 | timestamp u64
	TradeLen = 8 + 8 + 2*addrLen + 8 + 8 + 1 + 8 // 81
)

type writer struct{ buf []byte }

func (w *writer) bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}
func (w *writer) u16(v uint16)          { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u64(v uint64)          { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) addr(a common.Address) { w.buf = append(w.buf, a.Bytes()...) }

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("record truncated at offset %d", r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) bool() bool {
	b := r.take(1)
	if r.err != nil {
		return false
	}
	switch b[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		r.err = fmt.Errorf("invalid bool byte 0x%02x at offset %d", b[0], r.off-1)
		return false
	}
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) addr() common.Address {
	b := r.take(addrLen)
	if r.err != nil {
		return common.Address{}
	}
	return common.BytesToAddress(b)
}

func (m *Market) Marshal() []byte {
	w := writer{buf: make([]byte, 0, MarketLen)}
	w.bool(m.Initialized)
	w.addr(m.Authority)
	w.addr(m.BaseMint)
	w.addr(m.QuoteMint)
	w.u64(m.MinBaseOrderSize)
	w.u64(m.TickSize)
	w.u16(m.FeeRateBps)
	w.u64(m.NextOrderID)
	w.u64(m.NumBids)
	w.u64(m.NumAsks)
	return w.buf
}

func UnmarshalMarket(b []byte) (*Market, error) {
	if len(b) != MarketLen {
		return nil, fmt.Errorf("market record: got %d bytes, want %d", len(b), MarketLen)
	}
	r := reader{buf: b}
	m := &Market{
		Initialized:      r.bool(),
		Authority:        r.addr(),
		BaseMint:         r.addr(),
		QuoteMint:        r.addr(),
		MinBaseOrderSize: r.u64(),
		TickSize:         r.u64(),
		FeeRateBps:       r.u16(),
		NextOrderID:      r.u64(),
		NumBids:          r.u64(),
		NumAsks:          r.u64(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("market record: %w", r.err)
	}
	return m, nil
}

func (o *Order) Marshal() []byte {
	w := writer{buf: make([]byte, 0, OrderLen)}
	w.bool(o.Initialized)
	w.u64(o.ID)
	w.addr(o.Owner)
	w.addr(o.Market)
	w.bool(o.Side == Buy)
	w.u64(o.LimitPrice)
	w.u64(o.OriginalQty)
	w.u64(o.RemainingQty)
	w.u64(o.CreatedAt)
	return w.buf
}

func UnmarshalOrder(b []byte) (*Order, error) {
	if len(b) != OrderLen {
		return nil, fmt.Errorf("order record: got %d bytes, want %d", len(b), OrderLen)
	}
	r := reader{buf: b}
	o := &Order{
		Initialized: r.bool(),
		ID:          r.u64(),
		Owner:       r.addr(),
		Market:      r.addr(),
	}
	if r.bool() {
		o.Side = Buy
	} else {
		o.Side = Sell
	}
	o.LimitPrice = r.u64()
	o.OriginalQty = r.u64()
	o.RemainingQty = r.u64()
	o.CreatedAt = r.u64()
	if r.err != nil {
		return nil, fmt.Errorf("order record: %w", r.err)
	}
	return o, nil
}

func (t *Trade) Marshal() []byte {
	w := writer{buf: make([]byte, 0, TradeLen)}
	w.u64(t.MakerOrderID)
	w.u64(t.TakerOrderID)
	w.addr(t.Maker)
	w.addr(t.Taker)
	w.u64(t.Price)
	w.u64(t.Quantity)
	w.bool(t.TakerIsBuy)
	w.u64(t.Timestamp)
	return w.buf
}

func UnmarshalTrade(b []byte) (*Trade, error) {
	if len(b) != TradeLen {
		return nil, fmt.Errorf("trade record: got %d bytes, want %d", len(b), TradeLen)
	}
	r := reader{buf: b}
	t := &Trade{
		MakerOrderID: r.u64(),
		TakerOrderID: r.u64(),
		Maker:        r.addr(),
		Taker:        r.addr(),
		Price:        r.u64(),
		Quantity:     r.u64(),
		TakerIsBuy:   r.bool(),
		Timestamp:    r.u64(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("trade record: %w", r.err)
	}
	return t, nil
}
