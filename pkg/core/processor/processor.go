// Package processor validates and applies instructions against persisted
// exchange state. Each instruction is processed to completion,
// atomically: state is freshly loaded, mutated in memory, and committed
// in a single write set. Any error discards everything, including
// trades already matched earlier in the same placement.
package processor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/solstice-dex/solstice/pkg/core/book"
	"github.com/solstice-dex/solstice/pkg/core/engine"
	"github.com/solstice-dex/solstice/pkg/core/ledger"
	"github.com/solstice-dex/solstice/pkg/core/numeric"
	"github.com/solstice-dex/solstice/pkg/core/state"
	"github.com/solstice-dex/solstice/pkg/util"
)

// Store is the account-storage collaborator: it provides durable records
// and commits one instruction's write set atomically. Loads return nil
// (no error) for absent records.
type Store interface {
	LoadMarket(addr common.Address) (*state.Market, error)
	LoadOrder(market common.Address, id uint64) (*state.Order, error)
	LoadOpenOrders(market common.Address) ([]*state.Order, error)
	LoadLedger() (*ledger.Ledger, error)
	Commit(ws *WriteSet) error
}

// Journal is an optional append-only record of applied instructions.
type Journal interface {
	Append(entry string)
}

// WriteSet is one instruction's complete persistence effect.
type WriteSet struct {
	MarketAddr   common.Address
	Market       *state.Market
	PutOrders    []*state.Order
	DeleteOrders []uint64
	Trades       []state.Trade
	Balances     []ledger.Entry
}

// Request is one decoded-enough instruction: the raw data plus the
// account relationships the host transport resolved and verified. The
// signature itself is checked by the host; the processor trusts Signer.
type Request struct {
	Signer    common.Address
	Market    common.Address
	BaseMint  common.Address // InitializeMarket only
	QuoteMint common.Address // InitializeMarket only
	Data      []byte
}

// Result reports what one successful instruction changed.
type Result struct {
	Market    *state.Market
	Order     *state.Order // placed or cancelled order, nil for init
	Trades    []state.Trade
	Transfers []state.Transfer
}

type Processor struct {
	store        Store
	clock        util.Clock
	feeRecipient common.Address
	log          *zap.Logger
	journal      Journal
	onTrade      func(state.Trade)
}

func New(store Store, clock util.Clock, feeRecipient common.Address, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		store:        store,
		clock:        clock,
		feeRecipient: feeRecipient,
		log:          log,
	}
}

// SetJournal attaches an instruction journal; applied instructions are
// appended after their write set commits.
func (p *Processor) SetJournal(j Journal) { p.journal = j }

// SetTradeSink registers a callback invoked once per executed trade,
// after commit. Used by the market-data layer to stream fills.
func (p *Processor) SetTradeSink(fn func(state.Trade)) { p.onTrade = fn }

// Apply decodes and executes one instruction. On error nothing is
// persisted; the caller decides whether to resubmit.
func (p *Processor) Apply(req *Request) (*Result, error) {
	ix, err := DecodeInstruction(req.Data)
	if err != nil {
		return nil, err
	}

	p.log.Info("instruction",
		zap.String("op", ix.Op.String()),
		zap.String("signer", req.Signer.Hex()),
		zap.String("market", req.Market.Hex()))

	var res *Result
	switch ix.Op {
	case OpInitializeMarket:
		res, err = p.applyInitializeMarket(req, ix.Init)
	case OpPlaceLimitOrder:
		res, err = p.applyPlaceLimitOrder(req, ix.Place)
	case OpCancelOrder:
		res, err = p.applyCancelOrder(req, ix.Cancel)
	default:
		return nil, fmt.Errorf("%w: unhandled opcode %s", ErrInvalidInstruction, ix.Op)
	}
	if err != nil {
		p.log.Warn("instruction rejected",
			zap.String("op", ix.Op.String()),
			zap.String("signer", req.Signer.Hex()),
			zap.Error(err))
		return nil, err
	}

	if p.journal != nil {
		p.journal.Append(fmt.Sprintf("%d %s %s %x",
			p.clock.Now().Unix(), req.Signer.Hex(), req.Market.Hex(), req.Data))
	}
	if p.onTrade != nil {
		for _, tr := range res.Trades {
			p.onTrade(tr)
		}
	}
	return res, nil
}

func (p *Processor) applyInitializeMarket(req *Request, ix *InitializeMarket) (*Result, error) {
	existing, err := p.store.LoadMarket(req.Market)
	if err != nil {
		return nil, fmt.Errorf("load market %s: %w", req.Market.Hex(), err)
	}
	if existing != nil && existing.Initialized {
		return nil, fmt.Errorf("%w: market %s", state.ErrAlreadyInitialized, req.Market.Hex())
	}

	mkt := &state.Market{
		Initialized:      true,
		Authority:        req.Signer,
		BaseMint:         req.BaseMint,
		QuoteMint:        req.QuoteMint,
		MinBaseOrderSize: ix.MinBaseOrderSize,
		TickSize:         ix.TickSize,
		FeeRateBps:       ix.FeeRateBps,
		NextOrderID:      1,
	}
	if err := mkt.Validate(); err != nil {
		return nil, err
	}

	if err := p.store.Commit(&WriteSet{MarketAddr: req.Market, Market: mkt}); err != nil {
		return nil, fmt.Errorf("commit market init: %w", err)
	}

	p.log.Info("market initialized",
		zap.String("market", req.Market.Hex()),
		zap.Uint64("tick_size", mkt.TickSize),
		zap.Uint64("min_base_order_size", mkt.MinBaseOrderSize),
		zap.Uint16("fee_rate_bps", mkt.FeeRateBps))

	return &Result{Market: mkt}, nil
}

func (p *Processor) applyPlaceLimitOrder(req *Request, ix *PlaceLimitOrder) (*Result, error) {
	mkt, err := p.loadInitializedMarket(req.Market)
	if err != nil {
		return nil, err
	}
	if err := mkt.ValidateOrder(ix.LimitPrice, ix.Quantity); err != nil {
		return nil, err
	}

	bk, err := p.loadBook(req.Market, mkt)
	if err != nil {
		return nil, err
	}
	led, err := p.store.LoadLedger()
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	side := state.Sell
	if ix.IsBuy {
		side = state.Buy
	}
	order := &state.Order{
		Initialized:  true,
		ID:           mkt.NextOrderID,
		Owner:        req.Signer,
		Market:       req.Market,
		Side:         side,
		LimitPrice:   ix.LimitPrice,
		OriginalQty:  ix.Quantity,
		RemainingQty: ix.Quantity,
		CreatedAt:    uint64(p.clock.Now().Unix()),
	}
	mkt.NextOrderID, err = numeric.CheckedAdd(mkt.NextOrderID, 1)
	if err != nil {
		return nil, fmt.Errorf("order id counter: %w", err)
	}

	// Lock the order's full funds up front; price improvement and
	// cancellation hand the surplus back.
	lockAmount, err := order.LockedAmount()
	if err != nil {
		return nil, err
	}
	if err := led.Lock(order.Owner, order.LockMint(mkt), lockAmount); err != nil {
		return nil, err
	}

	settler := &ledger.Settler{Ledger: led, FeeRecipient: p.feeRecipient}
	trades, err := engine.Match(mkt, bk, order, settler)
	if err != nil {
		return nil, err
	}

	ws := &WriteSet{
		MarketAddr: req.Market,
		Market:     mkt,
		Trades:     trades,
		Balances:   led.DirtyEntries(),
	}
	if order.RemainingQty > 0 {
		ws.PutOrders = append(ws.PutOrders, order)
	}
	seen := make(map[uint64]bool)
	for _, tr := range trades {
		if seen[tr.MakerOrderID] {
			continue
		}
		seen[tr.MakerOrderID] = true
		if maker, ok := bk.Get(tr.MakerOrderID); ok {
			ws.PutOrders = append(ws.PutOrders, maker)
		} else {
			ws.DeleteOrders = append(ws.DeleteOrders, tr.MakerOrderID)
		}
	}

	if err := p.store.Commit(ws); err != nil {
		return nil, fmt.Errorf("commit placement: %w", err)
	}

	p.log.Info("order placed",
		zap.Uint64("order_id", order.ID),
		zap.String("side", order.Side.String()),
		zap.Uint64("price", order.LimitPrice),
		zap.Uint64("qty", order.OriginalQty),
		zap.Uint64("remaining", order.RemainingQty),
		zap.Int("trades", len(trades)))

	return &Result{Market: mkt, Order: order, Trades: trades, Transfers: settler.Transfers}, nil
}

func (p *Processor) applyCancelOrder(req *Request, ix *CancelOrder) (*Result, error) {
	mkt, err := p.loadInitializedMarket(req.Market)
	if err != nil {
		return nil, err
	}

	order, err := p.store.LoadOrder(req.Market, ix.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", ix.OrderID, err)
	}
	if order == nil || !order.Initialized || order.IsClosed() {
		return nil, fmt.Errorf("%w: order %d", state.ErrNotFound, ix.OrderID)
	}
	if order.Owner != req.Signer {
		return nil, fmt.Errorf("%w: signer is not the owner of order %d", state.ErrUnauthorized, ix.OrderID)
	}

	led, err := p.store.LoadLedger()
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	refund, err := order.LockedAmount()
	if err != nil {
		return nil, err
	}
	unlock := state.Transfer{
		From:       order.Owner,
		To:         order.Owner,
		Mint:       order.LockMint(mkt),
		Amount:     refund,
		FromLocked: true,
	}
	if err := led.Apply([]state.Transfer{unlock}); err != nil {
		return nil, fmt.Errorf("release locked funds for order %d: %w", order.ID, err)
	}

	if order.Side == state.Buy {
		mkt.NumBids, err = numeric.CheckedSub(mkt.NumBids, 1)
	} else {
		mkt.NumAsks, err = numeric.CheckedSub(mkt.NumAsks, 1)
	}
	if err != nil {
		return nil, fmt.Errorf("resting count underflow cancelling order %d: %w", order.ID, err)
	}

	cancelled := *order
	cancelled.RemainingQty = 0

	ws := &WriteSet{
		MarketAddr:   req.Market,
		Market:       mkt,
		DeleteOrders: []uint64{order.ID},
		Balances:     led.DirtyEntries(),
	}
	if err := p.store.Commit(ws); err != nil {
		return nil, fmt.Errorf("commit cancellation: %w", err)
	}

	p.log.Info("order cancelled",
		zap.Uint64("order_id", order.ID),
		zap.String("owner", order.Owner.Hex()),
		zap.Uint64("refund", refund))

	return &Result{Market: mkt, Order: &cancelled, Transfers: []state.Transfer{unlock}}, nil
}

func (p *Processor) loadInitializedMarket(addr common.Address) (*state.Market, error) {
	mkt, err := p.store.LoadMarket(addr)
	if err != nil {
		return nil, fmt.Errorf("load market %s: %w", addr.Hex(), err)
	}
	if mkt == nil || !mkt.Initialized {
		return nil, fmt.Errorf("%w: market %s", state.ErrNotInitialized, addr.Hex())
	}
	return mkt, nil
}

// loadBook rebuilds the resting book from storage and re-validates the
// market's side counters against it. Nothing is cached between
// instructions.
func (p *Processor) loadBook(addr common.Address, mkt *state.Market) (*book.Book, error) {
	orders, err := p.store.LoadOpenOrders(addr)
	if err != nil {
		return nil, fmt.Errorf("load open orders: %w", err)
	}
	bk := book.New()
	for _, o := range orders {
		if err := bk.Insert(o); err != nil {
			return nil, fmt.Errorf("rebuild book: %w", err)
		}
	}
	if uint64(bk.Len(state.Buy)) != mkt.NumBids || uint64(bk.Len(state.Sell)) != mkt.NumAsks {
		return nil, fmt.Errorf("book/market mismatch: %d/%d resting vs %d/%d counted",
			bk.Len(state.Buy), bk.Len(state.Sell), mkt.NumBids, mkt.NumAsks)
	}
	return bk, nil
}
