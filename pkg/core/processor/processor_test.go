package processor_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice-dex/solstice/pkg/core/ledger"
	"github.com/solstice-dex/solstice/pkg/core/processor"
	"github.com/solstice-dex/solstice/pkg/core/state"
	"github.com/solstice-dex/solstice/pkg/storage"
	"github.com/solstice-dex/solstice/pkg/util"
)

var (
	authority    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	alice        = common.HexToAddress("0xa000000000000000000000000000000000000001")
	bob          = common.HexToAddress("0xb000000000000000000000000000000000000002")
	marketAddr   = common.HexToAddress("0x9000000000000000000000000000000000000009")
	baseMint     = common.HexToAddress("0x0b00000000000000000000000000000000000001")
	quoteMint    = common.HexToAddress("0x0c00000000000000000000000000000000000002")
	feeRecipient = common.HexToAddress("0xfe00000000000000000000000000000000000003")
)

type fixture struct {
	store *storage.PebbleStore
	proc  *processor.Processor
	clock *util.ManualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := util.NewManualClock(time.Unix(1700000000, 0))
	return &fixture{
		store: store,
		proc:  processor.New(store, clock, feeRecipient, nil),
		clock: clock,
	}
}

func (f *fixture) initMarket(t *testing.T, tick, minSize uint64, feeBps uint16) {
	t.Helper()
	ix := &processor.InitializeMarket{MinBaseOrderSize: minSize, TickSize: tick, FeeRateBps: feeBps}
	_, err := f.proc.Apply(&processor.Request{
		Signer:    authority,
		Market:    marketAddr,
		BaseMint:  baseMint,
		QuoteMint: quoteMint,
		Data:      ix.Encode(),
	})
	require.NoError(t, err)
}

func (f *fixture) fund(t *testing.T, owner common.Address, base, quote uint64) {
	t.Helper()
	if base > 0 {
		require.NoError(t, f.store.CreditBalance(owner, baseMint, base))
	}
	if quote > 0 {
		require.NoError(t, f.store.CreditBalance(owner, quoteMint, quote))
	}
}

func (f *fixture) place(t *testing.T, owner common.Address, isBuy bool, price, qty uint64) *processor.Result {
	t.Helper()
	f.clock.Advance(time.Second)
	ix := &processor.PlaceLimitOrder{IsBuy: isBuy, LimitPrice: price, Quantity: qty}
	res, err := f.proc.Apply(&processor.Request{Signer: owner, Market: marketAddr, Data: ix.Encode()})
	require.NoError(t, err)
	return res
}

func (f *fixture) balance(t *testing.T, owner, mint common.Address) ledger.Balance {
	t.Helper()
	led, err := f.store.LoadLedger()
	require.NoError(t, err)
	return led.Balance(owner, mint)
}

func TestInitializeMarket(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 30)

	mkt, err := f.store.LoadMarket(marketAddr)
	require.NoError(t, err)
	require.NotNil(t, mkt)
	assert.True(t, mkt.Initialized)
	assert.Equal(t, authority, mkt.Authority)
	assert.Equal(t, baseMint, mkt.BaseMint)
	assert.Equal(t, quoteMint, mkt.QuoteMint)
	assert.Equal(t, uint64(1), mkt.NextOrderID)
	assert.Equal(t, uint64(0), mkt.NumBids)
	assert.Equal(t, uint64(0), mkt.NumAsks)
}

func TestInitializeMarketTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 30)

	ix := &processor.InitializeMarket{MinBaseOrderSize: 1, TickSize: 1, FeeRateBps: 30}
	_, err := f.proc.Apply(&processor.Request{
		Signer: authority, Market: marketAddr,
		BaseMint: baseMint, QuoteMint: quoteMint,
		Data: ix.Encode(),
	})
	assert.ErrorIs(t, err, state.ErrAlreadyInitialized)
}

func TestInitializeMarketRejectsBadParams(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		ix   processor.InitializeMarket
	}{
		{name: "zero tick", ix: processor.InitializeMarket{MinBaseOrderSize: 1, TickSize: 0, FeeRateBps: 30}},
		{name: "zero min size", ix: processor.InitializeMarket{MinBaseOrderSize: 0, TickSize: 1, FeeRateBps: 30}},
		{name: "fee above 10000", ix: processor.InitializeMarket{MinBaseOrderSize: 1, TickSize: 1, FeeRateBps: 10001}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.proc.Apply(&processor.Request{
				Signer: authority, Market: marketAddr,
				BaseMint: baseMint, QuoteMint: quoteMint,
				Data: tt.ix.Encode(),
			})
			assert.ErrorIs(t, err, state.ErrInvalidParameter)
		})
	}
}

func TestPlaceOnUninitializedMarketFails(t *testing.T) {
	f := newFixture(t)
	ix := &processor.PlaceLimitOrder{IsBuy: true, LimitPrice: 100, Quantity: 1}
	_, err := f.proc.Apply(&processor.Request{Signer: alice, Market: marketAddr, Data: ix.Encode()})
	assert.ErrorIs(t, err, state.ErrNotInitialized)
}

func TestPlaceRejectsInvalidOrders(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 5, 10, 30)
	f.fund(t, alice, 0, 1_000_000)

	tests := []struct {
		name  string
		price uint64
		qty   uint64
	}{
		{name: "zero quantity", price: 100, qty: 0},
		{name: "below minimum", price: 100, qty: 9},
		{name: "off-tick price", price: 101, qty: 10},
		{name: "zero price", price: 0, qty: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := &processor.PlaceLimitOrder{IsBuy: true, LimitPrice: tt.price, Quantity: tt.qty}
			_, err := f.proc.Apply(&processor.Request{Signer: alice, Market: marketAddr, Data: ix.Encode()})
			assert.ErrorIs(t, err, state.ErrInvalidParameter)
		})
	}
}

func TestPlaceWithoutFundsFails(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 30)

	ix := &processor.PlaceLimitOrder{IsBuy: true, LimitPrice: 100, Quantity: 10}
	_, err := f.proc.Apply(&processor.Request{Signer: alice, Market: marketAddr, Data: ix.Encode()})
	assert.ErrorIs(t, err, state.ErrInsufficientFunds)

	// nothing persisted
	mkt, err := f.store.LoadMarket(marketAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), mkt.NextOrderID)
	assert.Equal(t, uint64(0), mkt.NumBids)
}

// Scenario: resting buy partially filled by a smaller sell, fee truncated.
func TestPartialFillWithFee(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 30)
	f.fund(t, alice, 0, 1000) // buyer quote
	f.fund(t, bob, 4, 0)      // seller base

	res := f.place(t, alice, true, 100, 10)
	assert.Empty(t, res.Trades, "empty book, buy rests")
	assert.Equal(t, ledger.Balance{Free: 0, Locked: 1000}, f.balance(t, alice, quoteMint))

	res = f.place(t, bob, false, 100, 4)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, uint64(100), tr.Price)
	assert.Equal(t, uint64(4), tr.Quantity)
	assert.Equal(t, uint64(1), tr.MakerOrderID)
	assert.Equal(t, uint64(2), tr.TakerOrderID)
	assert.False(t, tr.TakerIsBuy)

	// fee = 400*30/10000 = 1; seller receives 399, buyer receives 4 base
	assert.Equal(t, ledger.Balance{Free: 399}, f.balance(t, bob, quoteMint))
	assert.Equal(t, ledger.Balance{Free: 4}, f.balance(t, alice, baseMint))
	assert.Equal(t, ledger.Balance{Free: 1}, f.balance(t, feeRecipient, quoteMint))
	assert.Equal(t, ledger.Balance{Free: 0, Locked: 600}, f.balance(t, alice, quoteMint), "residual lock for 6 remaining")

	// buy order rests with remaining 6; sell never rested
	o, err := f.store.LoadOrder(marketAddr, 1)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, uint64(6), o.RemainingQty)

	o, err = f.store.LoadOrder(marketAddr, 2)
	require.NoError(t, err)
	assert.Nil(t, o)

	mkt, err := f.store.LoadMarket(marketAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), mkt.NumBids)
	assert.Equal(t, uint64(0), mkt.NumAsks)
	assert.Equal(t, uint64(3), mkt.NextOrderID)
}

// Scenario: sell priced above the best bid does not trade; both rest.
func TestNoCrossBothRest(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 30)
	f.fund(t, alice, 0, 500)
	f.fund(t, bob, 5, 0)

	res := f.place(t, alice, true, 100, 5)
	assert.Empty(t, res.Trades)
	res = f.place(t, bob, false, 101, 5)
	assert.Empty(t, res.Trades)

	mkt, err := f.store.LoadMarket(marketAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), mkt.NumBids)
	assert.Equal(t, uint64(1), mkt.NumAsks)
}

// Scenario: cancel releases the lock, decrements the counter, and a
// second cancel of the same id fails NotFound.
func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 30)
	f.fund(t, alice, 3, 0)

	res := f.place(t, alice, false, 50, 3)
	orderID := res.Order.ID
	assert.Equal(t, ledger.Balance{Free: 0, Locked: 3}, f.balance(t, alice, baseMint))

	cancel := &processor.CancelOrder{OrderID: orderID}
	cres, err := f.proc.Apply(&processor.Request{Signer: alice, Market: marketAddr, Data: cancel.Encode()})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cres.Order.RemainingQty)
	require.Len(t, cres.Transfers, 1)
	assert.True(t, cres.Transfers[0].IsUnlock())
	assert.Equal(t, uint64(3), cres.Transfers[0].Amount)

	assert.Equal(t, ledger.Balance{Free: 3}, f.balance(t, alice, baseMint))
	mkt, err := f.store.LoadMarket(marketAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), mkt.NumAsks)

	_, err = f.proc.Apply(&processor.Request{Signer: alice, Market: marketAddr, Data: cancel.Encode()})
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestCancelByNonOwnerFails(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 30)
	f.fund(t, alice, 3, 0)

	res := f.place(t, alice, false, 50, 3)

	cancel := &processor.CancelOrder{OrderID: res.Order.ID}
	_, err := f.proc.Apply(&processor.Request{Signer: bob, Market: marketAddr, Data: cancel.Encode()})
	assert.ErrorIs(t, err, state.ErrUnauthorized)

	// order still resting
	o, err := f.store.LoadOrder(marketAddr, res.Order.ID)
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestCancelBuyRefundsQuote(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 30)
	f.fund(t, alice, 0, 1000)

	res := f.place(t, alice, true, 100, 10)
	cancel := &processor.CancelOrder{OrderID: res.Order.ID}
	_, err := f.proc.Apply(&processor.Request{Signer: alice, Market: marketAddr, Data: cancel.Encode()})
	require.NoError(t, err)

	assert.Equal(t, ledger.Balance{Free: 1000}, f.balance(t, alice, quoteMint))
}

// Scenario: buy sweeps two ask levels, best price first.
func TestSweepTwoLevels(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 0)
	f.fund(t, alice, 12, 0)
	f.fund(t, bob, 0, 1000) // full lock at the limit price, 10*100

	f.place(t, alice, false, 99, 6)
	f.place(t, alice, false, 100, 6)

	res := f.place(t, bob, true, 100, 10)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, uint64(99), res.Trades[0].Price)
	assert.Equal(t, uint64(6), res.Trades[0].Quantity)
	assert.Equal(t, uint64(100), res.Trades[1].Price)
	assert.Equal(t, uint64(4), res.Trades[1].Quantity)

	// bob locked 10*100 up front; 6*99+4*100 spent, the (100-99)*6
	// improvement surplus returned to free
	assert.Equal(t, ledger.Balance{Free: 6, Locked: 0}, f.balance(t, bob, quoteMint))
	assert.Equal(t, ledger.Balance{Free: 10}, f.balance(t, bob, baseMint))
	assert.Equal(t, ledger.Balance{Free: uint64(6*99 + 4*100)}, f.balance(t, alice, quoteMint))
	assert.Equal(t, ledger.Balance{Free: 0, Locked: 2}, f.balance(t, alice, baseMint))

	mkt, err := f.store.LoadMarket(marketAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), mkt.NumBids)
	assert.Equal(t, uint64(1), mkt.NumAsks)
}

func TestMakerShortSettlementAbortsWholePlacement(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 0)
	f.fund(t, alice, 6, 0)
	f.fund(t, bob, 0, 600)

	f.place(t, alice, false, 100, 6)

	// Corrupt the maker's locked base out from under the book to force a
	// settlement leg failure mid-instruction.
	led, err := f.store.LoadLedger()
	require.NoError(t, err)
	require.NoError(t, led.Apply([]state.Transfer{
		{From: alice, To: alice, Mint: baseMint, Amount: 6, FromLocked: true},
	}))
	require.NoError(t, f.store.Commit(&processor.WriteSet{MarketAddr: marketAddr, Balances: led.DirtyEntries()}))

	ix := &processor.PlaceLimitOrder{IsBuy: true, LimitPrice: 100, Quantity: 6}
	_, err = f.proc.Apply(&processor.Request{Signer: bob, Market: marketAddr, Data: ix.Encode()})
	require.Error(t, err)

	// the whole placement rolled back: no trade, no taker order, no
	// balance movement for bob
	assert.Equal(t, ledger.Balance{Free: 600}, f.balance(t, bob, quoteMint))
	trades, err := f.store.LoadRecentTrades(marketAddr, 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
	mkt, err := f.store.LoadMarket(marketAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), mkt.NextOrderID, "rejected placement consumes no order id")
}

func TestOrderIDsStrictlyIncrease(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 0)
	f.fund(t, alice, 100, 10000)

	first := f.place(t, alice, true, 10, 1)
	second := f.place(t, alice, false, 1000, 1)
	third := f.place(t, alice, true, 11, 1)

	assert.Equal(t, uint64(1), first.Order.ID)
	assert.Equal(t, uint64(2), second.Order.ID)
	assert.Equal(t, uint64(3), third.Order.ID)
}

func TestUnknownInstructionRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.Apply(&processor.Request{Signer: alice, Market: marketAddr, Data: []byte{0x09, 0x01}})
	assert.ErrorIs(t, err, processor.ErrInvalidInstruction)
}

func TestTradeSinkObservesFills(t *testing.T) {
	f := newFixture(t)
	f.initMarket(t, 1, 1, 0)
	f.fund(t, alice, 5, 0)
	f.fund(t, bob, 0, 500)

	var seen []state.Trade
	f.proc.SetTradeSink(func(tr state.Trade) { seen = append(seen, tr) })

	f.place(t, alice, false, 100, 5)
	res := f.place(t, bob, true, 100, 5)

	require.Len(t, seen, 1)
	assert.Equal(t, res.Trades[0], seen[0])
}
