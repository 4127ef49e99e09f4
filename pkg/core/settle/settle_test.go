package settle

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice-dex/solstice/pkg/core/numeric"
	"github.com/solstice-dex/solstice/pkg/core/state"
)

var (
	baseMint     = common.HexToAddress("0x0b00000000000000000000000000000000000001")
	quoteMint    = common.HexToAddress("0x0c00000000000000000000000000000000000002")
	maker        = common.HexToAddress("0xaa00000000000000000000000000000000000001")
	taker        = common.HexToAddress("0xbb00000000000000000000000000000000000002")
	feeRecipient = common.HexToAddress("0xfe00000000000000000000000000000000000003")
)

func market(feeBps uint16) *state.Market {
	return &state.Market{
		Initialized:      true,
		BaseMint:         baseMint,
		QuoteMint:        quoteMint,
		MinBaseOrderSize: 1,
		TickSize:         1,
		FeeRateBps:       feeBps,
	}
}

func TestTradeLegsBuyTaker(t *testing.T) {
	mkt := market(30)
	tk := &state.Order{ID: 2, Owner: taker, Side: state.Buy, LimitPrice: 100, RemainingQty: 0, OriginalQty: 4}
	trade := &state.Trade{
		MakerOrderID: 1, TakerOrderID: 2,
		Maker: maker, Taker: taker,
		Price: 100, Quantity: 4, TakerIsBuy: true,
	}

	legs, err := TradeLegs(mkt, tk, trade, feeRecipient)
	require.NoError(t, err)
	require.Len(t, legs, 3)

	// fee = 400*30/10000 = 1 (truncated from 1.2)
	assert.Equal(t, state.Transfer{From: maker, To: taker, Mint: baseMint, Amount: 4, FromLocked: true}, legs[0])
	assert.Equal(t, state.Transfer{From: taker, To: maker, Mint: quoteMint, Amount: 399, FromLocked: true}, legs[1])
	assert.Equal(t, state.Transfer{From: taker, To: feeRecipient, Mint: quoteMint, Amount: 1, FromLocked: true}, legs[2])
}

func TestTradeLegsConservation(t *testing.T) {
	mkt := market(25)
	tk := &state.Order{ID: 2, Owner: taker, Side: state.Buy, LimitPrice: 101, OriginalQty: 7}
	trade := &state.Trade{
		MakerOrderID: 1, TakerOrderID: 2,
		Maker: maker, Taker: taker,
		Price: 99, Quantity: 7, TakerIsBuy: true,
	}

	legs, err := TradeLegs(mkt, tk, trade, feeRecipient)
	require.NoError(t, err)

	// buyer quote debit (excluding the unlock) equals seller credit plus fee
	var buyerQuoteDebit, sellerQuoteCredit, feeCredit uint64
	for _, leg := range legs {
		if leg.Mint != quoteMint || leg.IsUnlock() {
			continue
		}
		buyerQuoteDebit += leg.Amount
		switch leg.To {
		case maker:
			sellerQuoteCredit += leg.Amount
		case feeRecipient:
			feeCredit += leg.Amount
		}
	}
	quote := trade.Price * trade.Quantity
	assert.Equal(t, quote, buyerQuoteDebit)
	assert.Equal(t, quote, sellerQuoteCredit+feeCredit)

	// base leg moves exactly the trade quantity
	assert.Equal(t, state.Transfer{From: maker, To: taker, Mint: baseMint, Amount: 7, FromLocked: true}, legs[0])
}

func TestTradeLegsPriceImprovementUnlock(t *testing.T) {
	mkt := market(0)
	tk := &state.Order{ID: 2, Owner: taker, Side: state.Buy, LimitPrice: 100, OriginalQty: 10}
	trade := &state.Trade{
		MakerOrderID: 1, TakerOrderID: 2,
		Maker: maker, Taker: taker,
		Price: 99, Quantity: 6, TakerIsBuy: true,
	}

	legs, err := TradeLegs(mkt, tk, trade, feeRecipient)
	require.NoError(t, err)
	require.Len(t, legs, 3) // no fee leg at 0 bps

	unlock := legs[2]
	assert.True(t, unlock.IsUnlock())
	assert.Equal(t, taker, unlock.From)
	assert.Equal(t, quoteMint, unlock.Mint)
	assert.Equal(t, uint64(6), unlock.Amount) // (100-99)*6
}

func TestTradeLegsSellTakerNoUnlock(t *testing.T) {
	mkt := market(0)
	tk := &state.Order{ID: 2, Owner: taker, Side: state.Sell, LimitPrice: 95, OriginalQty: 6}
	trade := &state.Trade{
		MakerOrderID: 1, TakerOrderID: 2,
		Maker: maker, Taker: taker,
		Price: 100, Quantity: 6, TakerIsBuy: false,
	}

	legs, err := TradeLegs(mkt, tk, trade, feeRecipient)
	require.NoError(t, err)
	require.Len(t, legs, 2)

	// sell taker: maker is the buyer, matched at the maker's own price,
	// so no quote surplus exists on either side
	assert.Equal(t, state.Transfer{From: taker, To: maker, Mint: baseMint, Amount: 6, FromLocked: true}, legs[0])
	assert.Equal(t, state.Transfer{From: maker, To: taker, Mint: quoteMint, Amount: 600, FromLocked: true}, legs[1])
}

func TestTradeLegsOverflow(t *testing.T) {
	mkt := market(30)
	tk := &state.Order{ID: 2, Owner: taker, Side: state.Buy, LimitPrice: math.MaxUint64}
	trade := &state.Trade{
		Maker: maker, Taker: taker,
		Price: math.MaxUint64, Quantity: 2, TakerIsBuy: true,
	}

	_, err := TradeLegs(mkt, tk, trade, feeRecipient)
	assert.ErrorIs(t, err, numeric.ErrOverflow)
}
