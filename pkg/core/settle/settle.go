// Package settle turns one Trade into the balance-transfer intents that
// move token value between the two parties and route the fee. Amounts
// come from the Trade record only; the legs are applied atomically by
// the ledger (or whatever balance collaborator the host wires in).
package settle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solstice-dex/solstice/pkg/core/numeric"
	"github.com/solstice-dex/solstice/pkg/core/state"
)

// TradeLegs computes the transfers for one trade:
//
//	seller -> buyer          trade quantity        (base mint, from locked)
//	buyer  -> seller         quote amount - fee    (quote mint, from locked)
//	buyer  -> fee recipient  fee                   (quote mint, from locked)
//	buyer  -> buyer          price improvement     (quote mint, unlock)
//
// The last leg only exists when a buy taker executes below its limit: the
// buyer locked quote at the limit price, so the per-trade surplus goes
// back to its free balance. Fees truncate toward zero, never rounding up.
func TradeLegs(mkt *state.Market, taker *state.Order, trade *state.Trade, feeRecipient common.Address) ([]state.Transfer, error) {
	quoteAmount, err := trade.QuoteAmount()
	if err != nil {
		return nil, fmt.Errorf("quote amount for trade %d/%d: %w", trade.MakerOrderID, trade.TakerOrderID, err)
	}
	fee, err := mkt.Fee(quoteAmount)
	if err != nil {
		return nil, fmt.Errorf("fee for trade %d/%d: %w", trade.MakerOrderID, trade.TakerOrderID, err)
	}

	buyer, seller := trade.Buyer(), trade.Seller()

	legs := []state.Transfer{
		{From: seller, To: buyer, Mint: mkt.BaseMint, Amount: trade.Quantity, FromLocked: true},
		{From: buyer, To: seller, Mint: mkt.QuoteMint, Amount: quoteAmount - fee, FromLocked: true},
	}
	if fee > 0 {
		legs = append(legs, state.Transfer{
			From: buyer, To: feeRecipient, Mint: mkt.QuoteMint, Amount: fee, FromLocked: true,
		})
	}

	if trade.TakerIsBuy && taker.LimitPrice > trade.Price {
		improvement, err := numeric.CheckedMul(taker.LimitPrice-trade.Price, trade.Quantity)
		if err != nil {
			return nil, fmt.Errorf("price improvement for trade %d/%d: %w", trade.MakerOrderID, trade.TakerOrderID, err)
		}
		if improvement > 0 {
			legs = append(legs, state.Transfer{
				From: buyer, To: buyer, Mint: mkt.QuoteMint, Amount: improvement, FromLocked: true,
			})
		}
	}

	return legs, nil
}
