package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/solstice-dex/solstice/pkg/core/settle"
	"github.com/solstice-dex/solstice/pkg/core/state"
)

// Settler settles trades against a Ledger as the matching engine emits
// them, accumulating the applied transfer intents for the instruction
// result. It satisfies the engine's Settler interface.
type Settler struct {
	Ledger       *Ledger
	FeeRecipient common.Address
	Transfers    []state.Transfer
}

func (s *Settler) Settle(mkt *state.Market, taker *state.Order, trade *state.Trade) error {
	legs, err := settle.TradeLegs(mkt, taker, trade, s.FeeRecipient)
	if err != nil {
		return err
	}
	if err := s.Ledger.Apply(legs); err != nil {
		return err
	}
	s.Transfers = append(s.Transfers, legs...)
	return nil
}
