// Package sim feeds synthetic order flow through the instruction
// processor, for demos and load testing against a live market.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/solstice-dex/solstice/pkg/core/processor"
	"github.com/solstice-dex/solstice/pkg/core/state"
)

// FeederConfig controls synthetic order generation.
type FeederConfig struct {
	Market      common.Address
	NumTraders  int
	Interval    time.Duration // time between generated instructions
	MidPrice    uint64        // price band center
	PriceBand   uint64        // max distance from mid, rounded to tick
	MaxQty      uint64        // order quantity in [min, min+MaxQty)
	CancelPct   int           // percent of instructions that cancel
	DepositBase uint64        // initial base funding per trader
	DepositQuot uint64        // initial quote funding per trader
	Seed        int64         // 0 means time-seeded
}

func DefaultFeederConfig(market common.Address) FeederConfig {
	return FeederConfig{
		Market:      market,
		NumTraders:  20,
		Interval:    100 * time.Millisecond,
		MidPrice:    50_000,
		PriceBand:   2_500,
		MaxQty:      100,
		CancelPct:   10,
		DepositBase: 1_000_000,
		DepositQuot: 1_000_000_000,
	}
}

// Store is what the feeder needs from persistence: balance funding
// outside the instruction path and owner lookup for cancels. Satisfied
// by the pebble store.
type Store interface {
	CreditBalance(owner, mint common.Address, amount uint64) error
	LoadOrder(market common.Address, id uint64) (*state.Order, error)
}

// Feeder drives random placements and cancels through a processor.
type Feeder struct {
	proc    *processor.Processor
	store   Store
	cfg     FeederConfig
	market  *state.Market
	traders []common.Address
	resting []uint64 // ids of orders this feeder placed that rested
	rng     *rand.Rand
	log     *zap.Logger

	placed    int
	cancelled int
	rejected  int
}

func NewFeeder(proc *processor.Processor, store Store, mkt *state.Market, cfg FeederConfig, log *zap.Logger) *Feeder {
	if log == nil {
		log = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	traders := make([]common.Address, cfg.NumTraders)
	for i := range traders {
		traders[i] = common.BytesToAddress(crypto.Keccak256([]byte(fmt.Sprintf("sim-trader-%d", i)))[12:])
	}

	return &Feeder{
		proc:    proc,
		store:   store,
		cfg:     cfg,
		market:  mkt,
		traders: traders,
		rng:     rand.New(rand.NewSource(seed)),
		log:     log,
	}
}

// Fund deposits starting balances for every simulated trader.
func (f *Feeder) Fund() error {
	for _, trader := range f.traders {
		if err := f.store.CreditBalance(trader, f.market.BaseMint, f.cfg.DepositBase); err != nil {
			return fmt.Errorf("fund trader %s: %w", trader.Hex(), err)
		}
		if err := f.store.CreditBalance(trader, f.market.QuoteMint, f.cfg.DepositQuot); err != nil {
			return fmt.Errorf("fund trader %s: %w", trader.Hex(), err)
		}
	}
	f.log.Info("feeder traders funded",
		zap.Int("traders", len(f.traders)),
		zap.Uint64("base", f.cfg.DepositBase),
		zap.Uint64("quote", f.cfg.DepositQuot))
	return nil
}

// Run generates instructions until the context is cancelled. Instructions
// are applied synchronously; the processor serializes persistence.
func (f *Feeder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	f.log.Info("feeder started",
		zap.String("market", f.cfg.Market.Hex()),
		zap.Duration("interval", f.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(start)
			f.log.Info("feeder stopped",
				zap.Int("placed", f.placed),
				zap.Int("cancelled", f.cancelled),
				zap.Int("rejected", f.rejected),
				zap.Duration("elapsed", elapsed.Round(time.Second)))
			return
		case <-ticker.C:
			f.step()
		}
	}
}

func (f *Feeder) step() {
	if len(f.resting) > 0 && f.rng.Intn(100) < f.cfg.CancelPct {
		f.cancelOne()
		return
	}
	f.placeOne()
}

func (f *Feeder) placeOne() {
	trader := f.traders[f.rng.Intn(len(f.traders))]
	isBuy := f.rng.Intn(2) == 0

	price := f.randomPrice(isBuy)
	qty := f.market.MinBaseOrderSize + uint64(f.rng.Int63n(int64(f.cfg.MaxQty)+1))

	ix := &processor.PlaceLimitOrder{IsBuy: isBuy, LimitPrice: price, Quantity: qty}
	res, err := f.proc.Apply(&processor.Request{Signer: trader, Market: f.cfg.Market, Data: ix.Encode()})
	if err != nil {
		f.rejected++
		f.log.Debug("feeder placement rejected", zap.Error(err))
		return
	}
	f.placed++
	if res.Order != nil && res.Order.RemainingQty > 0 {
		f.resting = append(f.resting, res.Order.ID)
	}
}

func (f *Feeder) cancelOne() {
	i := f.rng.Intn(len(f.resting))
	id := f.resting[i]
	f.resting = append(f.resting[:i], f.resting[i+1:]...)

	// The owner check requires the original signer; resolve it from the
	// stored order rather than tracking it here. Orders filled since
	// placement come back NotFound, which just counts as rejected.
	owner, err := f.restingOwner(id)
	if err != nil {
		f.rejected++
		return
	}

	ix := &processor.CancelOrder{OrderID: id}
	if _, err := f.proc.Apply(&processor.Request{Signer: owner, Market: f.cfg.Market, Data: ix.Encode()}); err != nil {
		f.rejected++
		f.log.Debug("feeder cancel rejected", zap.Uint64("order_id", id), zap.Error(err))
		return
	}
	f.cancelled++
}

func (f *Feeder) restingOwner(id uint64) (common.Address, error) {
	o, err := f.store.LoadOrder(f.cfg.Market, id)
	if err != nil || o == nil {
		return common.Address{}, fmt.Errorf("order %d not resting", id)
	}
	return o.Owner, nil
}

// randomPrice picks a tick-aligned price inside the band, biased so that
// buys sit below mid and sells above, with occasional crossers.
func (f *Feeder) randomPrice(isBuy bool) uint64 {
	tick := f.market.TickSize
	offset := uint64(f.rng.Int63n(int64(f.cfg.PriceBand) + 1))
	offset -= offset % tick

	// a fifth of orders cross the mid to generate fills
	cross := f.rng.Intn(5) == 0

	var price uint64
	if isBuy != cross {
		if offset >= f.cfg.MidPrice {
			offset = f.cfg.MidPrice - tick
		}
		price = f.cfg.MidPrice - offset
	} else {
		price = f.cfg.MidPrice + offset
	}
	price -= price % tick
	if price == 0 {
		price = tick
	}
	return price
}
