// Package ledger tracks token balances per (owner, mint) pair, split into
// free and locked funds. Placing an order locks funds, cancellation and
// price improvement unlock them, and settlement moves locked funds
// between parties. Apply is all-or-nothing: either every leg of a batch
// lands or the ledger is untouched.
package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solstice-dex/solstice/pkg/core/numeric"
	"github.com/solstice-dex/solstice/pkg/core/state"
)

type Key struct {
	Owner common.Address
	Mint  common.Address
}

type Balance struct {
	Free   uint64
	Locked uint64
}

type Entry struct {
	Key
	Balance
}

type Ledger struct {
	balances map[Key]Balance
	dirty    map[Key]struct{}
}

func New() *Ledger {
	return &Ledger{
		balances: make(map[Key]Balance),
		dirty:    make(map[Key]struct{}),
	}
}

// Set installs a balance without marking it dirty. Used when loading
// persisted state; instruction-path mutation goes through the methods
// below.
func (l *Ledger) Set(owner, mint common.Address, b Balance) {
	l.balances[Key{Owner: owner, Mint: mint}] = b
}

func (l *Ledger) Balance(owner, mint common.Address) Balance {
	return l.balances[Key{Owner: owner, Mint: mint}]
}

func (l *Ledger) touch(k Key, b Balance) {
	l.balances[k] = b
	l.dirty[k] = struct{}{}
}

// Deposit credits free balance. This is the bridge-facing entry point;
// no instruction mints funds.
func (l *Ledger) Deposit(owner, mint common.Address, amount uint64) error {
	k := Key{Owner: owner, Mint: mint}
	b := l.balances[k]
	free, err := numeric.CheckedAdd(b.Free, amount)
	if err != nil {
		return fmt.Errorf("deposit %d to %s: %w", amount, owner.Hex(), err)
	}
	b.Free = free
	l.touch(k, b)
	return nil
}

// Lock moves funds from free to locked, failing with ErrInsufficientFunds
// if the free balance cannot cover the amount.
func (l *Ledger) Lock(owner, mint common.Address, amount uint64) error {
	k := Key{Owner: owner, Mint: mint}
	b := l.balances[k]
	if b.Free < amount {
		return fmt.Errorf("%w: need %d, free %d", state.ErrInsufficientFunds, amount, b.Free)
	}
	locked, err := numeric.CheckedAdd(b.Locked, amount)
	if err != nil {
		return fmt.Errorf("lock %d for %s: %w", amount, owner.Hex(), err)
	}
	b.Free -= amount
	b.Locked = locked
	l.touch(k, b)
	return nil
}

// Apply executes a batch of transfer legs atomically. Debits come from
// the payer's locked or free balance per leg; credits always land in the
// receiver's free balance. On any leg's failure the ledger is unchanged.
func (l *Ledger) Apply(legs []state.Transfer) error {
	staged := make(map[Key]Balance, 2*len(legs))
	load := func(k Key) Balance {
		if b, ok := staged[k]; ok {
			return b
		}
		return l.balances[k]
	}

	for i, leg := range legs {
		from := Key{Owner: leg.From, Mint: leg.Mint}
		b := load(from)
		if leg.FromLocked {
			if b.Locked < leg.Amount {
				return fmt.Errorf("leg %d: locked balance of %s short by %d", i, leg.From.Hex(), leg.Amount-b.Locked)
			}
			b.Locked -= leg.Amount
		} else {
			if b.Free < leg.Amount {
				return fmt.Errorf("%w: leg %d needs %d, free %d", state.ErrInsufficientFunds, i, leg.Amount, b.Free)
			}
			b.Free -= leg.Amount
		}
		staged[from] = b

		to := Key{Owner: leg.To, Mint: leg.Mint}
		b = load(to)
		free, err := numeric.CheckedAdd(b.Free, leg.Amount)
		if err != nil {
			return fmt.Errorf("leg %d: credit %s: %w", i, leg.To.Hex(), err)
		}
		b.Free = free
		staged[to] = b
	}

	for k, b := range staged {
		l.touch(k, b)
	}
	return nil
}

// OwnerEntries returns every balance held by an owner, sorted by mint
// for stable output.
func (l *Ledger) OwnerEntries(owner common.Address) []Entry {
	var entries []Entry
	for k, b := range l.balances {
		if k.Owner == owner {
			entries = append(entries, Entry{Key: k, Balance: b})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Mint[:], entries[j].Mint[:]) < 0
	})
	return entries
}

// Clone returns an independent copy. The processor stages one
// instruction's balance mutations on a clone and discards it on failure.
func (l *Ledger) Clone() *Ledger {
	c := New()
	for k, b := range l.balances {
		c.balances[k] = b
	}
	for k := range l.dirty {
		c.dirty[k] = struct{}{}
	}
	return c
}

// DirtyEntries returns every balance mutated since loading, for
// persistence in the instruction's atomic write set.
func (l *Ledger) DirtyEntries() []Entry {
	entries := make([]Entry, 0, len(l.dirty))
	for k := range l.dirty {
		entries = append(entries, Entry{Key: k, Balance: l.balances[k]})
	}
	return entries
}
