package storage

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefixes keep record kinds in disjoint ranges and
// make per-market scans a single bounded iteration:
//
//	mkt:<market>                     → Market record
//	ord:<market>:<order id>          → open Order record
//	trade:<market>:<timestamp>:<seq> → Trade record
//	bal:<owner>:<mint>               → free|locked balance
//	tseq                             → global trade sequence counter
//
// Numeric key segments are zero-padded for lexicographic ordering.
const (
	prefixMarket  = "mkt:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
	prefixBalance = "bal:"
)

func marketKey(addr common.Address) []byte {
	return []byte(prefixMarket + addr.Hex())
}

func orderKey(market common.Address, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOrder, market.Hex(), id))
}

func orderPrefix(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, market.Hex()))
}

func tradeKey(market common.Address, timestamp, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%012d", prefixTrade, market.Hex(), timestamp, seq))
}

func tradePrefix(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, market.Hex()))
}

func balanceKey(owner, mint common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, owner.Hex(), mint.Hex()))
}

func balancePrefix() []byte { return []byte(prefixBalance) }

func marketPrefix() []byte { return []byte(prefixMarket) }

func tradeSeqKey() []byte { return []byte("tseq") }

// balanceKeyAddrs parses owner and mint back out of a balance key.
func balanceKeyAddrs(key []byte) (owner, mint common.Address, err error) {
	rest := strings.TrimPrefix(string(key), prefixBalance)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
		return common.Address{}, common.Address{}, fmt.Errorf("malformed balance key %q", key)
	}
	return common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), nil
}

// marketKeyAddr parses the market address out of a market key.
func marketKeyAddr(key []byte) (common.Address, error) {
	rest := strings.TrimPrefix(string(key), prefixMarket)
	if !common.IsHexAddress(rest) {
		return common.Address{}, fmt.Errorf("malformed market key %q", key)
	}
	return common.HexToAddress(rest), nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
