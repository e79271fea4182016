// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// List of different select strategies.
const (
	StrategyPrice = "price"
	StrategyTip   = "tip"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyPrice: priceSelect,
	StrategyTip:   tipSelect,
}

// Tx is a pool entry: a signed transaction with its recovered sender and
// the order it arrived in.
type Tx struct {
	*types.Transaction
	From    common.Address
	Arrival uint64
}

// Func defines a function that takes a pool of transactions grouped by
// address and selects howMany of them in an order based on the functions
// strategy. All selector functions MUST respect nonce ordering and MUST be
// deterministic for the same input. Receiving -1 for howMany must return all
// the transactions in the strategies ordering.
type Func func(transactions map[common.Address][]Tx, howMany int) []Tx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// byNonce provides sorting support by the transaction nonce value.
type byNonce []Tx

// Len returns the number of transactions in the list.
func (bn byNonce) Len() int {
	return len(bn)
}

// Less helps to sort the list by nonce in ascending order to keep the
// transactions in the right order of processing.
func (bn byNonce) Less(i, j int) bool {
	return bn[i].Nonce() < bn[j].Nonce()
}

// Swap moves transactions in the order of the nonce value.
func (bn byNonce) Swap(i, j int) {
	bn[i], bn[j] = bn[j], bn[i]
}

// =============================================================================

// byPrice provides sorting support by the transaction gas price. Equal
// prices fall back to arrival order.
type byPrice []Tx

// Len returns the number of transactions in the list.
func (bp byPrice) Len() int {
	return len(bp)
}

// Less helps to sort the list by gas price in descending order to pick the
// transactions that provide the best reward.
func (bp byPrice) Less(i, j int) bool {
	return higherPriority(bp[i], bp[j])
}

// Swap moves transactions in the order of the gas price value.
func (bp byPrice) Swap(i, j int) {
	bp[i], bp[j] = bp[j], bp[i]
}

// higherPriority reports if a should be picked before b.
func higherPriority(a Tx, b Tx) bool {
	switch a.GasPrice().Cmp(b.GasPrice()) {
	case 1:
		return true
	case -1:
		return false
	}
	return a.Arrival < b.Arrival
}
