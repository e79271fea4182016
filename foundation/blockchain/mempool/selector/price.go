package selector

import (
	"container/heap"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// priceSelect returns transactions in gas price order across accounts while
// respecting the nonce order within each account. The next transaction of
// an account only competes once the previous one has been picked.
var priceSelect = func(m map[common.Address][]Tx, howMany int) []Tx {

	// Sort the transactions per account by nonce and seed the heap with
	// the first transaction of every account.
	heads := make(priceHeap, 0, len(m))
	total := 0
	for from := range m {
		if len(m[from]) == 0 {
			continue
		}
		sort.Sort(byNonce(m[from]))
		heads = append(heads, m[from])
		total += len(m[from])
	}
	heap.Init(&heads)

	if howMany < 0 || howMany > total {
		howMany = total
	}

	final := make([]Tx, 0, howMany)
	for len(final) < howMany && heads.Len() > 0 {
		txs := heads[0]
		final = append(final, txs[0])

		switch len(txs) {
		case 1:
			heap.Pop(&heads)
		default:
			heads[0] = txs[1:]
			heap.Fix(&heads, 0)
		}
	}

	return final
}

// =============================================================================

// priceHeap orders accounts by the transaction at the front of their list.
type priceHeap [][]Tx

func (h priceHeap) Len() int           { return len(h) }
func (h priceHeap) Less(i, j int) bool { return higherPriority(h[i][0], h[j][0]) }
func (h priceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *priceHeap) Push(x any) {
	*h = append(*h, x.([]Tx))
}

func (h *priceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
