package selector

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// tipSelect returns transactions in rounds: every account's lowest nonce
// first, then every account's second nonce, and so on. Within a round the
// transactions are ordered by gas price.
var tipSelect = func(m map[common.Address][]Tx, howMany int) []Tx {

	/*
		Bill: {Nonce: 2, GasPrice: 250},
			  {Nonce: 1, GasPrice: 150},
		Pavl: {Nonce: 2, GasPrice: 200},
			  {Nonce: 1, GasPrice: 75},
		Edua: {Nonce: 2, GasPrice: 75},
			  {Nonce: 1, GasPrice: 100},
	*/

	// Sort the transactions per account by nonce.
	total := 0
	for key := range m {
		if len(m[key]) > 1 {
			sort.Sort(byNonce(m[key]))
		}
		total += len(m[key])
	}

	if howMany < 0 || howMany > total {
		howMany = total
	}

	// Pick the first transaction in the slice for each account. Each iteration
	// represents a new row of selections. Keep doing that until all the
	// transactions have been selected.
	var rows [][]Tx
	for {
		var row []Tx
		for key := range m {
			if len(m[key]) > 0 {
				row = append(row, m[key][0])
				m[key] = m[key][1:]
			}
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}

	/*
		0: Bill: {Nonce: 1, GasPrice: 150},
		0: Pavl: {Nonce: 1, GasPrice: 75},
		0: Edua: {Nonce: 1, GasPrice: 100},
		1: Bill: {Nonce: 2, GasPrice: 250},
		1: Pavl: {Nonce: 2, GasPrice: 200},
		1: Edua: {Nonce: 2, GasPrice: 75},
	*/

	// Sort each row by gas price so the result does not depend on map
	// iteration order. Keep pulling transactions from each row until the
	// amount is fulfilled or there are no more transactions.
	final := make([]Tx, 0, howMany)
done:
	for _, row := range rows {
		sort.Sort(byPrice(row))

		need := howMany - len(final)
		if len(row) >= need {
			final = append(final, row[:need]...)
			break done
		}
		final = append(final, row...)
	}

	/*
		0: Bill: {Nonce: 1, GasPrice: 150},
		1: Edua: {Nonce: 1, GasPrice: 100},
		2: Pavl: {Nonce: 1, GasPrice: 75},
		3: Bill: {Nonce: 2, GasPrice: 250},
	*/

	return final
}
