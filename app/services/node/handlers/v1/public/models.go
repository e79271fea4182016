package public

import (
	"github.com/ardanlabs/ethcore/foundation/nameservice"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

type tx struct {
	Hash     common.Hash     `json:"hash"`
	From     common.Address  `json:"from"`
	FromName string          `json:"from_name"`
	To       *common.Address `json:"to"`
	ToName   string          `json:"to_name,omitempty"`
	Nonce    uint64          `json:"nonce"`
	GasPrice string          `json:"gas_price"`
	Gas      uint64          `json:"gas"`
	Value    string          `json:"value"`
	Data     hexutil.Bytes   `json:"data"`
}

func toTx(signer types.Signer, ns *nameservice.NameService, tran *types.Transaction) tx {
	from, _ := types.Sender(signer, tran)

	var toName string
	if tran.To() != nil {
		toName = ns.Lookup(*tran.To())
	}

	return tx{
		Hash:     tran.Hash(),
		From:     from,
		FromName: ns.Lookup(from),
		To:       tran.To(),
		ToName:   toName,
		Nonce:    tran.Nonce(),
		GasPrice: tran.GasPrice().String(),
		Gas:      tran.Gas(),
		Value:    tran.Value().String(),
		Data:     tran.Data(),
	}
}

type account struct {
	Account common.Address `json:"account"`
	Name    string         `json:"name"`
	View    string         `json:"view"`
	Balance string         `json:"balance"`
	Nonce   uint64         `json:"nonce"`
}

type pending struct {
	Number       uint64 `json:"number"`
	ParentHash   string `json:"parent_hash"`
	GasUsed      uint64 `json:"gas_used"`
	GasLimit     uint64 `json:"gas_limit"`
	Transactions []tx   `json:"transactions"`
}

type block struct {
	Header          *types.Header `json:"header"`
	Hash            common.Hash   `json:"hash"`
	TotalDifficulty string        `json:"total_difficulty"`
	Uncles          []common.Hash `json:"uncles"`
	Transactions    []tx          `json:"transactions"`
}

// submitTx carries a signed transaction in its binary encoding.
type submitTx struct {
	Raw string `json:"raw" validate:"required,hexadecimal"`
}

type submitted struct {
	Hash   common.Hash `json:"hash"`
	Status string      `json:"status"`
}
