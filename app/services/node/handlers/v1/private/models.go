package private

import (
	"github.com/ardanlabs/ethcore/foundation/blockchain/blockqueue"
	"github.com/ardanlabs/ethcore/foundation/blockchain/mempool"
	"github.com/ethereum/go-ethereum/common"
)

type status struct {
	Author          common.Address    `json:"author"`
	HeadNumber      uint64            `json:"head_number"`
	HeadHash        common.Hash       `json:"head_hash"`
	TotalDifficulty string            `json:"total_difficulty"`
	Mining          bool              `json:"mining"`
	WorkingPhase    string            `json:"working_phase"`
	Pool            mempool.Status    `json:"pool"`
	Queue           blockqueue.Status `json:"queue"`
}

// queueBlock carries an encoded block from another node.
type queueBlock struct {
	Raw  string `json:"raw" validate:"required,hexadecimal"`
	Safe bool   `json:"safe"`
}

type queued struct {
	Hash   common.Hash `json:"hash"`
	Result string      `json:"result"`
}

type mining struct {
	Enabled *bool `json:"enabled" validate:"required"`
}
