// Package genesis maintains access to the genesis file and builds the
// genesis state and header from it.
package genesis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ardanlabs/ethcore/foundation/blockchain/accounts"
	"github.com/ardanlabs/ethcore/foundation/blockchain/overlay"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date              time.Time         `json:"date"`
	ChainID           uint64            `json:"chain_id"`            // The chain id represents an unique id for this running instance.
	GasLimit          uint64            `json:"gas_limit"`           // Gas limit of the genesis block.
	Difficulty        uint64            `json:"difficulty"`          // Difficulty of the genesis block.
	MinDifficulty     uint64            `json:"min_difficulty"`      // The minimum the difficulty may ever be.
	BlockReward       string            `json:"block_reward"`        // Reward in wei for sealing a block.
	EIP158Block       uint64            `json:"eip158_block"`        // First block where empty touched accounts are removed.
	AccountStartNonce uint64            `json:"account_start_nonce"` // Nonce new accounts start with.
	ExtraData         string            `json:"extra_data"`
	Balances          map[string]string `json:"balances"` // Starting balances in wei.
}

// Default returns a genesis suitable for development and tests.
func Default() Genesis {
	return Genesis{
		Date:          time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:       1337,
		GasLimit:      params.GenesisGasLimit,
		Difficulty:    params.MinimumDifficulty.Uint64(),
		MinDifficulty: params.MinimumDifficulty.Uint64(),
		BlockReward:   "5000000000000000000",
		Balances:      map[string]string{},
	}
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	if _, err := genesis.Reward(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Reward returns the block reward as a 256 bit value.
func (g Genesis) Reward() (*uint256.Int, error) {
	if g.BlockReward == "" {
		return new(uint256.Int), nil
	}

	r, err := uint256.FromDecimal(g.BlockReward)
	if err != nil {
		return nil, fmt.Errorf("invalid block reward %q: %w", g.BlockReward, err)
	}

	return r, nil
}

// Signer returns the transaction signer for the chain id.
func (g Genesis) Signer() types.Signer {
	return types.NewEIP155Signer(new(big.Int).SetUint64(g.ChainID))
}

// Commit writes the starting balances into the overlay and returns the
// genesis header. The overlay is not flushed.
func (g Genesis) Commit(db *overlay.Overlay) (*types.Header, error) {
	state := accounts.New(db, g.AccountStartNonce)

	for addr, balance := range g.Balances {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid genesis account %q", addr)
		}

		bal, err := uint256.FromDecimal(balance)
		if err != nil {
			return nil, fmt.Errorf("invalid genesis balance for %s: %w", addr, err)
		}

		state.AddBalance(common.HexToAddress(addr), bal)
	}

	root, err := state.Commit(false)
	if err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}

	header := types.Header{
		ParentHash:  common.Hash{},
		UncleHash:   types.EmptyUncleHash,
		Coinbase:    common.Address{},
		Root:        root,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  new(big.Int).SetUint64(g.Difficulty),
		Number:      new(big.Int),
		GasLimit:    g.GasLimit,
		Time:        uint64(g.Date.Unix()),
		Extra:       []byte(g.ExtraData),
	}

	return &header, nil
}
