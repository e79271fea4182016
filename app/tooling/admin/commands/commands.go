// Package commands contains the admin commands for reading the chain
// database.
package commands

import (
	"fmt"
	"io"
	"math/big"

	"github.com/ardanlabs/ethcore/foundation/blockchain/database"
	"github.com/ardanlabs/ethcore/foundation/blockchain/genesis"
	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage/leveldb"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dbPath      string
	genesisPath string
)

// Execute builds the command tree and runs the command named by args.
func Execute(build string, log *zap.SugaredLogger, args []string, out io.Writer) error {
	root := cobra.Command{
		Use:          "admin",
		Short:        "Inspect the chain database of a stopped node",
		Version:      build,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&dbPath, "db", "d", "zblock/chain", "Path to the chain database.")
	root.PersistentFlags().StringVarP(&genesisPath, "genesis", "g", "zblock/genesis.json", "Path to the genesis file.")

	root.AddCommand(headCmd(log), blockCmd(log), balanceCmd(log))
	root.SetArgs(args)
	root.SetOut(out)

	return root.Execute()
}

// open opens the chain the node wrote. The caller must close it.
func open(log *zap.SugaredLogger) (*database.BlockChain, error) {
	gen, err := genesis.Load(genesisPath)
	if err != nil {
		return nil, fmt.Errorf("loading genesis: %w", err)
	}

	reward, err := gen.Reward()
	if err != nil {
		return nil, err
	}

	store, err := leveldb.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	bc, err := database.New(database.Config{
		Store:   store,
		Genesis: gen,
		Engine: seal.NewPoW(seal.Config{
			BlockReward:   reward,
			MinDifficulty: new(big.Int).SetUint64(gen.MinDifficulty),
			Signer:        gen.Signer(),
		}),
		EvHandler: func(v string, args ...any) {
			log.Debugw(fmt.Sprintf(v, args...))
		},
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return bc, nil
}
