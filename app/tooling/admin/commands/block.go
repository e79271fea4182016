package commands

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func blockCmd(log *zap.SugaredLogger) *cobra.Command {
	var all bool

	cmd := cobra.Command{
		Use:   "block [number]",
		Short: "Print a canonical block, or every block with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := open(log)
			if err != nil {
				return err
			}
			defer bc.Close()

			if all {
				for iter := bc.ForEach(); !iter.Done(); {
					blk, err := iter.Next()
					if err != nil {
						return err
					}
					printBlock(cmd, bc.Genesis().Signer(), blk)
				}
				return nil
			}

			number := bc.CurrentHeader().Number.Uint64()
			if len(args) == 1 {
				n, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid block number %q: %w", args[0], err)
				}
				number = n
			}

			blk, err := bc.BlockByNumber(number)
			if err != nil {
				return err
			}

			printBlock(cmd, bc.Genesis().Signer(), blk)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Print every block after genesis.")

	return &cmd
}

func printBlock(cmd *cobra.Command, signer types.Signer, blk *types.Block) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Block %d  Hash: %s  Parent: %s\n", blk.NumberU64(), blk.Hash(), blk.ParentHash())
	fmt.Fprintf(w, "  Author: %s  Difficulty: %s  Gas: %d/%d  Uncles: %d\n",
		blk.Coinbase(), blk.Difficulty(), blk.GasUsed(), blk.GasLimit(), len(blk.Uncles()))

	for _, tx := range blk.Transactions() {
		from, _ := types.Sender(signer, tx)
		fmt.Fprintf(w, "  Tx: %s  From: %s  To: %s  Nonce: %d  Value: %s\n", tx.Hash(), from, tx.To(), tx.Nonce(), tx.Value())
	}
}
