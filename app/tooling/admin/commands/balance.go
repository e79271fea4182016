package commands

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func balanceCmd(log *zap.SugaredLogger) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [account...]",
		Short: "Print the balance and nonce of accounts at the head, or of every account when none is named",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := open(log)
			if err != nil {
				return err
			}
			defer bc.Close()

			// A block on the head gives read access to the head state.
			blk, err := bc.NewBlock(common.Address{})
			if err != nil {
				return err
			}
			defer blk.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "LatestBlockHash: %s\n\n", bc.CurrentHeader().Hash())

			if len(args) == 0 {
				infos, err := blk.State().Infos()
				if err != nil {
					return err
				}

				addrs := make([]common.Address, 0, len(infos))
				for addr := range infos {
					addrs = append(addrs, addr)
				}
				slices.SortFunc(addrs, func(a, b common.Address) int { return a.Cmp(b) })

				for _, addr := range addrs {
					fmt.Fprintf(cmd.OutOrStdout(), "Account: %s  Balance: %s  Nonce: %d\n", addr, infos[addr].Balance.Dec(), infos[addr].Nonce)
				}
				return nil
			}

			for _, arg := range args {
				if !common.IsHexAddress(arg) {
					return fmt.Errorf("invalid account %q", arg)
				}
				addr := common.HexToAddress(arg)

				fmt.Fprintf(cmd.OutOrStdout(), "Account: %s  Balance: %s  Nonce: %d\n",
					addr, blk.State().Balance(addr).Dec(), blk.State().Nonce(addr))
			}

			return nil
		},
	}
}
