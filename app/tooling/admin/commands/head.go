package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func headCmd(log *zap.SugaredLogger) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Print the head of the canonical chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := open(log)
			if err != nil {
				return err
			}
			defer bc.Close()

			head := bc.CurrentHeader()

			details, err := bc.Details(head.Hash())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Number: %d\nHash: %s\nTotal Difficulty: %s\nState Root: %s\n",
				head.Number, head.Hash(), details.TotalDifficulty, head.Root)

			return nil
		},
	}
}
