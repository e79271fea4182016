package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/ardanlabs/ethcore/foundation/nameservice"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	force bool
	all   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new key for the named account",
	Args:  cobra.NoArgs,
	RunE:  generateRun,
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Print the address of the named account, or of every account with --all",
	Args:  cobra.NoArgs,
	RunE:  accountRun,
}

func init() {
	rootCmd.AddCommand(generateCmd, accountCmd)
	generateCmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing key.")
	accountCmd.Flags().BoolVar(&all, "all", false, "List every account in the account path.")
}

func generateRun(cmd *cobra.Command, args []string) error {
	path := getPrivateKeyPath()

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("key %s already exists, use --force to replace it", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(accountPath, 0700); err != nil {
		return fmt.Errorf("creating account path: %w", err)
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}

	if err := crypto.SaveECDSA(path, privateKey); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Account: %s\nKey: %s\n", crypto.PubkeyToAddress(privateKey.PublicKey), path)

	return nil
}

func accountRun(cmd *cobra.Command, args []string) error {
	if !all {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), crypto.PubkeyToAddress(privateKey.PublicKey))
		return nil
	}

	ns, err := nameservice.New(accountPath)
	if err != nil {
		return err
	}

	accounts := ns.Copy()
	addrs := make([]common.Address, 0, len(accounts))
	for addr := range accounts {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b common.Address) int { return a.Cmp(b) })

	for _, addr := range addrs {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", accounts[addr], addr)
	}

	return nil
}
