package cmd

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type account struct {
	Account string `json:"account"`
	View    string `json:"view"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

var view string

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVarP(&view, "view", "v", "latest", "State to read: latest or pending.")
}

func balanceRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	addr := crypto.PubkeyToAddress(privateKey.PublicKey)
	fmt.Println("For Account:", addr)

	var act account
	if err := getJSON(fmt.Sprintf("/v1/accounts/%s?view=%s", addr, view), &act); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Balance: %s  Nonce: %d  (%s)\n", act.Balance, act.Nonce, act.View)
}
