package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/spf13/cobra"
)

var (
	nonce    int64
	to       string
	value    int64
	gasPrice int64
	gas      uint64
	data     []byte
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send transaction",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		sendWithDetails(privateKey)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Int64VarP(&nonce, "nonce", "n", -1, "Nonce for the transaction, taken from the pending state if not set.")
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Account to send to.")
	sendCmd.Flags().Int64VarP(&value, "value", "v", 0, "Value to send in wei.")
	sendCmd.Flags().Int64VarP(&gasPrice, "gas-price", "c", 1, "Price per unit of gas in wei.")
	sendCmd.Flags().Uint64VarP(&gas, "gas", "g", params.TxGas, "Gas the transaction may use.")
	sendCmd.Flags().BytesHexVarP(&data, "data", "d", nil, "Data to send.")
}

func sendWithDetails(privateKey *ecdsa.PrivateKey) {
	if !common.IsHexAddress(to) {
		log.Fatalf("invalid account %q", to)
	}
	toAddr := common.HexToAddress(to)

	var gen struct {
		ChainID uint64 `json:"chain_id"`
	}
	if err := getJSON("/v1/genesis", &gen); err != nil {
		log.Fatal(err)
	}

	n := uint64(nonce)
	if nonce < 0 {
		var act account
		if err := getJSON(fmt.Sprintf("/v1/accounts/%s?view=pending", crypto.PubkeyToAddress(privateKey.PublicKey)), &act); err != nil {
			log.Fatal(err)
		}
		n = act.Nonce
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    n,
		GasPrice: big.NewInt(gasPrice),
		Gas:      gas,
		To:       &toAddr,
		Value:    big.NewInt(value),
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(new(big.Int).SetUint64(gen.ChainID)), privateKey)
	if err != nil {
		log.Fatal(err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		log.Fatal(err)
	}

	body, err := json.Marshal(map[string]string{"raw": hexutil.Encode(raw)})
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Post(url+"/v1/tx/submit", "application/json", bytes.NewBuffer(body))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var result struct {
		Hash   string `json:"hash"`
		Status string `json:"status"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		log.Fatal(err)
	}

	fmt.Println(result.Hash, result.Status)
}
