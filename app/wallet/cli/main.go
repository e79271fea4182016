// This program is a wallet for submitting transfers to a node.
package main

import "github.com/ardanlabs/ethcore/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
