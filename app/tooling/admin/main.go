// This program performs administrative tasks against the chain database
// of a stopped node.
package main

import (
	"fmt"
	"os"

	"github.com/ardanlabs/ethcore/app/tooling/admin/commands"
	"github.com/ardanlabs/ethcore/foundation/logger"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN", "stderr")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := commands.Execute(build, log, os.Args[1:], os.Stdout); err != nil {
		log.Errorw("admin", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}
