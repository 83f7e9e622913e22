// Netsrp is an operator tool for SRP-6a handshake credentials.
package main

import (
	"os"

	"github.com/fzdarsky/netsrp/cmd/netsrp/commands"
)

var (
	// version is set by build flags
	version = "dev"
	// commit is set by build flags
	commit = "none"
)

func main() {
	if err := commands.Execute(version, commit); err != nil {
		os.Exit(1)
	}
}
