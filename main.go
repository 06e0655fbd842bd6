package main

import (
	"os"

	receiptgate "github.com/hazyhaar/receiptgate/cmd/receiptgate"
)

var version = "dev"

func main() {
	receiptgate.Version = version
	cmd := receiptgate.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln(err)
		os.Exit(receiptgate.GetExitCode(err))
	}
}
