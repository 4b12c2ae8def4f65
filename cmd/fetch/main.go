package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a single file from a holder over TCP",
		Long: `fetch moves one named file per connection between two processes.

  fetch serve <port>                 serve files from the working directory
  fetch get <host> <port> <filename> fetch one file into the working directory`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newGetCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
