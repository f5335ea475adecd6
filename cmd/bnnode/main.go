package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "bnnode",
		Short: "Business network membership node",
		Long: `bnnode runs a member of one or more business networks.

  bnnode start    Run the node
  bnnode id       Print the node's peer id, creating its key if needed`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newIDCmd())

	return rootCmd.ExecuteContext(context.Background())
}
