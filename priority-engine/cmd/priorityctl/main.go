package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "priorityctl",
		Short: "Offline tools for the priority engine",
		Long: `priorityctl runs the engine's pure pieces against local files: rank a
signal dump, derive a card's escalation path, or check a rules seed file
before deploying it.`,
		SilenceUsage: true,
	}
	root.AddCommand(aggregateCmd())
	root.AddCommand(pathCmd())
	root.AddCommand(rulesCmd())
	return root
}
