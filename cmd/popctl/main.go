package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "popctl",
		Short:   "Operate the proof-of-payment ledger",
		Version: Version,
	}

	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(undoCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
