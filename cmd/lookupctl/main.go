// Package main implements lookupctl, an operational CLI for the lookup cache.
// It talks to Redis and Postgres directly using the service's environment.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "lookupctl",
	Short:         "Inspect and manage the OSINT lookup cache",
	Long:          "lookupctl reports cache statistics, invalidates single lookups and clears cached profiles by pattern in both cache tiers.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
