// Package cmd wires the boostd command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/viralboost/boostd/internal/config"
)

// Execute loads configuration, builds the command tree, and runs it.
func Execute() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "boostd",
		Short: "ViralBoost companion daemon",
		Long: `boostd runs alongside the ViralBoost web app. It caches backend reads,
coordinates mutations, and delivers push notifications to connected app
windows, with an email digest fallback when none are open.`,
	}
	root.AddCommand(NewServeCmd(cfg))
	root.AddCommand(NewPushCmd(cfg))
	root.AddCommand(NewVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
