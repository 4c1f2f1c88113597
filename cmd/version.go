package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/viralboost/boostd/internal/build"
)

// NewVersionCmd returns the "version" subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the boostd version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("boostd %s\n", build.String())
		},
	}
}
