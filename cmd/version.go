package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/gannet-search/gannet/internal/build"
)

// NewVersionCommand returns the command to get the gannet version
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the gannet version",
		Long:  "Return the gannet version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

// print out the built version
func version(_ *cobra.Command, _ []string) error {
	log.Printf("Gannet Version %s Date %s commit id %s ", build.Version, build.Date, build.Commit)
	return nil
}
