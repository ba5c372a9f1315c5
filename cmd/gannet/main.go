package main

import (
	"os"

	"github.com/gannet-search/gannet/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	migrateCmd := cmd.NewMigrateCommand()
	rootCmd.AddCommand(migrateCmd)

	validateCmd := cmd.NewValidatePipelinesCommand()
	rootCmd.AddCommand(validateCmd)

	versionCmd := cmd.NewVersionCommand()
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
