// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	storeEngineFlag = "store-engine"
	storeEngineConf = "store.engine"
	storeURIFlag    = "store-uri"
	storeURIConf    = "store.uri"
)

// NewRootCommand enables all children commands to read flags from CLI flags, environment variables prefixed with GANNET, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("GANNET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/gannet", "$HOME/.gannet", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetDefault(storeEngineFlag, "")
	viper.SetDefault(storeURIFlag, "")
	err := viper.ReadInConfig()
	if err == nil {
		viper.SetDefault(storeEngineFlag, viper.Get(storeEngineConf))
		viper.SetDefault(storeURIFlag, viper.Get(storeURIConf))
	}

	return &cobra.Command{
		Use:   "gannet",
		Short: "A pluggable search pipeline engine that transforms search requests, responses, and phase results",
		Long: `A pluggable search pipeline engine that transforms search requests, responses, and phase results.

Gannet resolves named and inline pipelines from replicated cluster state and runs
their processor chains around search execution. Pipeline definitions are plain
JSON or YAML documents built against a registry of pluggable processors.`,
	}
}
