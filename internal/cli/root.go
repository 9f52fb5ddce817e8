// Package cli implements the agentgate command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/andywolf/agentgate/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentgate",
	Short: "Agentgate - Trust boundary for autonomous agent actions",
	Long: `Agentgate sits between an autonomous coding agent and the systems it
touches. It classifies and validates shell commands against a risk policy,
enforces action-rate and cost budgets, stores credentials encrypted at
rest, and authenticates callers through single-use pairing.

Example:
  agentgate check "rm -rf /tmp/build"
  agentgate serve --config .agentgate.yaml`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .agentgate.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error getting working directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".agentgate")
	}

	viper.SetEnvPrefix("AGENTGATE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
