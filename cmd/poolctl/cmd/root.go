package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "poolctl",
	Short: "poolctl operates the multi-tenant bot pool orchestrator",
	Long: `poolctl is the operator command-line interface for the bot pool
orchestrator, the subsystem that packs trading-bot processes into shared
pool containers.

Common workflows:

  Trigger a health sweep and inspect the findings:
    poolctl sweep

  Force a reconciliation pass against the provisioning authority:
    poolctl reconcile

  List a tenant's pools and their slot usage:
    poolctl pools <tenant-id>

  Find where a bot is physically running:
    poolctl resolve <bot-id>

  Free a bot's slot:
    poolctl release <bot-id>

Configuration:
  Set the orchestrator endpoint via environment variable or a config file:
    POOLCTL_URL    Admin API endpoint (default: http://localhost:7070)`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".poolctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".poolctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "POOLCTL_VARNAME"
	viper.SetEnvPrefix("POOLCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.poolctl.yaml)")
	rootCmd.PersistentFlags().String("url", "http://localhost:7070", "Orchestrator admin API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	rootCmd.PersistentFlags().String("admin-key", "", "Admin API key for operator triggers")
	viper.BindPFlag("admin-key", rootCmd.PersistentFlags().Lookup("admin-key"))
}
