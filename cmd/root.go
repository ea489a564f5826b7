// Package cmd provides the coursegen command-line interface.
//
// Configuration is loaded from (highest priority first) command-line flags,
// COURSEGEN_* environment variables following the COURSEGEN_<SECTION>_<OPTION>
// pattern, and a .coursegen.yml file in the current directory.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "coursegen",
	Short: "Serve and freeze course content from canonical and delegated sources",
	Long: `Coursegen renders educational course content that lives either in the
canonical local dataset or in independently maintained fork repositories
executed in an isolated sandbox.

  coursegen serve                 Start the development/production server
  coursegen freeze                Crawl the site and write a static snapshot

Fork rendering failures degrade gracefully: pages fall back to canonical
content where it exists and broken forks are excluded from listings, unless
strict mode is configured for CI-style builds.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .coursegen.yml)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("COURSEGEN_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".coursegen")
	}

	viper.SetEnvPrefix("COURSEGEN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
