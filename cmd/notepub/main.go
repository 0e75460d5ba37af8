// Package main provides the notepub command-line tool for publishing
// Markdown documents to note.com.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	logLevel   string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:           "notepub",
	Short:         "Publish Markdown documents to note.com",
	Long:          `notepub posts Markdown through the note.com API, or drives the web editor when the body contains images.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "Path to YAML config (default: ./notepub.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newPublishCmd(), newLoginCmd(), newCheckCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failureStyle.Render("✗ "+err.Error()))
		os.Exit(1)
	}
}
