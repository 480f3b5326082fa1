// Package cmd implements the postkb command line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/koopa0/postkb/internal/config"
	"github.com/koopa0/postkb/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "postkb",
	Short: "postkb builds a searchable knowledge base from post records",
	Long: `postkb pulls post records from a content API, splits them into
semantically coherent chunks, embeds the chunks and stores them in
PostgreSQL with pgvector. Questions are answered from the stored
chunks with hybrid (vector + keyword) retrieval.

Typical flow:

  postkb fetch          # pull records into the local record directory
  postkb load           # chunk, embed and store the records
  postkb ask "..."      # answer a question from the knowledge base`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["requiresAPIKey"] != "true" {
			return nil
		}
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("GEMINI_API_KEY not set, run: export GEMINI_API_KEY=your-api-key")
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig loads configuration for a subcommand. Load validates
// before returning, so a returned Config is always usable.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// newLogger builds the CLI logger honoring --verbose.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}
