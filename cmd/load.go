package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/postkb/internal/app"
	"github.com/koopa0/postkb/internal/record"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Chunk, embed and store the fetched records",
	Long: `load reads every record file from the record directory, splits each
into semantic chunks, embeds the chunks and writes them to the
knowledge store. Malformed records are skipped and counted; they never
abort the run.`,
	Annotations: map[string]string{"requiresAPIKey": "true"},
	RunE:        runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := newLogger()

	a, err := app.Setup(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing application", "error", err)
		}
	}()

	summary, err := a.Pipeline.Run(cmd.Context(), record.Load(cfg.OutputDir))
	if err != nil {
		return fmt.Errorf("ingesting records: %w", err)
	}

	fmt.Printf("Loaded %d records, wrote %d chunks", summary.Loaded, summary.ChunksWritten)
	if summary.Failed > 0 {
		fmt.Printf(", %d failed (see log)", summary.Failed)
	}
	fmt.Println()
	return nil
}
