package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/postkb/internal/fetch"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Pull post records from the content API into the record directory",
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := newLogger()

	fetcher := fetch.New(nil, cfg.PostsURL, cfg.OutputDir, logger)

	records, err := fetcher.FetchAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetching records: %w", err)
	}

	fmt.Printf("Saved %d records to %s\n", len(records), cfg.OutputDir)
	return nil
}
