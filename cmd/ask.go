package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koopa0/postkb/internal/app"
	"github.com/koopa0/postkb/internal/knowledge"
)

var (
	askUserID int
	askTopK   int
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the knowledge base",
	Long: `ask embeds the question, retrieves the best matching chunks with
hybrid search and generates an answer grounded in them. Use --user to
restrict retrieval to a single author's posts.`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{"requiresAPIKey": "true"},
	RunE:        runAsk,
}

func init() {
	askCmd.Flags().IntVar(&askUserID, "user", 0, "restrict retrieval to this user id")
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "number of chunks to retrieve (0 = default)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

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

	var filter knowledge.Filter
	if cmd.Flags().Changed("user") {
		filter = knowledge.Filter{"user_id": askUserID}
	}

	topK := askTopK
	if topK <= 0 {
		topK = cfg.TopK
	}

	answer, err := a.Agent.Ask(cmd.Context(), question, filter, topK)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	fmt.Println(answer.Text)

	if verbose && len(answer.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, src := range answer.Sources {
			fmt.Printf("  %d. %s part %d (score %.4f)\n",
				i+1, src.Chunk.SourceDocumentID, src.Chunk.SequenceIndex+1, src.Score)
		}
	}
	return nil
}
