package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maauso/tripreel-api/internal/caption"
	"github.com/maauso/tripreel-api/internal/job"
	"github.com/maauso/tripreel-api/internal/storage"
)

func newStoryCmd(a *app) *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "story [files...]",
		Short: "Write a travel story for each file with Gemini",
		Long: `Story uploads each file to Gemini and prints the generated story,
recommended voice tone and media metadata. Requires GEMINI_API_KEY.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			captioner, err := caption.NewGemini(ctx, a.cfg.GeminiAPIKey,
				caption.WithModel(a.cfg.GeminiModel),
				caption.WithFilePolicy(a.cfg.CaptionPollPolicy()),
				caption.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}

			store, err := storage.NewLocalStorage(a.cfg.TempDir)
			if err != nil {
				return fmt.Errorf("create local storage: %w", err)
			}
			base := job.NewService(job.NewMemoryRepository(), store, a.logger, 1)
			stories := job.NewStoryService(base, captioner, a.processor)

			results := make([]job.FileResult, 0, len(args))
			for _, p := range args {
				a.logger.Info("captioning", slog.String("file", p), slog.String("model", captioner.Model()))
				results = append(results, stories.CaptionFile(ctx, p, location))
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().StringVarP(&location, "location", "l", "", "Where the media was captured")
	return cmd
}
