// Package main provides the tripreel command line tool for assembling,
// probing and captioning trip media locally.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maauso/tripreel-api/internal/config"
	"github.com/maauso/tripreel-api/internal/media"
)

// app carries what every subcommand needs.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	processor *media.FFmpegProcessor
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "tripreel",
		Short: "Assemble, inspect and caption trip media",
		Long: `tripreel works on local files with the same pipeline the API server runs.

Configuration is read from the environment (FFMPEG_PATH, FFPROBE_PATH,
GEMINI_API_KEY, LOG_LEVEL, ...), as for the server.

Examples:
  tripreel assemble -o reel.mp4 ./photos ./clips/walk.mp4 trip.zip
  tripreel probe ./clips/walk.mp4 ./photos/beach.jpg
  tripreel story --location "Lisbon" ./photos/tram.jpg`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			a.logger = cfg.NewLogger()
			slog.SetDefault(a.logger)
			a.processor = media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
			return nil
		},
	}

	root.AddCommand(
		newAssembleCmd(a),
		newProbeCmd(a),
		newStoryCmd(a),
	)
	return root
}

func main() {
	// Interrupting cancels the context, which stops ffmpeg and removes partial output.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
