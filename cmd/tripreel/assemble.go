package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/maauso/tripreel-api/internal/archive"
	"github.com/maauso/tripreel-api/internal/assembly"
)

func newAssembleCmd(a *app) *cobra.Command {
	var (
		output       string
		fps          float64
		imageSeconds float64
	)

	cmd := &cobra.Command{
		Use:   "assemble [files, directories or zips...]",
		Short: "Build one video from videos and still images",
		Long: `Assemble decodes every input, normalizes frames to the resolution of the
first decoded frame and writes all videos followed by all images.
Directories are read one level deep; zip archives are extracted first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fps <= 0 {
				fps = a.cfg.SlideshowFPS
			}
			if imageSeconds <= 0 {
				imageSeconds = a.cfg.ImageSeconds
			}
			return runAssemble(cmd, a, args, output, fps, imageSeconds)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output video path")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Output frame rate (default SLIDESHOW_FPS)")
	cmd.Flags().Float64Var(&imageSeconds, "image-seconds", 0, "Seconds each image is shown (default IMAGE_SECONDS)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runAssemble(cmd *cobra.Command, a *app, args []string, output string, fps, imageSeconds float64) error {
	ctx := cmd.Context()

	workDir, err := os.MkdirTemp("", "tripreel-assemble-")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	paths, err := collectInputs(ctx, args, workDir)
	if err != nil {
		return err
	}

	job, unsupported := assembly.NewJob(paths, fps, imageSeconds, output)
	for _, p := range unsupported {
		a.logger.Warn("skipping unsupported file", slog.String("path", p))
	}

	asm := assembly.New(a.processor, a.processor,
		assembly.WithLogger(a.logger),
		assembly.WithStageHook(func(s assembly.Stage) {
			a.logger.Debug("assembly stage", slog.String("stage", string(s)))
		}),
		assembly.WithProgressHook(func(frames int) {
			a.logger.Info("frames written", slog.Int("frames", frames))
		}),
	)

	rep, err := asm.Assemble(ctx, job)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), rep)
}

// collectInputs expands directories and zip archives into a flat file list.
func collectInputs(ctx context.Context, args []string, workDir string) ([]string, error) {
	var paths []string
	for i, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		switch {
		case info.IsDir():
			entries, err := os.ReadDir(arg)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.Type().IsRegular() {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)
			for _, n := range names {
				paths = append(paths, filepath.Join(arg, n))
			}

		case archive.IsArchive(arg):
			extracted, err := archive.Extract(ctx, arg, filepath.Join(workDir, fmt.Sprintf("archive_%d", i)), archive.DefaultLimits())
			if err != nil {
				return nil, fmt.Errorf("extract %s: %w", arg, err)
			}
			paths = append(paths, extracted...)

		default:
			paths = append(paths, arg)
		}
	}
	return paths, nil
}
