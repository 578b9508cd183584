package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/maauso/tripreel-api/internal/assembly"
	"github.com/maauso/tripreel-api/internal/media"
)

// probeResult is the metadata printed for one file.
type probeResult struct {
	File     string `json:"file"`
	Kind     string `json:"kind"`
	Metadata any    `json:"metadata,omitempty"`
	// Stride and SampledFrames describe sampling a video at the requested rate.
	Stride        int    `json:"stride,omitempty"`
	SampledFrames int    `json:"sampled_frames,omitempty"`
	Error         string `json:"error,omitempty"`
}

func newProbeCmd(a *app) *cobra.Command {
	var fps float64

	cmd := &cobra.Command{
		Use:   "probe [files...]",
		Short: "Print video and image metadata as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]probeResult, 0, len(args))
			for _, p := range args {
				res := probeResult{File: filepath.Base(p), Kind: string(media.ClassifyForCaption(p))}

				if media.ClassifyForCaption(p) == media.KindVideo {
					meta, err := a.processor.ProbeVideo(cmd.Context(), p)
					if err != nil {
						res.Error = err.Error()
					} else {
						res.Metadata = meta
						res.Stride = assembly.Stride(meta.FPS, fps)
						res.SampledFrames = (meta.FrameCount + res.Stride - 1) / res.Stride
					}
				} else {
					meta, err := media.ReadImageMetadata(p)
					if err != nil {
						res.Error = err.Error()
					} else {
						res.Metadata = meta
					}
				}
				results = append(results, res)
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().Float64Var(&fps, "fps", assembly.DefaultExtractionRate, "Sampling rate used to report the video stride")
	return cmd
}
