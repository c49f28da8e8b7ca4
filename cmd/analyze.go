// SPDX-License-Identifier: MIT
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"tapbeat/internal/audio"
	"tapbeat/internal/config"

	"github.com/spf13/cobra"
)

// analyzeReport is the JSON form of an offline analysis, in seconds.
type analyzeReport struct {
	Path     string    `json:"path"`
	Duration float64   `json:"duration_seconds"`
	Frames   int       `json:"frames"`
	Onsets   []float64 `json:"onsets"`
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	var asJSON bool

	analyzeCmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Detect onsets in a 22050 Hz mono WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			result, err := audio.AnalyzeFile(args[0], cfg.SessionConfig())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			writeAnalysis(cmd.OutOrStdout(), result)
			return nil
		},
	}

	analyzeCmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	analyzeCmd.Flags().Float64VarP(&opts.sensitivity, "sensitivity", "k", config.DefaultSensitivity,
		"Threshold multiplier: an onset needs energy above mean + k*stddev")
	analyzeCmd.Flags().IntVar(&opts.frameSize, "frame-size", config.DefaultFrameSize,
		"Samples per analysis frame at 22050 Hz")
	return analyzeCmd
}

func writeJSON(w io.Writer, a *audio.Analysis) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(analyzeReport{
		Path:     a.Path,
		Duration: a.Duration.Seconds(),
		Frames:   a.Frames,
		Onsets:   a.OnsetSeconds(),
	})
}

func writeAnalysis(w io.Writer, a *audio.Analysis) {
	fmt.Fprintf(w, "%s: %d onsets in %.2fs (%d frames)\n", a.Path, len(a.Onsets), a.Duration.Seconds(), a.Frames)
	for i, at := range a.OnsetSeconds() {
		fmt.Fprintf(w, "  #%-4d %8.3fs\n", i+1, at)
	}
}
