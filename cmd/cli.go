// SPDX-License-Identifier: MIT

// Package cmd wires the command line onto the capture, transport and
// terminal packages.
package cmd

import (
	"context"
	"fmt"

	"tapbeat/internal/config"
	"tapbeat/internal/log"
	"tapbeat/pkg/build"

	"github.com/spf13/cobra"
)

// options holds the raw flag values. A flag only overrides the loaded
// configuration when the user set it.
type options struct {
	configPath  string
	backend     string
	device      int
	sensitivity float64
	frameSize   int
	input       string
	record      bool
	tui         bool
	verbose     bool
	logFile     string
}

// Execute parses args and runs the selected command until it finishes or
// ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.String(),
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runCapture(cmd.Context(), cfg, runOptions{tui: opts.tui, logFile: opts.logFile})
		},
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "",
		"Path to a YAML config file. Defaults to tapbeat.yaml or config.yaml when present.")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output")

	local := rootCmd.Flags()
	local.StringVarP(&opts.backend, "backend", "b", config.DefaultBackend,
		fmt.Sprintf("Audio backend %v", config.Backends))
	local.IntVarP(&opts.device, "device", "d", config.DefaultDeviceID,
		"Input device ID, -1 for the host default. Use 'list' to see available devices.")
	local.Float64VarP(&opts.sensitivity, "sensitivity", "k", config.DefaultSensitivity,
		"Threshold multiplier: an onset needs energy above mean + k*stddev")
	local.IntVar(&opts.frameSize, "frame-size", config.DefaultFrameSize,
		"Samples per analysis frame at 22050 Hz")
	local.StringVarP(&opts.input, "input", "i", "",
		"WAV file to replay instead of a live device (implies --backend file)")
	local.BoolVarP(&opts.record, "record", "r", false,
		"Record the captured audio to the recording directory")
	local.BoolVarP(&opts.tui, "tui", "t", false,
		"Show the live terminal monitor")
	local.StringVar(&opts.logFile, "log-file", "",
		"Write logs to this file. In TUI mode logs are discarded unless set.")

	rootCmd.AddCommand(newListCmd(opts), newAnalyzeCmd(opts))
	return rootCmd
}

// loadConfig resolves the configuration: defaults, then the config file,
// then environment, then the flags the user set.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.ReadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	applyFlags(cmd, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("backend") {
		cfg.Capture.Backend = opts.backend
	}
	if changed("device") {
		cfg.Capture.Device = opts.device
	}
	if changed("sensitivity") {
		cfg.Capture.Sensitivity = opts.sensitivity
	}
	if changed("frame-size") {
		cfg.Capture.FrameSize = opts.frameSize
	}
	if changed("input") {
		cfg.Capture.InputFile = opts.input
		if !changed("backend") {
			cfg.Capture.Backend = "file"
		}
	}
	if changed("record") {
		cfg.Recording.Enabled = opts.record
	}
	if opts.verbose {
		cfg.LogLevel = log.LevelDebug.String()
	}
}
