// Command inspectd is the operator-facing video inspector: it resolves a
// camera, file or remote URL, runs object detection on every frame and
// serves the annotated preview over HTTP.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-inspect/settings"
)

type rootOptions struct {
	configPath string
	debug      bool
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "inspectd",
		Short:        "Run object detection on cameras, video files and remote videos",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger(opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", settings.DefaultFile, "Path to settings file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newResolveCmd(opts))
	cmd.AddCommand(newSettingsCmd(opts))
	return cmd
}

func setupLogger(opts *rootOptions) error {
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch opts.logFormat {
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, hopts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, hopts)
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", opts.logFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
