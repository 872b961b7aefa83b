package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-inspect/internal/gstreamer"
	"github.com/e7canasta/orion-inspect/settings"
	"github.com/e7canasta/orion-inspect/source"
)

func newResolveCmd(root *rootOptions) *cobra.Command {
	var cookies string
	cmd := &cobra.Command{
		Use:   "resolve <source>",
		Short: "Resolve a device, file or URL and print what would be opened",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(root.configPath)
			if err != nil {
				return err
			}
			if cookies == "" {
				cookies = s.CookieFile
			}

			resolver, err := source.NewResolver(source.Config{
				Extractor: source.NewYTDLP(""),
				Opener:    gstreamer.NewDecoder(gstreamer.DefaultConfig()),
				TempDir:   s.TempDir,
			})
			if err != nil {
				return err
			}

			desc, err := resolver.Resolve(cmd.Context(), args[0], cookies)
			if err != nil {
				var rerr *source.ResolutionError
				if errors.As(err, &rerr) {
					return fmt.Errorf("%s", rerr.Message())
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kind:     %s\n", desc.Kind)
			fmt.Fprintf(out, "uri:      %s\n", desc.URI)
			fmt.Fprintf(out, "seekable: %t\n", desc.Seekable)
			if desc.Title != "" {
				fmt.Fprintf(out, "title:    %s\n", desc.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cookies, "cookies", "", "Cookie file passed to yt-dlp")
	return cmd
}
