package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-inspect/settings"
)

func newSettingsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or persist the inspector settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings (defaults, file, environment and flags)",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := settingsViper(cmd, root.configPath)
			if err != nil {
				return err
			}
			s, err := settings.FromViper(v)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(s)
			if err != nil {
				return fmt.Errorf("encode settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	bindSettingsFlags(show)

	save := &cobra.Command{
		Use:   "save",
		Short: "Write the effective settings to the settings file",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := settingsViper(cmd, root.configPath)
			if err != nil {
				return err
			}
			s, err := settings.FromViper(v)
			if err != nil {
				return err
			}
			if err := settings.Save(root.configPath, s); err != nil {
				return err
			}
			slog.Info("settings saved", "path", root.configPath)
			return nil
		},
	}
	bindSettingsFlags(save)

	cmd.AddCommand(show, save)
	return cmd
}
