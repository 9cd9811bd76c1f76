package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pvfs/internal/daemon"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage pvfs settings",
	Long: `Settings are read from ~/.pvfs/settings.yaml (or --config), then
overridden by PVFS_* environment variables such as PVFS_SHARE_PATH or
PVFS_POSIX_XATTR_BACKEND.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default settings file if missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemon.InitConfigDir(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Settings: %s\n", daemon.SettingsPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(s)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
