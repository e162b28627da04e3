// Package app provides the entry point for the snapshot-relay receiver.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/relaykit/snapshot-relay/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:               "snapshot-relay",
	DisableAutoGenTag: true,
	Short:             "Snapshot relay receiver",
	Long: `Snapshot relay receiver accepts state snapshots pushed by a monitored
process, exposes the latest snapshot through a change-detection loop, and
registers its own reachable address with a remote coordinator.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			zap.L().Error("error displaying help", zap.Error(err))
		}
	},
}

// NewRootCmd creates a new root command for the relay receiver.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("failed to bind debug flag: %v", err))
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("failed to retrieve format flag: %w", err)
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to format version info as JSON: %w", err)
			}
			fmt.Println(string(output))
			return nil
		}

		fmt.Printf("snapshot-relay %s (commit %s, built %s, %s, %s)\n",
			info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
