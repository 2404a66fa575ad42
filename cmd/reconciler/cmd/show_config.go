package cmd

import (
	"github.com/spf13/cobra"

	"ledger-reconciliation-service/pkg/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Config prints the configuration the other commands would run with, after
defaults, the config file and RECONCILER_* environment variables are merged.
The output is valid YAML and can be used as a starting config file.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadConfig(cmd, nil)
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := appConfig.YAML()
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "render configuration", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
