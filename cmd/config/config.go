package config

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/upc-lookup/internal/conf"
)

// Command creates the command that prints the effective configuration with
// credentials redacted.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := settings.MarshalYAMLRedacted()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
