package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/upc-lookup/cmd/batch"
	"github.com/tphakala/upc-lookup/cmd/config"
	"github.com/tphakala/upc-lookup/cmd/lookup"
	"github.com/tphakala/upc-lookup/cmd/serve"
	"github.com/tphakala/upc-lookup/internal/buildinfo"
	"github.com/tphakala/upc-lookup/internal/conf"
)

// RootCommand creates the root command. settings is filled in before any
// subcommand runs, after flags, environment and config file are merged.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           conf.AppName,
		Short:         "UPC product lookup and cache service",
		Version:       build.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := conf.Load(configFile)
			if err != nil {
				return fmt.Errorf("error loading configuration: %w", err)
			}
			*settings = *loaded
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search ./, ~/.config/upc-lookup, /etc/upc-lookup)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().String("cache-backend", "", "Cache backend: memory, redis, sqlite or mysql")
	rootCmd.PersistentFlags().String("image-dir", "", "Directory product images are stored in")

	bindFlags(rootCmd, map[string]string{
		"debug":         "debug",
		"cache-backend": "cache.backend",
		"image-dir":     "images.dir",
	})

	rootCmd.AddCommand(
		serve.Command(settings, build),
		lookup.Command(settings, build),
		batch.Command(settings, build),
		config.Command(settings),
	)

	return rootCmd
}

// bindFlags binds persistent flags to their viper keys.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
			// flag names are static; a failure is a programming error
			panic(fmt.Sprintf("error binding flag %s: %v", flag, err))
		}
	}
}
