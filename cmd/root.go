package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/uterm/internal/config"
	"github.com/bnema/uterm/internal/logger"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configPath string

	rootCmd = &cobra.Command{
		Use:   "uterm",
		Short: "Uterm - user-space virtual terminal toolkit",
		Long: `Uterm manages switchable terminal sessions without the in-kernel VT
subsystem. It multiplexes physical input devices into one keyboard
stream, emulates the kernel's VT switch protocol, and tracks seat and
device hotplug.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				config.SetConfigPath(configPath)
			}
			if err := config.Init(); err != nil {
				return err
			}
			if lvl := config.Get().Logging.LogLevel; lvl != "" {
				logger.SetLevel(lvl)
			}
			return nil
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(inputCmd)
	rootCmd.AddCommand(vtCmd)
}
