package main

import (
	"fmt"

	"github.com/spf13/cobra"

	carwings "github.com/opencarwings/carwings-go"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <server>",
	Short: "Store the server address in ~/.carwings/config.toml",
	Long:  "Initialize the CLI by storing the OpenCARWINGS server address in the local configuration file.\nhttps:// is assumed when no scheme is given.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server := carwings.FormatBaseURL(args[0])

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Default.Server != "" && cfg.Default.Server != server {
			// Tokens belong to the old server.
			cfg.Auth = ConfigAuth{}
			cfg.Default.VIN = ""
		}
		cfg.Default.Server = server
		if cfg.Default.Locale == "" {
			cfg.Default.Locale = carwings.DefaultLocale
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Server %s saved to %s\n", server, path)
		return nil
	},
}
