package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  "View or modify the configuration stored in ~/.carwings/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings and the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Effective settings:")
		fmt.Printf("  Server: %s\n", current.Server)
		fmt.Printf("  Locale: %s\n", current.Locale)
		fmt.Printf("  VIN:    %s\n", valueOrDefault(current.VIN, "(first vehicle)"))
		fmt.Println()

		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := readConfig(path)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("No configuration file found. Run 'carwings init <server>' to create one.")
			return nil
		}
		// Tokens are masked; the file itself is 0600.
		cfg.Auth.AccessToken = maskToken(cfg.Auth.AccessToken)
		cfg.Auth.RefreshToken = maskToken(cfg.Auth.RefreshToken)
		fmt.Printf("%s:\n", path)
		return printTOML(cfg)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: carwings config set default.vin SJNFAAZE0U1234567",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

// maskToken shows the first and last 6 characters of a token.
func maskToken(tok string) string {
	if tok == "" {
		return ""
	}
	if len(tok) <= 16 {
		return "***"
	}
	return tok[:6] + "..." + tok[len(tok)-6:]
}
