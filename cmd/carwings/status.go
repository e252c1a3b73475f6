package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the effective configuration, check whether the access token expired, and reach the server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		cfg := a.store.Config()

		fmt.Println("Configuration:")
		fmt.Printf("  Server:   %s\n", a.client.BaseURL())
		fmt.Printf("  Push:     %s\n", a.client.PushURL())
		fmt.Printf("  Locale:   %s\n", current.Locale)
		fmt.Printf("  VIN:      %s\n", valueOrDefault(current.VIN, "(first vehicle)"))

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  Username: %s\n", valueOrDefault(cfg.Auth.Username, "(not logged in)"))

		cred := a.store.Credential()
		tokenStatus := "none"
		if cred.AccessToken != "" {
			if exp, ok := cred.AccessExpiry(); ok {
				if time.Now().Before(exp) {
					tokenStatus = fmt.Sprintf("valid (expires %s)", exp.Format(time.RFC3339))
				} else {
					tokenStatus = fmt.Sprintf("EXPIRED (expired %s, refreshed on next call)", exp.Format(time.RFC3339))
				}
			} else {
				tokenStatus = "present (no expiry)"
			}
		}
		fmt.Printf("  Token:    %s\n", tokenStatus)
		if cred.Empty() {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		ctx, cancel := requestContext()
		defer cancel()

		cars, err := a.client.Cars(ctx)
		if err != nil {
			fmt.Printf("  Error: %v\n", describe(err))
			return nil
		}
		fmt.Printf("  Vehicles: %d\n", len(cars))
		for _, c := range cars {
			fmt.Printf("    %s  %s\n", c.VIN, c.Nickname)
		}
		return nil
	},
}
