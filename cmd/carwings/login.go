package main

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	carwings "github.com/opencarwings/carwings-go"
)

const cliVersion = "0.3.0"

var (
	loginPassword string
	loginPushKey  string
)

func init() {
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (read from stdin when omitted)")
	loginCmd.Flags().StringVar(&loginPushKey, "push-key", "", "Push notification key to register with the token")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the tokens locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		password := loginPassword
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := requestContext()
		defer cancel()

		_, err = a.client.Login(ctx, &carwings.LoginOptions{
			Username:            username,
			Password:            password,
			DeviceOS:            runtime.GOOS,
			DeviceType:          "cli",
			AppVersion:          cliVersion,
			PushNotificationKey: loginPushKey,
		})
		if err != nil {
			return describe(err)
		}

		if err := a.store.Update(func(cfg *Config) {
			cfg.Auth.Username = username
			cfg.Default.Server = a.client.BaseURL()
		}); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in to %s as %s\n", a.client.BaseURL(), username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the refresh token and forget the local tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := requestContext()
		defer cancel()

		err = a.client.SignOut(ctx)
		if uerr := a.store.Update(func(cfg *Config) { cfg.Auth.Username = "" }); uerr != nil {
			return fmt.Errorf("failed to save config: %w", uerr)
		}
		if err != nil {
			// Local tokens are gone either way.
			fmt.Fprintf(os.Stderr, "Server sign-out failed: %v\n", describe(err))
		}
		fmt.Println("Logged out.")
		return nil
	},
}
