package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(maplinkCmd)
}

var maplinkCmd = &cobra.Command{
	Use:   "maplink <url>",
	Short: "Resolve a shared map link to coordinates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAuthedApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := requestContext()
		defer cancel()

		res, err := a.client.ResolveMapLink(ctx, args[0])
		if err != nil {
			return describe(err)
		}
		fmt.Printf("%s\n%.6f, %.6f\n", valueOrDefault(res.Name, "(unnamed)"), res.Lat, res.Lon)
		return nil
	},
}
