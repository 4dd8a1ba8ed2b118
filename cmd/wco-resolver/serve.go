package main

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on")
	lo.Must0(v.BindPFlag("port", serveCmd.Flags().Lookup("port")))

	serveCmd.Flags().String("api-password", "", "Password required for non-public endpoints")
	lo.Must0(v.BindPFlag("api_password", serveCmd.Flags().Lookup("api-password")))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Shutdown()

		return a.Run()
	},
}
