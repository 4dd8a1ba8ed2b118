package main

import (
	"fmt"

	"wco-resolver-go/pkg/mirrors"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(mirrorsCmd)

	mirrorsCmd.Flags().BoolP("all", "a", false, "Include mirrors that are down")
}

var mirrorsCmd = &cobra.Command{
	Use:   "mirrors",
	Short: "List the site mirrors reported by the status service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Shutdown()

		all, err := a.Ctx.Mirrors.Fetch(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if lo.Must(cmd.Flags().GetBool("all")) {
			for _, m := range all {
				fmt.Fprintf(out, "%d\t%s\n", m.Status, m.Domain)
			}
			return nil
		}
		for _, domain := range mirrors.Reachable(all) {
			fmt.Fprintln(out, domain)
		}
		return nil
	},
}
