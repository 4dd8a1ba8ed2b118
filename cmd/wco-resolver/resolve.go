package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"wco-resolver-go/pkg/resolver"
	"wco-resolver-go/pkg/types"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().BoolP("json", "j", false, "Print the qualities as JSON")
	resolveCmd.Flags().BoolP("best", "1", false, "Print only the best quality URL")
	resolveCmd.MarkFlagsMutuallyExclusive("json", "best")
}

var resolveCmd = &cobra.Command{
	Use:     "resolve <episode-url>",
	Short:   "Resolve the video qualities of an episode page",
	Example: "  wco-resolver resolve /naruto-shippuden-episode-1-english-dubbed\n  wco-resolver resolve https://www.wcoflix.tv/some-episode --json",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Shutdown()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		qualities, err := a.Resolve(ctx, types.EpisodeRef{PageURL: args[0]})
		if err != nil {
			return errors.New(resolver.UserMessage(err))
		}

		out := cmd.OutOrStdout()
		switch {
		case lo.Must(cmd.Flags().GetBool("json")):
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(qualities)
		case lo.Must(cmd.Flags().GetBool("best")):
			_, err := fmt.Fprintln(out, qualities[0].URL)
			return err
		default:
			return printQualities(out, qualities)
		}
	},
}

// printQualities writes one tab separated line per quality: label, URL and
// the headers the URL must be requested with.
func printQualities(w io.Writer, qualities []types.VideoQuality) error {
	for _, q := range qualities {
		headers := lo.MapToSlice(q.Headers, func(k, v string) string { return k + ": " + v })
		slices.Sort(headers)
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", q.Label, q.URL, strings.Join(headers, "; ")); err != nil {
			return err
		}
	}
	return nil
}
