package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"wristrelay/internal/app"
	"wristrelay/internal/storage"
	logx "wristrelay/pkg/logx"
)

func historyCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recorded notification history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := parseConfig()
			if err != nil {
				return err
			}
			sc, enabled, err := app.StorageConfig(cfg)
			if err != nil {
				return err
			}
			if !enabled {
				return storage.ErrDisabled
			}
			store, err := storage.Open(sc, logx.Nop())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.ListHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				_, err := fmt.Fprintln(out, "no history")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tAPP\tTITLE\tTEXT")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.App, e.Title, oneLine(e.Text, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func oneLine(s string, width int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return string(r)
}
