package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"wristrelay/internal/config"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := parseConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (transport %s, %d app overrides)\n",
				cfgPath, config.TransportDriver(cfg), len(cfg.Relay.Apps))
			return nil
		},
	}
}
