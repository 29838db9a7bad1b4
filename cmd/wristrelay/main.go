// wristrelay forwards phone notifications to a smartwatch.
//
// Usage:
//
//	wristrelay run --config ./config.yaml
//	wristrelay check --config ./config.yaml
//	wristrelay history --limit 20
//	wristrelay send --app com.chat --title Alice --text "lunch?"
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wristrelay/internal/config"
)

var (
	version  = "dev"
	cfgPath  string
	envFiles []string
)

func main() {
	root := &cobra.Command{
		Use:     "wristrelay",
		Short:   "Relay phone notifications to a smartwatch",
		Version: version,
		// Usage is noise on runtime errors; flag errors still print it.
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment is read")

	root.AddCommand(runCmd(), checkCmd(), historyCmd(), sendCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadEnv() (config.EnvOverrides, error) {
	env, err := config.LoadEnv(envFiles...)
	if err != nil {
		return config.EnvOverrides{}, fmt.Errorf("environment: %w", err)
	}
	return env, nil
}

// parseConfig reads and validates the config without starting anything.
func parseConfig() (*config.Config, error) {
	env, err := loadEnv()
	if err != nil {
		return nil, err
	}
	m := config.NewManager(cfgPath)
	m.SetEnv(env)
	cfg, err := m.Parse()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, nil
}
