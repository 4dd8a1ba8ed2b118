package main

import (
	"wco-resolver-go/internal/app"
	"wco-resolver-go/pkg/config"
	"wco-resolver-go/pkg/logging"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// v holds defaults, environment and bound flags for every command.
var v = config.NewViper()

var configFile string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a config file (yaml, toml or json)")

	rootCmd.PersistentFlags().StringP("base-domain", "b", "", "Site base domain, e.g. https://www.wcoflix.tv")
	lo.Must0(v.BindPFlag("base_domain", rootCmd.PersistentFlags().Lookup("base-domain")))

	rootCmd.PersistentFlags().StringP("strategy", "s", "", "Resolution strategy: http, browser or auto")
	lo.Must0(rootCmd.RegisterFlagCompletionFunc("strategy", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{config.StrategyHTTP, config.StrategyBrowser, config.StrategyAuto}, cobra.ShellCompDirectiveDefault
	}))
	lo.Must0(v.BindPFlag("strategy", rootCmd.PersistentFlags().Lookup("strategy")))

	rootCmd.PersistentFlags().String("browser", "", "Browser backend: chrome or flaresolverr")
	lo.Must0(v.BindPFlag("browser.backend", rootCmd.PersistentFlags().Lookup("browser")))

	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	lo.Must0(v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")))

	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	lo.Must0(v.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json")))

	rootCmd.PersistentFlags().Bool("auto-mirror", false, "Switch to a reachable mirror when the base domain is down")
	lo.Must0(v.BindPFlag("mirrors.auto_select", rootCmd.PersistentFlags().Lookup("auto-mirror")))
}

var rootCmd = &cobra.Command{
	Use:           "wco-resolver",
	Short:         "Resolve playable video URLs for WCO episode pages",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig reads the configuration and builds the logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogJSON, nil), nil
}

// newApp loads the configuration and wires the application.
func newApp() (*app.App, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, log)
}
