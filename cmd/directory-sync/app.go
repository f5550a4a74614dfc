package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ogurasousui/directory-sync/internal/platform/config"
	"github.com/ogurasousui/directory-sync/internal/platform/logging"
)

const defaultConfigPath = "assets/local.yaml"

type app struct {
	configPath string
	logLevel   string
	envFiles   []string

	cfg    *config.Config
	logger zerolog.Logger
}

func newApp() *app {
	return &app{logger: zerolog.Nop()}
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "directory-sync",
		Short: "Synchronize the corporate directory into the employee store",
		Long: `directory-sync reads every user from Microsoft Graph and reconciles them
into the employee store (PostgreSQL or a SharePoint list), creating lookup
entries for units and departments and linking each employee to their manager.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (defaults to CONFIG_PATH env or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides log.level)")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load before reading the config (default .env, .env.local)")

	root.AddCommand(a.runCommand(), a.serveCommand(), a.migrateCommand())
	return root
}

// setup は設定とロガーを読み込み、ロガーをコマンドのコンテキストへ格納します。
func (a *app) setup(cmd *cobra.Command) error {
	config.LoadEnvFiles(a.envFiles...)

	cfg, err := config.Load(effectiveConfigPath(a.configPath))
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
	return nil
}

func effectiveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return defaultConfigPath
}

func closeAll(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
