package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/diillson/billing-datasource-go/internal/adapter/driven/config"
	"github.com/diillson/billing-datasource-go/internal/application/usecase"
	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/domain/repository"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
	"github.com/diillson/billing-datasource-go/pkg/logging"
	"github.com/diillson/billing-datasource-go/pkg/version"
)

// SourceFactory builds the page sources once the configuration is known.
type SourceFactory func(cfg *types.Config, logger logrus.FieldLogger) map[entity.ProviderKind]repository.PageSource

// CLIApp represents the command-line interface application.
type CLIApp struct {
	rootCmd    *cobra.Command
	version    string
	configRepo repository.ConfigRepository
	exportRepo repository.ExportRepository
	sources    SourceFactory
	console    types.ConsoleInterface
}

// NewCLIApp cria uma nova aplicação CLI.
func NewCLIApp(
	versionStr string,
	configRepo repository.ConfigRepository,
	exportRepo repository.ExportRepository,
	sources SourceFactory,
	console types.ConsoleInterface,
) *CLIApp {
	app := &CLIApp{
		version:    versionStr,
		configRepo: configRepo,
		exportRepo: exportRepo,
		sources:    sources,
		console:    console,
	}

	rootCmd := &cobra.Command{
		Use:           "billing-datasource",
		Short:         "Cloud billing datasource: streams canonical billing entities as JSON",
		Version:       version.FormatVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := loadEnvFile(envFile); err != nil {
				return fmt.Errorf("loading env file: %w", err)
			}
			return SetFlagsFromEnv(cmd.Flags(), EnvPrefix)
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "Billing Datasource version: %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringP("config-file", "C", "", "Path to a TOML, YAML, or JSON configuration file")
	rootCmd.PersistentFlags().String("env-file", "", "Path to a .env file (default: ./.env when present)")
	rootCmd.PersistentFlags().Int("workers", 0, "Number of fetch units processed concurrently")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file, rotated")

	rootCmd.AddCommand(app.newServeCommand(), app.newFetchCommand(), app.newDatatypesCommand())

	app.rootCmd = rootCmd
	return app
}

// Execute runs the CLI application.
func (app *CLIApp) Execute(ctx context.Context) error {
	return app.rootCmd.ExecuteContext(ctx)
}

// parseArgs parses command-line arguments into a CLIArgs struct.
func (app *CLIApp) parseArgs(cmd *cobra.Command) (*types.CLIArgs, error) {
	flags := cmd.Flags()
	getString := func(name string) string {
		if flags.Lookup(name) == nil {
			return ""
		}
		v, _ := flags.GetString(name)
		return v
	}

	workers, _ := flags.GetInt("workers")
	args := &types.CLIArgs{
		ConfigFile: getString("config-file"),
		EnvFile:    getString("env-file"),
		Provider:   getString("provider"),
		Since:      getString("since"),
		Account:    getString("account"),
		Credential: getString("credential"),
		Dir:        getString("dir"),
		ReportName: getString("report-name"),
		Addr:       getString("addr"),
		Workers:    workers,
		LogLevel:   getString("log-level"),
		LogFormat:  getString("log-format"),
		LogFile:    getString("log-file"),
	}

	if args.Dir != "" {
		absDir, err := filepath.Abs(args.Dir)
		if err != nil {
			return nil, err
		}
		args.Dir = absDir
	}
	return args, nil
}

// loadConfig applies, in order, the built-in defaults, the config file and
// the command-line overrides.
func (app *CLIApp) loadConfig(args *types.CLIArgs) (*types.Config, error) {
	cfg := config.DefaultConfig()
	if args.ConfigFile != "" {
		fileCfg, err := app.configRepo.LoadConfigFile(args.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = config.Merge(cfg, fileCfg)
	}

	cfg = config.Merge(cfg, &types.Config{
		Server:   types.ServerConfig{Addr: args.Addr},
		Upstream: types.UpstreamConfig{Workers: args.Workers},
		Log:      types.LogConfig{Level: args.LogLevel, Format: args.LogFormat, File: args.LogFile},
	})
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runtime is what a command needs once flags and configuration are resolved.
type runtime struct {
	args    *types.CLIArgs
	cfg     *types.Config
	logger  logrus.FieldLogger
	uc      *usecase.DatasourceUseCase
	closeFn func() error
}

func (rt *runtime) close() {
	if err := rt.closeFn(); err != nil {
		rt.logger.WithError(err).Warn("closing log file")
	}
}

// setup loads the configuration and builds the logger and the use case.
func (app *CLIApp) setup(cmd *cobra.Command) (*runtime, error) {
	args, err := app.parseArgs(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := app.loadConfig(args)
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{"app": "billing-datasource", "version": app.version}
	logger, closer, err := logging.Setup(cfg.Log, fields)
	if err != nil {
		return nil, err
	}

	return &runtime{
		args:    args,
		cfg:     cfg,
		logger:  logger,
		uc:      usecase.NewDatasourceUseCase(cfg, app.sources(cfg, logger), app.exportRepo, logger),
		closeFn: closer.Close,
	}, nil
}
