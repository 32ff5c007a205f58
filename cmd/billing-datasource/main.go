package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/diillson/billing-datasource-go/internal/adapter/driven/aws"
	"github.com/diillson/billing-datasource-go/internal/adapter/driven/config"
	"github.com/diillson/billing-datasource-go/internal/adapter/driven/consumption"
	"github.com/diillson/billing-datasource-go/internal/adapter/driven/export"
	"github.com/diillson/billing-datasource-go/internal/adapter/driving/cli"
	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/domain/repository"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
	"github.com/diillson/billing-datasource-go/pkg/console"
	"github.com/diillson/billing-datasource-go/pkg/version"
)

func main() {
	// Inicializa os repositórios
	configRepo := config.NewConfigRepository()
	exportRepo := export.NewExportRepository()
	consoleImpl := console.NewConsole()

	sources := func(cfg *types.Config, logger logrus.FieldLogger) map[entity.ProviderKind]repository.PageSource {
		return map[entity.ProviderKind]repository.PageSource{
			entity.ProviderKindHTTP: consumption.NewHTTPSource(cfg.Upstream.RequestTimeout(), logger),
			entity.ProviderKindAWS:  aws.NewAWSRepository(),
		}
	}

	app := cli.NewCLIApp(version.Version, configRepo, exportRepo, sources, consoleImpl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Execute(ctx); err != nil {
		consoleImpl.LogError("%v", err)
		stop()
		os.Exit(1)
	}
}
