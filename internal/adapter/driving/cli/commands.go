package cli

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/diillson/billing-datasource-go/internal/adapter/driving/httpapi"
	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/pkg/version"
)

func (app *CLIApp) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the datasource over HTTP",
		Args:  cobra.NoArgs,
		RunE:  app.runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default :5000)")
	return cmd
}

func (app *CLIApp) newFetchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <datatype>",
		Short: "Fetch one datatype and write it as a JSON array",
		Long: "Fetch runs the datasource pipeline once and writes the entities to stdout, " +
			"or to a timestamped file when --dir is given.",
		Args: cobra.ExactArgs(1),
		RunE: app.runFetch,
	}
	cmd.Flags().StringP("provider", "P", "", "Provider name (default from configuration)")
	cmd.Flags().StringP("since", "s", "", "Earliest timestamp to fetch, e.g. 2019-01-01T00:00:00Z")
	cmd.Flags().StringP("account", "a", "", "Accounts to fetch (comma-separated); default is every eligible account")
	cmd.Flags().StringP("credential", "k", "", "Upstream credential: API token, or AWS profile name")
	cmd.Flags().StringP("dir", "d", "", "Directory to save the JSON file instead of writing to stdout")
	cmd.Flags().StringP("report-name", "n", "", "Base name of the JSON file (default provider-datatype)")
	return cmd
}

func (app *CLIApp) newDatatypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "datatypes",
		Short: "List the configured providers and datatypes",
		Args:  cobra.NoArgs,
		RunE:  app.runDatatypes,
	}
}

func (app *CLIApp) runServe(cmd *cobra.Command, _ []string) error {
	displayWelcomeBanner(cmd.ErrOrStderr())
	go version.CheckLatestVersion(app.version)

	rt, err := app.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.cfg.Log.Level != logrus.DebugLevel.String() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(rt.uc, rt.cfg.Server, httpapi.NewParamSource(), rt.logger)
	server := httpapi.NewServer(rt.cfg.Server, router, rt.logger)

	app.console.LogInfo("Serving %d provider(s) on %s", len(rt.cfg.Providers), rt.cfg.Server.Addr)
	return server.Run(cmd.Context())
}

func (app *CLIApp) runFetch(cmd *cobra.Command, positional []string) error {
	rt, err := app.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	req := entity.Request{
		Provider:   rt.args.Provider,
		Datatype:   positional[0],
		Since:      rt.args.Since,
		Account:    rt.args.Account,
		Credential: entity.Credential{Token: rt.args.Credential},
	}

	if rt.args.Dir == "" {
		_, err := rt.uc.Run(cmd.Context(), req, cmd.OutOrStdout())
		return err
	}

	status := app.console.Status(fmt.Sprintf("Fetching %s...", req.Datatype))
	path, n, err := rt.uc.Export(cmd.Context(), req, rt.args.ReportName, rt.args.Dir)
	status.Stop()
	if path != "" {
		app.console.LogSuccess("Wrote %d entit(ies) to %s", n, path)
	}
	return err
}

func (app *CLIApp) runDatatypes(cmd *cobra.Command, _ []string) error {
	args, err := app.parseArgs(cmd)
	if err != nil {
		return err
	}
	cfg, err := app.loadConfig(args)
	if err != nil {
		return err
	}

	table := app.console.CreateTable()
	table.AddColumn("Provider")
	table.AddColumn("Kind")
	table.AddColumn("Datatype")
	table.AddColumn("Periods")
	table.AddColumn("Aggregate")
	for _, p := range cfg.Providers {
		for _, name := range p.DatatypeNames() {
			dt, ok := p.FetchRecipe(name)
			if !ok {
				app.console.LogWarning("%s/%s: source datatype not found", p.Name, name)
				continue
			}
			periods := "account"
			if !dt.AccountScoped {
				periods = string(dt.PeriodGranularity())
			}
			aggregate := "-"
			if dt.Aggregate != nil {
				aggregate = strings.Join(dt.Aggregate.GroupBy, ",")
			}
			table.AddRow(p.Name, p.Kind, name, periods, aggregate)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), table.Render())
	return nil
}
