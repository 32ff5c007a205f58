package usecase

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/domain/repository"
	"github.com/diillson/billing-datasource-go/internal/domain/service"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// DefaultWorkers is the number of fetch units processed concurrently when
// the configuration does not say otherwise.
const DefaultWorkers = 4

// DatasourceUseCase handles the datasource pipeline: validation, account
// resolution, unit scheduling and ordered release of canonical entities.
type DatasourceUseCase struct {
	cfg        *types.Config
	sources    map[entity.ProviderKind]repository.PageSource
	exportRepo repository.ExportRepository
	policy     RetryPolicy
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewDatasourceUseCase creates a new datasource use case.
func NewDatasourceUseCase(
	cfg *types.Config,
	sources map[entity.ProviderKind]repository.PageSource,
	exportRepo repository.ExportRepository,
	logger logrus.FieldLogger,
) *DatasourceUseCase {
	return &DatasourceUseCase{
		cfg:        cfg,
		sources:    sources,
		exportRepo: exportRepo,
		policy:     RetryPolicyFromConfig(cfg.Upstream),
		logger:     logger.WithField("component", "datasource"),
		now:        time.Now,
	}
}

// WithRetryPolicy replaces the retry policy built from the configuration.
func (uc *DatasourceUseCase) WithRetryPolicy(p RetryPolicy) *DatasourceUseCase {
	uc.policy = p.withDefaults()
	return uc
}

// WithClock replaces the clock used for "now" when the request carries none.
func (uc *DatasourceUseCase) WithClock(now func() time.Time) *DatasourceUseCase {
	uc.now = now
	return uc
}

// Providers returns the configured provider catalog.
func (uc *DatasourceUseCase) Providers() []entity.Provider {
	return uc.cfg.Providers
}

// Plan is a validated request: the resolved recipe and the ordered list of
// fetch units to run.
type Plan struct {
	Provider   entity.Provider
	Datatype   entity.Datatype
	Credential entity.Credential
	Units      []entity.FetchUnit

	fetcher *PaginatedFetcher
}

// Prepare validates req and resolves its fetch units. Every error it returns
// happens before any output is produced.
func (uc *DatasourceUseCase) Prepare(ctx context.Context, req entity.Request) (*Plan, error) {
	providerName := lo.Ternary(req.Provider != "", req.Provider, uc.cfg.Defaults.Provider)
	provider, ok := uc.cfg.Provider(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownProvider, providerName)
	}
	dt, ok := provider.FetchRecipe(req.Datatype)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownDatatype, req.Datatype)
	}
	if req.Credential.IsZero() {
		return nil, types.ErrMissingCredential
	}
	since, err := service.ParseSince(req.Since, uc.cfg.Defaults.Since)
	if err != nil {
		return nil, err
	}
	source, ok := uc.sources[provider.Kind]
	if !ok {
		return nil, fmt.Errorf("no page source registered for provider kind %q", provider.Kind)
	}

	now := req.Now
	if now.IsZero() {
		now = uc.now()
	}

	fetcher := NewPaginatedFetcher(source, provider, uc.policy, uc.cfg.Upstream.RequestTimeout(), uc.logger)
	accounts, err := uc.resolveAccounts(ctx, fetcher, provider, req)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Provider:   provider,
		Datatype:   dt,
		Credential: req.Credential,
		Units:      BuildUnits(accounts, dt, since, now),
		fetcher:    fetcher,
	}
	uc.logger.WithFields(logrus.Fields{
		"provider": provider.Name,
		"datatype": dt.Name,
		"accounts": len(accounts),
		"units":    len(plan.Units),
	}).Info("request planned")
	return plan, nil
}

// BuildUnits expands accounts and the since..now range into fetch units,
// account by account, periods in calendar order.
func BuildUnits(accounts []string, dt entity.Datatype, since, now time.Time) []entity.FetchUnit {
	var periods []entity.BillingPeriod
	if dt.AccountScoped {
		if !since.After(now) {
			periods = []entity.BillingPeriod{service.Span(since, now)}
		}
	} else {
		periods = service.Periods(since, now, dt.PeriodGranularity())
	}

	units := make([]entity.FetchUnit, 0, len(accounts)*len(periods))
	for _, account := range accounts {
		for _, p := range periods {
			units = append(units, entity.FetchUnit{Account: account, Period: p, Datatype: dt})
		}
	}
	return units
}

func (uc *DatasourceUseCase) resolveAccounts(ctx context.Context, fetcher *PaginatedFetcher, provider entity.Provider, req entity.Request) ([]string, error) {
	if req.Account != "" {
		selected := lo.Uniq(lo.Compact(lo.Map(strings.Split(req.Account, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		})))
		if len(selected) > 0 {
			return selected, nil
		}
	}

	// Only SDK sources can list accounts without a configured lookup path.
	if provider.Kind != entity.ProviderKindAWS && provider.Accounts.Path == "" {
		return nil, types.ErrMissingAccount
	}

	listed, err := fetcher.ListAccounts(ctx, req.Credential)
	if err != nil {
		return nil, err
	}
	ids := lo.Uniq(lo.Compact(lo.Map(listed, func(a entity.Account, _ int) string { return a.ID })))
	if len(ids) == 0 {
		return nil, types.ErrNoAccounts
	}
	return ids, nil
}

// Stream runs the units of plan on a bounded worker pool and yields their
// entities in unit order. A unit is released only once it has completed, so
// no partial unit ever reaches the consumer. The first failure cancels the
// remaining units and is yielded as the final element.
func (uc *DatasourceUseCase) Stream(ctx context.Context, plan *Plan) iter.Seq2[entity.Entity, error] {
	return func(yield func(entity.Entity, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		results := make([]chan []entity.Entity, len(plan.Units))
		for i := range results {
			results[i] = make(chan []entity.Entity, 1)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(uc.workers())
		waitErr := make(chan error, 1)
		go func() {
			for i, unit := range plan.Units {
				g.Go(func() error {
					defer close(results[i])
					if err := gctx.Err(); err != nil {
						return err
					}
					entities, err := uc.runUnit(gctx, plan, unit)
					if err != nil {
						return err
					}
					results[i] <- entities
					return nil
				})
			}
			waitErr <- g.Wait()
		}()

		labels := prometheusLabels(plan.Provider.Name, plan.Datatype.Name)
		for i := range results {
			entities, ok := <-results[i]
			if !ok {
				cancel()
				err := <-waitErr
				if err == nil {
					err = ctx.Err()
				}
				if err != nil {
					yield(entity.Entity{}, err)
				}
				return
			}
			for _, e := range entities {
				if !yield(e, nil) {
					return
				}
				entitiesEmittedCounter.With(labels).Inc()
			}
		}
		if err := <-waitErr; err != nil {
			yield(entity.Entity{}, err)
		}
	}
}

func (uc *DatasourceUseCase) runUnit(ctx context.Context, plan *Plan, unit entity.FetchUnit) ([]entity.Entity, error) {
	start := time.Now()
	labels := prometheusLabels(plan.Provider.Name, unit.Datatype.Name)
	logger := uc.logger.WithFields(logrus.Fields{
		"account":  unit.Account,
		"period":   unit.Label(),
		"datatype": unit.Datatype.Name,
	})

	entities, err := uc.processUnit(ctx, plan, unit)
	unitDurationHistogram.With(labels).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			unitsFailedCounter.With(labels).Inc()
			logger.WithError(err).Error("fetch unit failed")
		}
		return nil, err
	}
	logger.Debugf("unit completed with %d entit(ies) in %s", len(entities), time.Since(start))
	return entities, nil
}

func (uc *DatasourceUseCase) processUnit(ctx context.Context, plan *Plan, unit entity.FetchUnit) ([]entity.Entity, error) {
	rows, err := plan.fetcher.Fetch(ctx, plan.Credential, unit)
	if err != nil {
		return nil, err
	}

	rc := service.ContextFor(unit, plan.Provider.BaseURL)
	entities := make([]entity.Entity, 0, len(rows))
	for n, raw := range rows {
		e, err := service.Normalize(raw, rc)
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", unit, n, err)
		}
		entities = append(entities, e)
	}

	if unit.Datatype.Aggregate == nil {
		return entities, nil
	}
	return service.Aggregate(entities, *unit.Datatype.Aggregate, rc)
}

func (uc *DatasourceUseCase) workers() int {
	if uc.cfg.Upstream.Workers > 0 {
		return uc.cfg.Upstream.Workers
	}
	return DefaultWorkers
}

// WriteJSON streams the entities of plan to w as a JSON array.
func (uc *DatasourceUseCase) WriteJSON(ctx context.Context, plan *Plan, w io.Writer) (int, error) {
	return uc.exportRepo.Encode(w, uc.Stream(ctx, plan))
}

// Run prepares req and streams its entities to w as a JSON array.
func (uc *DatasourceUseCase) Run(ctx context.Context, req entity.Request, w io.Writer) (int, error) {
	plan, err := uc.Prepare(ctx, req)
	if err != nil {
		return 0, err
	}
	return uc.WriteJSON(ctx, plan, w)
}

// Export prepares req and writes its entities to a timestamped JSON file in
// outputDir, returning the file path.
func (uc *DatasourceUseCase) Export(ctx context.Context, req entity.Request, reportName, outputDir string) (string, int, error) {
	plan, err := uc.Prepare(ctx, req)
	if err != nil {
		return "", 0, err
	}
	name := lo.Ternary(reportName != "", reportName, plan.Provider.Name+"-"+plan.Datatype.Name)
	return uc.exportRepo.ExportToJSON(uc.Stream(ctx, plan), name, outputDir)
}
