package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/domain/repository"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// PaginatedFetcher retrieves every page of a fetch unit from one provider,
// retrying each request under its RetryPolicy.
type PaginatedFetcher struct {
	source   repository.PageSource
	provider entity.Provider
	policy   RetryPolicy
	timeout  time.Duration
	logger   logrus.FieldLogger
}

// NewPaginatedFetcher creates a fetcher for provider. A zero timeout leaves
// attempts bounded only by ctx.
func NewPaginatedFetcher(
	source repository.PageSource,
	provider entity.Provider,
	policy RetryPolicy,
	timeout time.Duration,
	logger logrus.FieldLogger,
) *PaginatedFetcher {
	return &PaginatedFetcher{
		source:   source,
		provider: provider,
		policy:   policy.withDefaults(),
		timeout:  timeout,
		logger:   logger.WithField("component", "fetcher"),
	}
}

// Fetch returns the rows of every page of unit, in page order. Pages are
// requested one after the other, each with the cursor of the previous one.
func (f *PaginatedFetcher) Fetch(ctx context.Context, cred entity.Credential, unit entity.FetchUnit) ([]json.RawMessage, error) {
	logger := f.logger.WithFields(logrus.Fields{
		"account":  unit.Account,
		"period":   unit.Label(),
		"datatype": unit.Datatype.Name,
	})
	labels := prometheusLabels(f.provider.Name, unit.Datatype.Name)

	var rows []json.RawMessage
	cursor := ""
	for pageNum := 1; ; pageNum++ {
		var page entity.Page
		attempts, err := f.policy.Do(ctx, func(ctx context.Context) error {
			attemptCtx, cancel := f.attemptContext(ctx)
			defer cancel()
			p, err := f.source.FetchPage(attemptCtx, f.provider, cred, unit, cursor)
			if err != nil {
				return err
			}
			page = p
			return nil
		}, func(attempt int, err error, wait time.Duration) {
			requestRetriesCounter.With(labels).Inc()
			logger.WithError(err).Warnf("page %d attempt %d/%d failed, retrying in %s", pageNum, attempt, f.policy.MaxAttempts, wait)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, &types.TerminalFetchError{
				Unit:     unit.String(),
				Endpoint: endpointOf(err, unit.Datatype.Path),
				Attempts: attempts,
				Err:      err,
			}
		}

		pagesFetchedCounter.With(labels).Inc()
		logger.Debugf("page %d: %d row(s) from %s", pageNum, len(page.Rows), page.Endpoint)
		rows = append(rows, page.Rows...)
		if page.Cursor == "" {
			return rows, nil
		}
		if page.Cursor == cursor {
			return nil, &types.TerminalFetchError{
				Unit:     unit.String(),
				Endpoint: page.Endpoint,
				Attempts: attempts,
				Err:      errors.New("upstream returned the same cursor twice"),
			}
		}
		cursor = page.Cursor
	}
}

// ListAccounts runs the provider's account lookup under the same retry
// policy as page requests.
func (f *PaginatedFetcher) ListAccounts(ctx context.Context, cred entity.Credential) ([]entity.Account, error) {
	var accounts []entity.Account
	attempts, err := f.policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := f.attemptContext(ctx)
		defer cancel()
		list, err := f.source.ListAccounts(attemptCtx, f.provider, cred)
		if err != nil {
			return err
		}
		accounts = list
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		requestRetriesCounter.With(prometheusLabels(f.provider.Name, "accounts")).Inc()
		f.logger.WithError(err).Warnf("account lookup attempt %d/%d failed, retrying in %s", attempt, f.policy.MaxAttempts, wait)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &types.TerminalFetchError{
			Unit:     "accounts provider=" + f.provider.Name,
			Endpoint: endpointOf(err, f.provider.Accounts.Path),
			Attempts: attempts,
			Err:      err,
		}
	}
	return accounts, nil
}

func (f *PaginatedFetcher) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}

func endpointOf(err error, fallback string) string {
	var transient *types.TransientError
	if errors.As(err, &transient) && transient.Endpoint != "" {
		return transient.Endpoint
	}
	return fallback
}

func prometheusLabels(provider, datatype string) prometheus.Labels {
	return prometheus.Labels{"provider": provider, "datatype": datatype}
}
