package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

type fakeSource struct {
	mu       sync.Mutex
	requests int
	accounts []entity.Account
	page     func(unit entity.FetchUnit, cursor string) (entity.Page, error)
}

func (s *fakeSource) ListAccounts(ctx context.Context, provider entity.Provider, cred entity.Credential) ([]entity.Account, error) {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	return s.accounts, nil
}

func (s *fakeSource) FetchPage(ctx context.Context, provider entity.Provider, cred entity.Credential, unit entity.FetchUnit, cursor string) (entity.Page, error) {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return entity.Page{}, err
	}
	return s.page(unit, cursor)
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func testUnit() entity.FetchUnit {
	return entity.FetchUnit{
		Account: "100",
		Period: entity.BillingPeriod{
			Start:       time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:         time.Date(2019, time.February, 1, 0, 0, 0, 0, time.UTC),
			Granularity: entity.GranularityMonthly,
		},
		Datatype: entity.Datatype{Name: "usagedetails", Path: "usagedetails"},
	}
}

func rowsOf(values ...int) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		out = append(out, json.RawMessage(fmt.Sprintf(`{"n":%d}`, v)))
	}
	return out
}

func TestFetchConcatenatesPagesInOrder(t *testing.T) {
	source := &fakeSource{page: func(_ entity.FetchUnit, cursor string) (entity.Page, error) {
		switch cursor {
		case "":
			return entity.Page{Rows: rowsOf(1, 2), Cursor: "p2"}, nil
		case "p2":
			return entity.Page{Rows: rowsOf(3), Cursor: "p3"}, nil
		case "p3":
			return entity.Page{Rows: rowsOf(4, 5)}, nil
		}
		return entity.Page{}, fmt.Errorf("unexpected cursor %q", cursor)
	}}
	f := NewPaginatedFetcher(source, entity.Provider{Name: "test"}, fastPolicy(3), time.Second, quietLogger())

	rows, err := f.Fetch(context.Background(), entity.Credential{Token: "t"}, testUnit())
	require.NoError(t, err)
	assert.Equal(t, rowsOf(1, 2, 3, 4, 5), rows)
	assert.Equal(t, 3, source.count())
}

func TestFetchEmptyPageIsSuccess(t *testing.T) {
	source := &fakeSource{page: func(entity.FetchUnit, string) (entity.Page, error) {
		return entity.Page{}, nil
	}}
	f := NewPaginatedFetcher(source, entity.Provider{Name: "test"}, fastPolicy(3), time.Second, quietLogger())

	rows, err := f.Fetch(context.Background(), entity.Credential{Token: "t"}, testUnit())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 1, source.count())
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	source := &fakeSource{page: func(entity.FetchUnit, string) (entity.Page, error) {
		return entity.Page{}, &types.TransientError{Endpoint: "https://upstream/usagedetails", StatusCode: 503}
	}}
	f := NewPaginatedFetcher(source, entity.Provider{Name: "test"}, fastPolicy(4), time.Second, quietLogger())

	_, err := f.Fetch(context.Background(), entity.Credential{Token: "t"}, testUnit())
	require.Error(t, err)
	assert.Equal(t, 4, source.count())

	var terminal *types.TerminalFetchError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, 4, terminal.Attempts)
	assert.Equal(t, "https://upstream/usagedetails", terminal.Endpoint)
	assert.Contains(t, terminal.Unit, "account=100")
	assert.Contains(t, terminal.Unit, "period=201901")
	assert.Contains(t, terminal.Unit, "datatype=usagedetails")
}

func TestFetchRecoversFromTransientFailures(t *testing.T) {
	failures := 2
	source := &fakeSource{}
	source.page = func(entity.FetchUnit, string) (entity.Page, error) {
		if source.requests <= failures {
			return entity.Page{}, &types.TransientError{Endpoint: "e", Reason: "missing envelope"}
		}
		return entity.Page{Rows: rowsOf(7)}, nil
	}
	f := NewPaginatedFetcher(source, entity.Provider{Name: "test"}, fastPolicy(5), time.Second, quietLogger())

	rows, err := f.Fetch(context.Background(), entity.Credential{Token: "t"}, testUnit())
	require.NoError(t, err)
	assert.Equal(t, rowsOf(7), rows)
	assert.Equal(t, 3, source.count())
}

func TestFetchDoesNotRetryPermanentErrors(t *testing.T) {
	source := &fakeSource{page: func(entity.FetchUnit, string) (entity.Page, error) {
		return entity.Page{}, errors.New("bad request template")
	}}
	f := NewPaginatedFetcher(source, entity.Provider{Name: "test"}, fastPolicy(5), time.Second, quietLogger())

	_, err := f.Fetch(context.Background(), entity.Credential{Token: "t"}, testUnit())
	var terminal *types.TerminalFetchError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, 1, terminal.Attempts)
	assert.Equal(t, 1, source.count())
}

func TestFetchStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{page: func(entity.FetchUnit, string) (entity.Page, error) {
		cancel()
		return entity.Page{}, &types.TransientError{Endpoint: "e"}
	}}
	f := NewPaginatedFetcher(source, entity.Provider{Name: "test"}, fastPolicy(10), time.Second, quietLogger())

	_, err := f.Fetch(ctx, entity.Credential{Token: "t"}, testUnit())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, source.count())
}

func TestFetchRetriesAttemptTimeouts(t *testing.T) {
	source := &fakeSource{}
	source.page = func(entity.FetchUnit, string) (entity.Page, error) {
		if source.requests == 1 {
			return entity.Page{}, context.DeadlineExceeded
		}
		return entity.Page{Rows: rowsOf(1)}, nil
	}
	f := NewPaginatedFetcher(source, entity.Provider{Name: "test"}, fastPolicy(3), time.Second, quietLogger())

	rows, err := f.Fetch(context.Background(), entity.Credential{Token: "t"}, testUnit())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFetchRejectsRepeatedCursor(t *testing.T) {
	source := &fakeSource{page: func(entity.FetchUnit, string) (entity.Page, error) {
		return entity.Page{Rows: rowsOf(1), Cursor: "same"}, nil
	}}
	f := NewPaginatedFetcher(source, entity.Provider{Name: "test"}, fastPolicy(3), time.Second, quietLogger())

	_, err := f.Fetch(context.Background(), entity.Credential{Token: "t"}, testUnit())
	var terminal *types.TerminalFetchError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, 2, source.count())
}

func TestListAccountsUsesRetryPolicy(t *testing.T) {
	source := &fakeSource{accounts: []entity.Account{{ID: "1"}, {ID: "2"}}}
	f := NewPaginatedFetcher(source, entity.Provider{Name: "test"}, fastPolicy(3), time.Second, quietLogger())

	accounts, err := f.ListAccounts(context.Background(), entity.Credential{Token: "t"})
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	got := make([]time.Duration, 0, 6)
	for n := 1; n <= 6; n++ {
		got = append(got, p.Backoff(n))
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}, got)
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := RetryPolicyFromConfig(types.UpstreamConfig{})
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultBackoffMultiplier, p.Multiplier)
	assert.True(t, IsRetryable(&types.TransientError{}))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(errors.New("HTTP 400")))
}
