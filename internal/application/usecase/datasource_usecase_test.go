package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/domain/repository"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

func testConfig(workers int) *types.Config {
	return &types.Config{
		Upstream: types.UpstreamConfig{
			RequestTimeoutSeconds: 5,
			MaxAttempts:           2,
			InitialBackoffMillis:  1,
			MaxBackoffMillis:      2,
			BackoffMultiplier:     2,
			Workers:               workers,
		},
		Defaults: types.DefaultsConfig{Provider: "test", Since: "2019-01-01T00:00:00Z"},
		Providers: []entity.Provider{{
			Name:     "test",
			Kind:     entity.ProviderKindHTTP,
			Accounts: entity.AccountsSpec{Path: "accounts", IDField: "id"},
			Datatypes: []entity.Datatype{
				{Name: "usage", Path: "usage/{period}", IDFields: []string{"id"}},
				{Name: "periods", Path: "periods", AccountScoped: true, IDFields: []string{"id"}, IDWithAccount: true},
				{
					Name:   "summary",
					Source: "usage",
					Aggregate: &entity.AggregateSpec{
						GroupBy:  []string{"group"},
						FoldCase: "group",
						Measures: []entity.Measure{{Field: "cost", Reducer: entity.ReducerSum}},
					},
				},
			},
		}},
	}
}

func newTestUseCase(cfg *types.Config, source repository.PageSource) *DatasourceUseCase {
	uc := NewDatasourceUseCase(cfg, map[entity.ProviderKind]repository.PageSource{entity.ProviderKindHTTP: source}, nil, quietLogger())
	return uc.WithClock(func() time.Time { return time.Date(2019, time.April, 10, 0, 0, 0, 0, time.UTC) })
}

func collect(seq func(func(entity.Entity, error) bool)) ([]entity.Entity, error) {
	var out []entity.Entity
	for e, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

func periodSource(delay func(unit entity.FetchUnit) time.Duration) *fakeSource {
	return &fakeSource{page: func(unit entity.FetchUnit, _ string) (entity.Page, error) {
		if delay != nil {
			time.Sleep(delay(unit))
		}
		label := unit.Label()
		return entity.Page{Rows: []json.RawMessage{
			json.RawMessage(fmt.Sprintf(`{"id":"a-%s","group":"G","cost":1.5}`, label)),
			json.RawMessage(fmt.Sprintf(`{"id":"b-%s","group":"g","cost":2}`, label)),
		}}, nil
	}}
}

func request(datatype string) entity.Request {
	return entity.Request{Datatype: datatype, Account: "100", Credential: entity.Credential{Token: "t"}}
}

func TestStreamReleasesUnitsInOrder(t *testing.T) {
	// Earlier periods finish last.
	source := periodSource(func(unit entity.FetchUnit) time.Duration {
		return time.Duration(5-int(unit.Period.Start.Month())) * 5 * time.Millisecond
	})
	uc := newTestUseCase(testConfig(4), source)

	plan, err := uc.Prepare(context.Background(), request("usage"))
	require.NoError(t, err)
	require.Len(t, plan.Units, 4)

	entities, err := collect(uc.Stream(context.Background(), plan))
	require.NoError(t, err)

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{
		"a-201901-201901", "b-201901-201901",
		"a-201902-201902", "b-201902-201902",
		"a-201903-201903", "b-201903-201903",
		"a-201904-201904", "b-201904-201904",
	}, ids)
}

func TestStreamStopsAtFirstFailedUnit(t *testing.T) {
	source := &fakeSource{page: func(unit entity.FetchUnit, _ string) (entity.Page, error) {
		if unit.Period.Start.Month() == time.February {
			return entity.Page{}, &types.TransientError{Endpoint: "usage/201902", StatusCode: 500}
		}
		return entity.Page{Rows: []json.RawMessage{json.RawMessage(`{"id":"x"}`)}}, nil
	}}
	uc := newTestUseCase(testConfig(1), source)

	plan, err := uc.Prepare(context.Background(), request("usage"))
	require.NoError(t, err)

	entities, err := collect(uc.Stream(context.Background(), plan))
	require.Error(t, err)
	assert.Len(t, entities, 1, "only the unit before the failure is released")

	var terminal *types.TerminalFetchError
	require.ErrorAs(t, err, &terminal)
	assert.Contains(t, terminal.Unit, "period=201902")
	assert.Equal(t, 2, terminal.Attempts)
}

func TestStreamAggregatesPerUnit(t *testing.T) {
	uc := newTestUseCase(testConfig(2), periodSource(nil))

	plan, err := uc.Prepare(context.Background(), entity.Request{
		Datatype:   "summary",
		Since:      "2019-03-01",
		Account:    "100",
		Credential: entity.Credential{Token: "t"},
	})
	require.NoError(t, err)
	assert.Equal(t, "usage/{period}", plan.Datatype.Path)

	entities, err := collect(uc.Stream(context.Background(), plan))
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "g-201903", entities[0].ID)
	assert.Equal(t, "3.5", gjson.GetBytes(entities[0].Body, "cost").Raw)
	assert.Equal(t, "g-201904", entities[1].ID)
}

func TestStreamAccountScopedUsesSingleUnit(t *testing.T) {
	source := periodSource(nil)
	uc := newTestUseCase(testConfig(2), source)

	plan, err := uc.Prepare(context.Background(), request("periods"))
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.True(t, plan.Units[0].Period.IsSpan())

	entities, err := collect(uc.Stream(context.Background(), plan))
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "100-a-", entities[0].ID)
}

func TestStreamSinceInTheFutureIsEmpty(t *testing.T) {
	source := periodSource(nil)
	uc := newTestUseCase(testConfig(2), source)

	req := request("usage")
	req.Since = "2030-01-01"
	plan, err := uc.Prepare(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, plan.Units)

	entities, err := collect(uc.Stream(context.Background(), plan))
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Equal(t, 0, source.count())
}

func TestStreamConsumerCanStopEarly(t *testing.T) {
	uc := newTestUseCase(testConfig(2), periodSource(nil))
	plan, err := uc.Prepare(context.Background(), request("usage"))
	require.NoError(t, err)

	n := 0
	for _, err := range uc.Stream(context.Background(), plan) {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestPrepareValidation(t *testing.T) {
	uc := newTestUseCase(testConfig(2), periodSource(nil))
	ctx := context.Background()

	_, err := uc.Prepare(ctx, entity.Request{Provider: "nope", Datatype: "usage", Credential: entity.Credential{Token: "t"}})
	assert.ErrorIs(t, err, types.ErrUnknownProvider)

	_, err = uc.Prepare(ctx, entity.Request{Datatype: "pricesheet", Credential: entity.Credential{Token: "t"}})
	assert.ErrorIs(t, err, types.ErrUnknownDatatype)

	_, err = uc.Prepare(ctx, entity.Request{Datatype: "usage"})
	assert.ErrorIs(t, err, types.ErrMissingCredential)

	_, err = uc.Prepare(ctx, entity.Request{Datatype: "usage", Since: "last week", Credential: entity.Credential{Token: "t"}})
	assert.ErrorIs(t, err, types.ErrInvalidSince)
}

func TestPrepareResolvesAccounts(t *testing.T) {
	source := periodSource(nil)
	source.accounts = []entity.Account{{ID: "2"}, {ID: "1"}, {ID: "2"}, {ID: ""}}
	uc := newTestUseCase(testConfig(2), source)

	req := request("periods")
	req.Account = ""
	plan, err := uc.Prepare(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, plan.Units, 2)
	assert.Equal(t, "2", plan.Units[0].Account)
	assert.Equal(t, "1", plan.Units[1].Account)

	req.Account = "7, 8,7"
	plan, err = uc.Prepare(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, plan.Units, 2)
	assert.Equal(t, "8", plan.Units[1].Account)

	source.accounts = nil
	req.Account = ""
	_, err = uc.Prepare(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrNoAccounts)
}

func TestPrepareWithoutAccountLookup(t *testing.T) {
	cfg := testConfig(2)
	cfg.Providers[0].Accounts = entity.AccountsSpec{}
	source := periodSource(nil)
	uc := newTestUseCase(cfg, source)

	req := request("usage")
	req.Account = ""
	_, err := uc.Prepare(context.Background(), req)
	require.ErrorIs(t, err, types.ErrMissingAccount)
	assert.Equal(t, types.ErrMissingAccount.Error(), err.Error())
	assert.Zero(t, source.count())
}
