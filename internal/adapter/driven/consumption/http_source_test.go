package consumption

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/diillson/billing-datasource-go/internal/application/usecase"
	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

func newSource() *HTTPSource {
	logger, _ := test.NewNullLogger()
	return NewHTTPSourceWithClient(&http.Client{Timeout: 5 * time.Second}, logger)
}

func january() entity.BillingPeriod {
	return entity.BillingPeriod{
		Start:       time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2019, time.February, 1, 0, 0, 0, 0, time.UTC),
		Granularity: entity.GranularityMonthly,
	}
}

func usageDetails() entity.Datatype {
	return entity.Datatype{
		Name:       "usagedetails",
		Path:       "v3/enrollments/{account}/billingperiods/{period}/usagedetails",
		Envelope:   "data",
		Pagination: entity.PaginationSpec{Style: entity.PaginationNextLink, CursorPath: "nextLink"},
		IDFields:   []string{"meterId"},
	}
}

func TestFetchPageSendsBearerAndRendersPath(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"data":[{"meterId":"a"},{"meterId":"b"}],"nextLink":null}`)
	}))
	defer srv.Close()

	provider := entity.Provider{Name: "azure-ea", BaseURL: srv.URL + "/", Auth: entity.AuthSpec{Style: entity.AuthStyleBearer}}
	unit := entity.FetchUnit{Account: "100", Period: january(), Datatype: usageDetails()}

	page, err := newSource().FetchPage(context.Background(), provider, entity.Credential{Token: "jwt"}, unit, "")
	require.NoError(t, err)
	assert.Len(t, page.Rows, 2)
	assert.Equal(t, "", page.Cursor)
	assert.Equal(t, "/v3/enrollments/100/billingperiods/201901/usagedetails", gotPath)
	assert.Equal(t, "Bearer jwt", gotAuth)
}

func TestFetchPageHeaderAuthAndQueryTemplate(t *testing.T) {
	var gotKey, gotStart, gotEnd string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotStart = r.URL.Query().Get("startTime")
		gotEnd = r.URL.Query().Get("endTime")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	provider := entity.Provider{BaseURL: srv.URL, Auth: entity.AuthSpec{Style: entity.AuthStyleHeader, Header: "X-Api-Key"}}
	unit := entity.FetchUnit{Account: "100", Period: january(), Datatype: entity.Datatype{
		Name:  "reservationcharges",
		Path:  "v3/enrollments/{account}/reservationchargesbycustomdate",
		Query: map[string]string{"startTime": "{start}", "endTime": "{end}"},
	}}

	page, err := newSource().FetchPage(context.Background(), provider, entity.Credential{Token: "secret"}, unit, "")
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "2019-01-01", gotStart)
	assert.Equal(t, "2019-02-01", gotEnd)
}

func TestFetchPageEnvelopes(t *testing.T) {
	cases := []struct {
		name      string
		envelope  string
		body      string
		rows      int
		transient bool
	}{
		{name: "array body", envelope: "", body: `[{"a":1},{"a":2}]`, rows: 2},
		{name: "null envelope", envelope: "data", body: `{"data":null}`, rows: 0},
		{name: "empty envelope", envelope: "data", body: `{"data":[]}`, rows: 0},
		{name: "missing envelope", envelope: "data", body: `{"error":"throttled"}`, transient: true},
		{name: "object instead of array", envelope: "", body: `{"error":"x"}`, transient: true},
		{name: "single object", envelope: "@this", body: `{"billingPeriodId":"201901"}`, rows: 1},
		{name: "invalid json", envelope: "", body: `<html>`, transient: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			unit := entity.FetchUnit{Account: "1", Period: january(), Datatype: entity.Datatype{Name: "x", Path: "x", Envelope: tc.envelope}}
			page, err := newSource().FetchPage(context.Background(), entity.Provider{BaseURL: srv.URL}, entity.Credential{Token: "t"}, unit, "")
			if tc.transient {
				var transient *types.TransientError
				require.ErrorAs(t, err, &transient)
				return
			}
			require.NoError(t, err)
			assert.Len(t, page.Rows, tc.rows)
		})
	}
}

func TestFetchPageNon2xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"busy"}`)
	}))
	defer srv.Close()

	unit := entity.FetchUnit{Account: "1", Period: january(), Datatype: usageDetails()}
	_, err := newSource().FetchPage(context.Background(), entity.Provider{BaseURL: srv.URL}, entity.Credential{Token: "t"}, unit, "")

	var transient *types.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusServiceUnavailable, transient.StatusCode)
	assert.Contains(t, transient.Endpoint, "/usagedetails")
}

func TestFetcherFollowsNextLinks(t *testing.T) {
	var requests atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		switch r.URL.Query().Get("skip") {
		case "":
			fmt.Fprintf(w, `{"data":[{"meterId":"1"},{"meterId":"2"}],"nextLink":"%s/next?skip=2"}`, srv.URL)
		case "2":
			fmt.Fprint(w, `{"data":[{"meterId":"3"}],"nextLink":"/next?skip=3"}`)
		default:
			fmt.Fprintf(w, `{"data":[{"meterId":"4"}],"nextLink":null,"n":%d}`, n)
		}
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	provider := entity.Provider{Name: "azure-ea", BaseURL: srv.URL}
	fetcher := usecase.NewPaginatedFetcher(newSource(), provider, usecase.DefaultRetryPolicy(), time.Second, logger)

	rows, err := fetcher.Fetch(context.Background(), entity.Credential{Token: "t"}, entity.FetchUnit{Account: "100", Period: january(), Datatype: usageDetails()})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "4", gjson.GetBytes(rows[3], "meterId").String())
	assert.Equal(t, int32(3), requests.Load())
}

func TestFetcherFollowsPageNumbers(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page := r.URL.Query().Get("page")
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		more := page != "3"
		fmt.Fprintf(w, `{"items":[{"id":"p%s"}],"has_more":%t}`, page, more)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	provider := entity.Provider{Name: "paged", BaseURL: srv.URL}
	dt := entity.Datatype{
		Name:     "usage",
		Path:     "usage",
		Envelope: "items",
		Pagination: entity.PaginationSpec{
			Style:        entity.PaginationPageNumber,
			CursorPath:   "has_more",
			PageParam:    "page",
			PerPageParam: "per_page",
			PerPage:      50,
			FirstPage:    1,
		},
	}
	fetcher := usecase.NewPaginatedFetcher(newSource(), provider, usecase.DefaultRetryPolicy(), time.Second, logger)

	rows, err := fetcher.Fetch(context.Background(), entity.Credential{Token: "t"}, entity.FetchUnit{Account: "1", Period: january(), Datatype: dt})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "p3", gjson.GetBytes(rows[2], "id").String())
	assert.Equal(t, int32(3), requests.Load())
}

func TestFetcherGivesUpOnInvalidResponses(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"message":"not the envelope"}`)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	policy := usecase.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}
	fetcher := usecase.NewPaginatedFetcher(newSource(), entity.Provider{Name: "azure-ea", BaseURL: srv.URL}, policy, time.Second, logger)

	_, err := fetcher.Fetch(context.Background(), entity.Credential{Token: "t"}, entity.FetchUnit{Account: "100", Period: january(), Datatype: usageDetails()})
	var terminal *types.TerminalFetchError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, 3, terminal.Attempts)
	assert.Equal(t, int32(3), requests.Load())
	assert.Contains(t, terminal.Unit, "account=100 period=201901 datatype=usagedetails")
	assert.Contains(t, terminal.Endpoint, "/v3/enrollments/100/billingperiods/201901/usagedetails")
}

func TestListAccountsFiltersByServiceMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/licenses", r.URL.Path)
		fmt.Fprint(w, `{"results":[
			{"key":"L1","name":"one","product":"billing"},
			{"key":"L2","name":"two","product":"support"},
			{"key":"L3","name":"three","product":"billing"}
		]}`)
	}))
	defer srv.Close()

	provider := entity.Provider{
		BaseURL: srv.URL,
		Accounts: entity.AccountsSpec{
			Path:          "licenses",
			Envelope:      "results",
			IDField:       "key",
			NameField:     "name",
			ServiceField:  "product",
			ServiceMarker: "billing",
		},
	}
	accounts, err := newSource().ListAccounts(context.Background(), provider, entity.Credential{Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, []entity.Account{
		{ID: "L1", Name: "one", Service: "billing"},
		{ID: "L3", Name: "three", Service: "billing"},
	}, accounts)
}

func TestListAccountsWithoutLookup(t *testing.T) {
	_, err := newSource().ListAccounts(context.Background(), entity.Provider{}, entity.Credential{Token: "t"})
	assert.ErrorIs(t, err, types.ErrMissingAccount)
}
