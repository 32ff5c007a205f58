package config

import (
	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// Built-in provider names.
const (
	ProviderAzureEA = "azure-ea"
	ProviderAWS     = "aws"
)

// DefaultSince is the start of history used when a request has no since.
const DefaultSince = "2018-01-01T00:00:00Z"

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *types.Config {
	return &types.Config{
		Server: types.ServerConfig{
			Addr:                   ":5000",
			ShutdownTimeoutSeconds: 15,
		},
		Upstream: types.UpstreamConfig{
			RequestTimeoutSeconds: 60,
			MaxAttempts:           10,
			InitialBackoffMillis:  500,
			MaxBackoffMillis:      30000,
			BackoffMultiplier:     2,
			Workers:               4,
		},
		Defaults: types.DefaultsConfig{
			Provider: ProviderAzureEA,
			Since:    DefaultSince,
		},
		Log: types.LogConfig{
			Level:  "info",
			Format: "text",
		},
		Providers: []entity.Provider{AzureEAProvider(), AWSProvider()},
	}
}

// AzureEAProvider descreve a API de consumo do Azure Enterprise Agreement.
// A conta é o número do enrollment e a credencial é o token JWT da API.
func AzureEAProvider() entity.Provider {
	nextLink := entity.PaginationSpec{Style: entity.PaginationNextLink, CursorPath: "nextLink"}
	return entity.Provider{
		Name:    ProviderAzureEA,
		Kind:    entity.ProviderKindHTTP,
		BaseURL: "https://consumption.azure.com/",
		Auth:    entity.AuthSpec{Style: entity.AuthStyleBearer},
		Datatypes: []entity.Datatype{
			{
				Name:          "billingperiods",
				Path:          "v2/enrollments/{account}/billingperiods",
				AccountScoped: true,
				IDFields:      []string{"billingPeriodId"},
				IDWithAccount: true,
				DateFields:    []string{"billingStart", "billingEnd"},
				LinkFields:    []string{"balanceSummary", "usageDetails", "marketplaceCharges", "priceSheet"},
			},
			{
				Name:     "balancesummary",
				Path:     "v2/enrollments/{account}/billingperiods/{period}/balancesummary",
				Envelope: "@this",
				IDFields: []string{"billingPeriodId"},
			},
			{
				Name:       "usagedetails",
				Path:       "v3/enrollments/{account}/billingperiods/{period}/usagedetails",
				Envelope:   "data",
				Pagination: nextLink,
				IDFields:   []string{"meterId", "date", "instanceId"},
				DateFields: []string{"date"},
			},
			{
				Name:       "marketplacecharges",
				Path:       "v2/enrollments/{account}/billingperiods/{period}/marketplacecharges",
				IDFields:   []string{"subscriptionGuid", "instanceId", "usageStartDate"},
				DateFields: []string{"usageStartDate", "usageEndDate"},
			},
			{
				Name: "reservationcharges",
				Path: "v3/enrollments/{account}/reservationchargesbycustomdate",
				Query: map[string]string{
					"startTime": "{start}",
					"endTime":   "{end}",
				},
				IDFields:   []string{"reservationOrderId", "eventDate"},
				DateFields: []string{"eventDate"},
			},
			{
				Name: "reservationdetails",
				Path: "v2/enrollments/{account}/reservationdetails",
				Query: map[string]string{
					"startDate": "{start}",
					"endDate":   "{end}",
				},
				Envelope:   "data",
				Pagination: nextLink,
				IDFields:   []string{"reservationId", "usageDate", "instanceId"},
				DateFields: []string{"usageDate"},
			},
			{
				Name:   "usagesummary",
				Source: "usagedetails",
				Aggregate: &entity.AggregateSpec{
					GroupBy:  []string{"subscriptionGuid", "resourceGroup", "meterCategory", "meterSubCategory", "meterName", "unitOfMeasure"},
					FoldCase: "resourceGroup",
					Measures: []entity.Measure{
						{Field: "consumedQuantity", Reducer: entity.ReducerSum},
						{Field: "cost", Reducer: entity.ReducerSum},
						{Field: "resourceRate", Reducer: entity.ReducerMean},
					},
				},
			},
		},
	}
}

// AWSProvider descreve o Cost Explorer e o Budgets. A credencial é o nome do
// perfil compartilhado e a conta é a conta vinculada.
func AWSProvider() entity.Provider {
	token := entity.PaginationSpec{Style: entity.PaginationToken}
	return entity.Provider{
		Name: ProviderAWS,
		Kind: entity.ProviderKindAWS,
		Datatypes: []entity.Datatype{
			{
				Name: "costandusage",
				Path: "GetCostAndUsage",
				Query: map[string]string{
					"granularity": "DAILY",
					"metrics":     "UnblendedCost,UsageQuantity",
					"group_by":    "SERVICE,REGION",
				},
				Pagination:    token,
				IDFields:      []string{"start", "service", "region"},
				IDWithAccount: true,
				DateFields:    []string{"start", "end"},
			},
			{
				Name:   "costsummary",
				Source: "costandusage",
				Aggregate: &entity.AggregateSpec{
					GroupBy:  []string{"service", "region"},
					FoldCase: "region",
					Measures: []entity.Measure{
						{Field: "unblendedCost", Reducer: entity.ReducerSum},
						{Field: "usageQuantity", Reducer: entity.ReducerSum},
					},
				},
				IDWithAccount: true,
			},
			{
				Name:          "budgets",
				Path:          "DescribeBudgets",
				AccountScoped: true,
				Pagination:    token,
				IDFields:      []string{"budgetName"},
				IDWithAccount: true,
				DateFields:    []string{"start", "end"},
			},
		},
	}
}
