package aws

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	budgetTypes "github.com/aws/aws-sdk-go-v2/service/budgets/types"
	ceTypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/shopspring/decimal"
	"github.com/tidwall/sjson"
)

// rowBuilder accumulates the fields of one flat JSON row in insertion order.
type rowBuilder struct {
	body []byte
	err  error
}

func newRow() *rowBuilder {
	return &rowBuilder{body: []byte("{}")}
}

func (b *rowBuilder) set(key string, value interface{}) *rowBuilder {
	if b.err != nil {
		return b
	}
	b.body, b.err = sjson.SetBytes(b.body, sjsonKey(key), value)
	return b
}

// amount stores an SDK decimal string as a JSON number. Values that do not
// parse are kept as strings.
func (b *rowBuilder) amount(key string, value *string) *rowBuilder {
	if b.err != nil || value == nil {
		return b
	}
	d, err := decimal.NewFromString(*value)
	if err != nil {
		return b.set(key, *value)
	}
	b.body, b.err = sjson.SetRawBytes(b.body, sjsonKey(key), []byte(d.String()))
	return b
}

func (b *rowBuilder) build() (json.RawMessage, error) {
	return b.body, b.err
}

func sjsonKey(key string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(key)
}

// dimensionField turns a Cost Explorer dimension such as LINKED_ACCOUNT into
// the row field name linked_account.
func dimensionField(dimension string) string {
	return strings.ToLower(dimension)
}

// metricField turns UnblendedCost into unblendedCost.
func metricField(metric string) string {
	if metric == "" {
		return metric
	}
	return strings.ToLower(metric[:1]) + metric[1:]
}

// costRows flattens the results of GetCostAndUsage into one row per time
// period and group. Periods without groups yield a single row of totals.
func costRows(results []ceTypes.ResultByTime, dimensions, metrics []string) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	for _, result := range results {
		start, end := "", ""
		if result.TimePeriod != nil {
			start = aws.ToString(result.TimePeriod.Start)
			end = aws.ToString(result.TimePeriod.End)
		}

		if len(result.Groups) == 0 {
			b := newRow().set("start", start).set("end", end).set("estimated", result.Estimated)
			addMetrics(b, result.Total, metrics)
			row, err := b.build()
			if err != nil {
				return nil, fmt.Errorf("building cost row: %w", err)
			}
			rows = append(rows, row)
			continue
		}

		for _, group := range result.Groups {
			b := newRow().set("start", start).set("end", end).set("estimated", result.Estimated)
			for i, dim := range dimensions {
				value := ""
				if i < len(group.Keys) {
					value = group.Keys[i]
				}
				b.set(dimensionField(dim), value)
			}
			addMetrics(b, group.Metrics, metrics)
			row, err := b.build()
			if err != nil {
				return nil, fmt.Errorf("building cost row: %w", err)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func addMetrics(b *rowBuilder, values map[string]ceTypes.MetricValue, metrics []string) {
	for _, metric := range metrics {
		v, ok := values[metric]
		if !ok {
			continue
		}
		field := metricField(metric)
		b.amount(field, v.Amount)
		if v.Unit != nil {
			b.set(field+"Unit", *v.Unit)
		}
	}
}

// budgetRows flattens DescribeBudgets output into one row per budget.
func budgetRows(list []budgetTypes.Budget) ([]json.RawMessage, error) {
	rows := make([]json.RawMessage, 0, len(list))
	for _, budget := range list {
		b := newRow().
			set("budgetName", aws.ToString(budget.BudgetName)).
			set("budgetType", string(budget.BudgetType)).
			set("timeUnit", string(budget.TimeUnit))
		if budget.BudgetLimit != nil {
			b.amount("limit", budget.BudgetLimit.Amount)
			b.set("limitUnit", aws.ToString(budget.BudgetLimit.Unit))
		}
		if budget.CalculatedSpend != nil {
			if budget.CalculatedSpend.ActualSpend != nil {
				b.amount("actualSpend", budget.CalculatedSpend.ActualSpend.Amount)
			}
			if budget.CalculatedSpend.ForecastedSpend != nil {
				b.amount("forecastedSpend", budget.CalculatedSpend.ForecastedSpend.Amount)
			}
		}
		if budget.TimePeriod != nil {
			b.set("start", formatTime(budget.TimePeriod.Start))
			b.set("end", formatTime(budget.TimePeriod.End))
		}
		row, err := b.build()
		if err != nil {
			return nil, fmt.Errorf("building budget row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
