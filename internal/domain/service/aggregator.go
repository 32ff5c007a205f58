package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
)

const groupKeySeparator = "\x1f"

type group struct {
	values   []string
	sums     []decimal.Decimal
	numerics []int64
}

// Aggregate groups normalized entities by the dimensions of spec and reduces
// every measure within each group. Groups come out sorted by key, which makes
// the result independent of the order of entities.
func Aggregate(entities []entity.Entity, spec entity.AggregateSpec, rc RowContext) ([]entity.Entity, error) {
	if len(spec.GroupBy) == 0 {
		return nil, fmt.Errorf("aggregate recipe of %s has no group_by fields", rc.Datatype.Name)
	}

	groups := make(map[string]*group)
	for _, e := range entities {
		row := gjson.ParseBytes(e.Body)
		if !row.IsObject() {
			continue
		}
		values := make([]string, len(spec.GroupBy))
		for i, field := range spec.GroupBy {
			values[i] = row.Get(field).String()
			if field == spec.FoldCase {
				values[i] = strings.ToLower(values[i])
			}
		}
		key := strings.Join(values, groupKeySeparator)
		g, ok := groups[key]
		if !ok {
			g = &group{
				values:   values,
				sums:     make([]decimal.Decimal, len(spec.Measures)),
				numerics: make([]int64, len(spec.Measures)),
			}
			groups[key] = g
		}
		for i, m := range spec.Measures {
			d, ok := numericValue(row.Get(m.Field))
			if !ok {
				continue
			}
			g.sums[i] = g.sums[i].Add(d)
			g.numerics[i]++
		}
	}

	keys := lo.Keys(groups)
	sort.Strings(keys)

	label := rc.Label()
	out := make([]entity.Entity, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		components := g.values
		if rc.Datatype.IDWithAccount {
			components = append([]string{rc.Account}, g.values...)
		}
		id := BuildID(components, label)
		body, err := buildGroupBody(id, g, spec, rc)
		if err != nil {
			return nil, err
		}
		out = append(out, entity.Entity{ID: id, Body: body})
	}
	return out, nil
}

func buildGroupBody(id string, g *group, spec entity.AggregateSpec, rc RowContext) ([]byte, error) {
	body := []byte("{}")
	var err error
	if body, err = sjson.SetBytes(body, entity.FieldID, id); err != nil {
		return nil, err
	}
	for i, field := range spec.GroupBy {
		if body, err = sjson.SetBytes(body, field, g.values[i]); err != nil {
			return nil, fmt.Errorf("setting %s: %w", field, err)
		}
	}
	for i, m := range spec.Measures {
		raw := reduce(m.Reducer, g.sums[i], g.numerics[i])
		if body, err = sjson.SetRawBytes(body, m.Field, []byte(raw)); err != nil {
			return nil, fmt.Errorf("setting %s: %w", m.Field, err)
		}
	}
	return setContextTail(body, rc)
}

// setContextTail appends the context fields other than _id.
func setContextTail(body []byte, rc RowContext) ([]byte, error) {
	var err error
	if body, err = sjson.SetBytes(body, entity.FieldUpdated, entity.FormatTransitDatetime(rc.Period.Start)); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, entity.FieldPeriod, rc.Label()); err != nil {
		return nil, err
	}
	return sjson.SetBytes(body, entity.FieldAccount, rc.Account)
}

func reduce(r entity.Reducer, sum decimal.Decimal, n int64) string {
	switch r {
	case entity.ReducerMean:
		if n == 0 {
			return "null"
		}
		return sum.DivRound(decimal.NewFromInt(n), 16).String()
	default:
		return sum.String()
	}
}

// numericValue reads a JSON number, or a string holding one, without going
// through float64.
func numericValue(v gjson.Result) (decimal.Decimal, bool) {
	var raw string
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = strings.TrimSpace(v.Str)
	default:
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
