package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// RowContext is the fetch boundary a row was retrieved under. Context fields
// of the canonical entity come from here, never from the row.
type RowContext struct {
	Account  string
	Period   entity.BillingPeriod
	Datatype entity.Datatype
	BaseURL  string
}

// ContextFor builds the RowContext of a fetch unit.
func ContextFor(unit entity.FetchUnit, baseURL string) RowContext {
	return RowContext{
		Account:  unit.Account,
		Period:   unit.Period,
		Datatype: unit.Datatype,
		BaseURL:  baseURL,
	}
}

// Label returns the period label of the context.
func (rc RowContext) Label() string {
	return rc.Period.Label(rc.Datatype.PeriodLayout)
}

var idReplacer = strings.NewReplacer("/", "-", "\\", "-", "?", "-", "#", "-", " ", "-", "\t", "-", "\n", "-", "\r", "-")

// SanitizeIDComponent replaces path-delimiting characters so the component
// can be part of a flat identifier.
func SanitizeIDComponent(s string) string {
	return idReplacer.Replace(s)
}

// BuildID joins the id components and the period label into one token.
func BuildID(components []string, label string) string {
	parts := make([]string, 0, len(components)+1)
	for _, c := range components {
		parts = append(parts, SanitizeIDComponent(c))
	}
	if label != "" {
		parts = append(parts, SanitizeIDComponent(label))
	}
	return strings.Join(parts, "-")
}

// Normalize converts one raw upstream row into a canonical entity. It is a
// pure function of its inputs: the same row and context always give the same
// bytes.
func Normalize(raw json.RawMessage, rc RowContext) (entity.Entity, error) {
	if !gjson.ValidBytes(raw) {
		return entity.Entity{}, types.ErrMalformedRow
	}
	row := gjson.ParseBytes(raw)
	if !row.IsObject() {
		return entity.Entity{}, types.ErrMalformedRow
	}

	dt := rc.Datatype
	components := make([]string, 0, len(dt.IDFields)+1)
	if dt.IDWithAccount {
		components = append(components, rc.Account)
	}
	for _, field := range dt.IDFields {
		components = append(components, row.Get(field).String())
	}
	id := BuildID(components, rc.Label())

	body := []byte(row.Get("@ugly").Raw)
	var err error
	for _, field := range dt.DateFields {
		v := gjson.GetBytes(body, field)
		if v.Type != gjson.String {
			continue
		}
		t, perr := ParseTimestamp(v.Str)
		if perr != nil {
			continue
		}
		if body, err = sjson.SetBytes(body, field, entity.FormatTransitDatetime(t)); err != nil {
			return entity.Entity{}, fmt.Errorf("setting %s: %w", field, err)
		}
	}
	for _, field := range dt.LinkFields {
		v := gjson.GetBytes(body, field)
		if v.Type != gjson.String || v.Str == "" || strings.Contains(v.Str, "://") {
			continue
		}
		if body, err = sjson.SetBytes(body, field, joinURL(rc.BaseURL, v.Str)); err != nil {
			return entity.Entity{}, fmt.Errorf("setting %s: %w", field, err)
		}
	}

	body, err = setContextFields(body, id, rc)
	if err != nil {
		return entity.Entity{}, err
	}
	return entity.Entity{ID: id, Body: body}, nil
}

func setContextFields(body []byte, id string, rc RowContext) ([]byte, error) {
	fields := []struct {
		path  string
		value string
	}{
		{entity.FieldID, id},
		{entity.FieldUpdated, entity.FormatTransitDatetime(rc.Period.Start)},
		{entity.FieldPeriod, rc.Label()},
		{entity.FieldAccount, rc.Account},
	}
	var err error
	for _, f := range fields {
		if body, err = sjson.SetBytes(body, f.path, f.value); err != nil {
			return nil, fmt.Errorf("setting %s: %w", f.path, err)
		}
	}
	return body, nil
}

func joinURL(base, path string) string {
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
