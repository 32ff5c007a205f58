package entity

import "sort"

// ProviderKind selects the PageSource implementation serving a provider.
type ProviderKind string

const (
	ProviderKindHTTP ProviderKind = "http"
	ProviderKindAWS  ProviderKind = "aws"
)

// AuthStyle is how the credential travels with each upstream request.
type AuthStyle string

const (
	AuthStyleBearer AuthStyle = "bearer"
	AuthStyleHeader AuthStyle = "header"
)

// PaginationStyle is how an upstream signals that more pages exist.
type PaginationStyle string

const (
	PaginationNone PaginationStyle = "none"
	// PaginationNextLink follows an absolute URL found at CursorPath.
	PaginationNextLink PaginationStyle = "next_link"
	// PaginationPageNumber increments PageParam while CursorPath is truthy.
	PaginationPageNumber PaginationStyle = "page_number"
	// PaginationToken passes an opaque token back to the upstream (SDK sources).
	PaginationToken PaginationStyle = "token"
)

// Reducer is the reduction applied to a measure column.
type Reducer string

const (
	ReducerSum  Reducer = "sum"
	ReducerMean Reducer = "mean"
)

// Provider describes one upstream billing API.
type Provider struct {
	Name      string       `json:"name" yaml:"name" toml:"name"`
	Kind      ProviderKind `json:"kind" yaml:"kind" toml:"kind"`
	BaseURL   string       `json:"base_url" yaml:"base_url" toml:"base_url"`
	Auth      AuthSpec     `json:"auth" yaml:"auth" toml:"auth"`
	Accounts  AccountsSpec `json:"accounts" yaml:"accounts" toml:"accounts"`
	Datatypes []Datatype   `json:"datatypes" yaml:"datatypes" toml:"datatypes"`
}

// AuthSpec configures how the credential is attached to requests.
type AuthSpec struct {
	Style  AuthStyle `json:"style" yaml:"style" toml:"style"`
	Header string    `json:"header,omitempty" yaml:"header,omitempty" toml:"header,omitempty"`
}

// AccountsSpec describes the auxiliary "list accounts" lookup used when the
// caller does not select an account.
type AccountsSpec struct {
	Path          string `json:"path" yaml:"path" toml:"path"`
	Envelope      string `json:"envelope,omitempty" yaml:"envelope,omitempty" toml:"envelope,omitempty"`
	IDField       string `json:"id_field" yaml:"id_field" toml:"id_field"`
	NameField     string `json:"name_field,omitempty" yaml:"name_field,omitempty" toml:"name_field,omitempty"`
	ServiceField  string `json:"service_field,omitempty" yaml:"service_field,omitempty" toml:"service_field,omitempty"`
	ServiceMarker string `json:"service_marker,omitempty" yaml:"service_marker,omitempty" toml:"service_marker,omitempty"`
}

// PaginationSpec configures cursor handling for a datatype.
type PaginationSpec struct {
	Style        PaginationStyle `json:"style" yaml:"style" toml:"style"`
	CursorPath   string          `json:"cursor_path,omitempty" yaml:"cursor_path,omitempty" toml:"cursor_path,omitempty"`
	PageParam    string          `json:"page_param,omitempty" yaml:"page_param,omitempty" toml:"page_param,omitempty"`
	PerPageParam string          `json:"per_page_param,omitempty" yaml:"per_page_param,omitempty" toml:"per_page_param,omitempty"`
	PerPage      int             `json:"per_page,omitempty" yaml:"per_page,omitempty" toml:"per_page,omitempty"`
	FirstPage    int             `json:"first_page,omitempty" yaml:"first_page,omitempty" toml:"first_page,omitempty"`
}

// Measure is one reduced column of an aggregate.
type Measure struct {
	Field   string  `json:"field" yaml:"field" toml:"field"`
	Reducer Reducer `json:"reducer" yaml:"reducer" toml:"reducer"`
}

// AggregateSpec is the rollup recipe of a datatype.
type AggregateSpec struct {
	GroupBy  []string  `json:"group_by" yaml:"group_by" toml:"group_by"`
	FoldCase string    `json:"fold_case,omitempty" yaml:"fold_case,omitempty" toml:"fold_case,omitempty"`
	Measures []Measure `json:"measures" yaml:"measures" toml:"measures"`
}

// Datatype is one entry of the descriptor table: where rows come from and
// how they become canonical entities.
type Datatype struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// Source names another datatype whose fetch recipe is reused; used by
	// aggregated datatypes.
	Source string `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`
	// Path is the endpoint template ({account}, {period}, {start}, {end}).
	// For SDK sources it names the operation.
	Path          string            `json:"path" yaml:"path" toml:"path"`
	Query         map[string]string `json:"query,omitempty" yaml:"query,omitempty" toml:"query,omitempty"`
	AccountScoped bool              `json:"account_scoped,omitempty" yaml:"account_scoped,omitempty" toml:"account_scoped,omitempty"`
	Granularity   Granularity       `json:"granularity,omitempty" yaml:"granularity,omitempty" toml:"granularity,omitempty"`
	PeriodLayout  string            `json:"period_layout,omitempty" yaml:"period_layout,omitempty" toml:"period_layout,omitempty"`
	Pagination    PaginationSpec    `json:"pagination" yaml:"pagination" toml:"pagination"`
	// Envelope is the gjson path of the rows array. Empty means the body
	// itself is the array, "@this" wraps a single object body as one row.
	Envelope      string         `json:"envelope,omitempty" yaml:"envelope,omitempty" toml:"envelope,omitempty"`
	IDFields      []string       `json:"id_fields" yaml:"id_fields" toml:"id_fields"`
	IDWithAccount bool           `json:"id_with_account,omitempty" yaml:"id_with_account,omitempty" toml:"id_with_account,omitempty"`
	DateFields    []string       `json:"date_fields,omitempty" yaml:"date_fields,omitempty" toml:"date_fields,omitempty"`
	LinkFields    []string       `json:"link_fields,omitempty" yaml:"link_fields,omitempty" toml:"link_fields,omitempty"`
	Aggregate     *AggregateSpec `json:"aggregate,omitempty" yaml:"aggregate,omitempty" toml:"aggregate,omitempty"`
}

// PeriodGranularity returns the granularity used to walk periods. Values
// are matched case-insensitively; anything unrecognized walks monthly.
func (d Datatype) PeriodGranularity() Granularity {
	g, err := ParseGranularity(string(d.Granularity))
	if err != nil {
		return GranularityMonthly
	}
	return g
}

// Datatype looks a datatype up by name.
func (p Provider) Datatype(name string) (Datatype, bool) {
	for _, dt := range p.Datatypes {
		if dt.Name == name {
			return dt, true
		}
	}
	return Datatype{}, false
}

// FetchRecipe resolves the datatype whose endpoint is actually requested:
// for an aggregated datatype with a Source this is the source datatype,
// carrying the aggregate recipe of the requesting one.
func (p Provider) FetchRecipe(name string) (Datatype, bool) {
	dt, ok := p.Datatype(name)
	if !ok {
		return Datatype{}, false
	}
	if dt.Source == "" || dt.Source == dt.Name {
		return dt, true
	}
	src, ok := p.Datatype(dt.Source)
	if !ok {
		return Datatype{}, false
	}
	src.Name = dt.Name
	src.Aggregate = dt.Aggregate
	if dt.IDWithAccount {
		src.IDWithAccount = true
	}
	return src, true
}

// DatatypeNames returns the sorted datatype names of the provider.
func (p Provider) DatatypeNames() []string {
	names := make([]string, 0, len(p.Datatypes))
	for _, dt := range p.Datatypes {
		names = append(names, dt.Name)
	}
	sort.Strings(names)
	return names
}
