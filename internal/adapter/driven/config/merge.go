package config

import (
	"errors"
	"fmt"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// Merge applies the values set in override on top of base and returns the
// result. Providers and their datatypes are merged by name: a provider or
// datatype declared in override replaces the one of base with that name,
// new ones are appended.
func Merge(base, override *types.Config) *types.Config {
	out := *base
	out.Providers = append([]entity.Provider(nil), base.Providers...)
	if override == nil {
		return &out
	}

	s, o := &out.Server, override.Server
	s.Addr = pick(o.Addr, s.Addr)
	s.DisableMetrics = s.DisableMetrics || o.DisableMetrics
	s.ShutdownTimeoutSeconds = pickInt(o.ShutdownTimeoutSeconds, s.ShutdownTimeoutSeconds)

	u, ou := &out.Upstream, override.Upstream
	u.RequestTimeoutSeconds = pickInt(ou.RequestTimeoutSeconds, u.RequestTimeoutSeconds)
	u.MaxAttempts = pickInt(ou.MaxAttempts, u.MaxAttempts)
	u.InitialBackoffMillis = pickInt(ou.InitialBackoffMillis, u.InitialBackoffMillis)
	u.MaxBackoffMillis = pickInt(ou.MaxBackoffMillis, u.MaxBackoffMillis)
	if ou.BackoffMultiplier > 0 {
		u.BackoffMultiplier = ou.BackoffMultiplier
	}
	u.Workers = pickInt(ou.Workers, u.Workers)

	out.Defaults.Provider = pick(override.Defaults.Provider, out.Defaults.Provider)
	out.Defaults.Since = pick(override.Defaults.Since, out.Defaults.Since)

	out.Log.Level = pick(override.Log.Level, out.Log.Level)
	out.Log.Format = pick(override.Log.Format, out.Log.Format)
	out.Log.File = pick(override.Log.File, out.Log.File)

	for _, p := range override.Providers {
		out.Providers = mergeProvider(out.Providers, p)
	}
	return &out
}

func mergeProvider(providers []entity.Provider, p entity.Provider) []entity.Provider {
	for i, existing := range providers {
		if existing.Name != p.Name {
			continue
		}
		merged := existing
		if p.Kind != "" {
			merged.Kind = p.Kind
		}
		merged.BaseURL = pick(p.BaseURL, merged.BaseURL)
		if p.Auth.Style != "" {
			merged.Auth = p.Auth
		}
		if p.Accounts.Path != "" {
			merged.Accounts = p.Accounts
		}
		merged.Datatypes = append([]entity.Datatype(nil), existing.Datatypes...)
		for _, dt := range p.Datatypes {
			merged.Datatypes = mergeDatatype(merged.Datatypes, dt)
		}
		providers[i] = merged
		return providers
	}
	if p.Kind == "" {
		p.Kind = entity.ProviderKindHTTP
	}
	return append(providers, p)
}

func mergeDatatype(datatypes []entity.Datatype, dt entity.Datatype) []entity.Datatype {
	for i, existing := range datatypes {
		if existing.Name == dt.Name {
			datatypes[i] = dt
			return datatypes
		}
	}
	return append(datatypes, dt)
}

// Validate checks the descriptor table for errors that would only surface
// at request time. Granularities are rewritten in their canonical form.
func Validate(cfg *types.Config) error {
	var errs []error
	for pi := range cfg.Providers {
		p := &cfg.Providers[pi]
		if p.Name == "" {
			errs = append(errs, errors.New("provider without name"))
			continue
		}
		switch p.Kind {
		case "", entity.ProviderKindHTTP, entity.ProviderKindAWS:
		default:
			errs = append(errs, fmt.Errorf("provider %s: unsupported kind %q", p.Name, p.Kind))
		}
		for di := range p.Datatypes {
			dt := &p.Datatypes[di]
			if dt.Name == "" {
				errs = append(errs, fmt.Errorf("provider %s: datatype without name", p.Name))
				continue
			}
			g, err := entity.ParseGranularity(string(dt.Granularity))
			if err != nil {
				errs = append(errs, fmt.Errorf("provider %s datatype %s: %w", p.Name, dt.Name, err))
			} else if dt.Granularity != "" {
				dt.Granularity = g
			}
			if dt.Source == "" && dt.Path == "" {
				errs = append(errs, fmt.Errorf("provider %s datatype %s: path or source is required", p.Name, dt.Name))
			}
			if dt.Aggregate != nil && len(dt.Aggregate.GroupBy) == 0 {
				errs = append(errs, fmt.Errorf("provider %s datatype %s: aggregate needs group_by", p.Name, dt.Name))
			}
		}
	}
	return errors.Join(errs...)
}

func pick(override, base string) string {
	if override != "" {
		return override
	}
	return base
}

func pickInt(override, base int) int {
	if override > 0 {
		return override
	}
	return base
}
