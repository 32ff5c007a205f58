package consumption

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/domain/repository"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

const (
	maxBodyBytes = 256 << 20
	dateLayout   = "2006-01-02"
)

// HTTPSource implements PageSource for JSON-over-HTTP billing APIs described
// by a provider descriptor.
type HTTPSource struct {
	client *http.Client
	logger logrus.FieldLogger
}

// NewHTTPSource creates an HTTPSource whose transport gives up after timeout.
func NewHTTPSource(timeout time.Duration, logger logrus.FieldLogger) repository.PageSource {
	return NewHTTPSourceWithClient(&http.Client{Timeout: timeout}, logger)
}

// NewHTTPSourceWithClient creates an HTTPSource on top of client.
func NewHTTPSourceWithClient(client *http.Client, logger logrus.FieldLogger) *HTTPSource {
	return &HTTPSource{
		client: client,
		logger: logger.WithField("component", "http-source"),
	}
}

// ListAccounts requests the provider's account listing and keeps the
// accounts whose service field matches the service marker.
func (s *HTTPSource) ListAccounts(ctx context.Context, provider entity.Provider, cred entity.Credential) ([]entity.Account, error) {
	spec := provider.Accounts
	if spec.Path == "" {
		return nil, types.ErrMissingAccount
	}

	endpoint := resolveURL(provider.BaseURL, spec.Path)
	body, err := s.get(ctx, provider, cred, endpoint)
	if err != nil {
		return nil, err
	}

	items, err := extractRows(body, spec.Envelope, endpoint)
	if err != nil {
		return nil, err
	}

	accounts := make([]entity.Account, 0, len(items))
	for _, raw := range items {
		item := gjson.ParseBytes(raw)
		a := entity.Account{ID: item.Get(spec.IDField).String()}
		if spec.NameField != "" {
			a.Name = item.Get(spec.NameField).String()
		}
		if spec.ServiceField != "" {
			a.Service = item.Get(spec.ServiceField).String()
		}
		accounts = append(accounts, a)
	}

	if spec.ServiceMarker == "" {
		return accounts, nil
	}
	return lo.Filter(accounts, func(a entity.Account, _ int) bool {
		return a.Service == spec.ServiceMarker
	}), nil
}

// FetchPage requests one page of unit. The cursor is the next link for
// next_link pagination and the page number for page_number pagination.
func (s *HTTPSource) FetchPage(ctx context.Context, provider entity.Provider, cred entity.Credential, unit entity.FetchUnit, cursor string) (entity.Page, error) {
	dt := unit.Datatype
	pg := dt.Pagination

	endpoint, page, err := pageURL(provider, unit, cursor)
	if err != nil {
		return entity.Page{}, err
	}

	body, err := s.get(ctx, provider, cred, endpoint)
	if err != nil {
		return entity.Page{}, err
	}

	rows, err := extractRows(body, dt.Envelope, endpoint)
	if err != nil {
		return entity.Page{}, err
	}

	result := entity.Page{Rows: rows, Endpoint: endpoint}
	switch pg.Style {
	case entity.PaginationNextLink:
		next := gjson.GetBytes(body, pg.CursorPath)
		if next.Type == gjson.String && next.Str != "" {
			result.Cursor = resolveURL(provider.BaseURL, next.Str)
		}
	case entity.PaginationPageNumber:
		more := len(rows) > 0 && pg.PerPage > 0 && len(rows) >= pg.PerPage
		if pg.CursorPath != "" {
			more = truthy(gjson.GetBytes(body, pg.CursorPath))
		}
		if more {
			result.Cursor = strconv.Itoa(page + 1)
		}
	}
	return result, nil
}

// pageURL renders the request URL of a page and returns the page number
// used, when the datatype paginates by number.
func pageURL(provider entity.Provider, unit entity.FetchUnit, cursor string) (string, int, error) {
	dt := unit.Datatype
	pg := dt.Pagination

	if cursor != "" && pg.Style == entity.PaginationNextLink {
		return cursor, 0, nil
	}

	u, err := url.Parse(resolveURL(provider.BaseURL, renderTemplate(dt.Path, unit)))
	if err != nil {
		return "", 0, fmt.Errorf("invalid endpoint for %s: %w", dt.Name, err)
	}

	q := u.Query()
	for key, value := range dt.Query {
		q.Set(key, renderTemplate(value, unit))
	}

	page := 0
	if pg.Style == entity.PaginationPageNumber {
		page = pg.FirstPage
		if cursor != "" {
			if page, err = strconv.Atoi(cursor); err != nil {
				return "", 0, fmt.Errorf("invalid page cursor %q: %w", cursor, err)
			}
		}
		q.Set(lo.Ternary(pg.PageParam != "", pg.PageParam, "page"), strconv.Itoa(page))
		if pg.PerPageParam != "" && pg.PerPage > 0 {
			q.Set(pg.PerPageParam, strconv.Itoa(pg.PerPage))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), page, nil
}

// renderTemplate fills {account}, {period}, {start} and {end}.
func renderTemplate(tmpl string, unit entity.FetchUnit) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	return strings.NewReplacer(
		"{account}", url.PathEscape(unit.Account),
		"{period}", unit.Label(),
		"{start}", unit.Period.Start.Format(dateLayout),
		"{end}", unit.Period.End.Format(dateLayout),
	).Replace(tmpl)
}

func resolveURL(base, ref string) string {
	if strings.Contains(ref, "://") || base == "" {
		return ref
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
}

func (s *HTTPSource) get(ctx context.Context, provider entity.Provider, cred entity.Credential, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	client := s.client
	switch provider.Auth.Style {
	case entity.AuthStyleHeader:
		req.Header.Set(lo.Ternary(provider.Auth.Header != "", provider.Auth.Header, "Authorization"), cred.Token)
	default:
		client = &http.Client{
			Timeout: s.client.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.Token, TokenType: "Bearer"}),
				Base:   s.client.Transport,
			},
		}
	}

	s.logger.WithField("url", endpoint).Debug("requesting upstream page")
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &types.TransientError{Endpoint: endpoint, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &types.TransientError{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: "reading body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &types.TransientError{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: snippet(body)}
	}
	if !gjson.ValidBytes(body) {
		return nil, &types.TransientError{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: "body is not valid JSON"}
	}
	return body, nil
}

// extractRows returns the row array addressed by envelope. A missing
// envelope is a transient failure; null or an empty array is zero rows.
func extractRows(body []byte, envelope, endpoint string) ([]json.RawMessage, error) {
	var res gjson.Result
	switch envelope {
	case "", "@this":
		res = gjson.ParseBytes(body)
	default:
		res = gjson.GetBytes(body, envelope)
		if !res.Exists() {
			return nil, &types.TransientError{Endpoint: endpoint, Reason: fmt.Sprintf("missing envelope %q", envelope)}
		}
	}

	switch {
	case res.Type == gjson.Null:
		return nil, nil
	case res.IsArray():
		items := res.Array()
		rows := make([]json.RawMessage, 0, len(items))
		for _, item := range items {
			rows = append(rows, json.RawMessage(item.Raw))
		}
		return rows, nil
	case res.IsObject() && envelope == "@this":
		return []json.RawMessage{json.RawMessage(res.Raw)}, nil
	default:
		return nil, &types.TransientError{Endpoint: endpoint, Reason: "response is not the expected array envelope"}
	}
}

func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != "" && v.Str != "false" && v.Str != "0"
	case gjson.JSON:
		return true
	default:
		return false
	}
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
