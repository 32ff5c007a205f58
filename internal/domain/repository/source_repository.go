package repository

import (
	"context"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
)

// PageSource defines the interface for retrieving billing rows from one kind
// of upstream. Implementations perform a single request per call; retry and
// cursor following belong to the caller.
type PageSource interface {
	// ListAccounts returns the accounts eligible for the provider, already
	// filtered by the provider's service marker.
	ListAccounts(ctx context.Context, provider entity.Provider, cred entity.Credential) ([]entity.Account, error)

	// FetchPage retrieves the page of unit addressed by cursor. An empty
	// cursor requests the first page.
	FetchPage(ctx context.Context, provider entity.Provider, cred entity.Credential, unit entity.FetchUnit, cursor string) (entity.Page, error)
}
