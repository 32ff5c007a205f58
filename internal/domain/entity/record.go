package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Context fields injected into every canonical entity.
const (
	FieldID      = "_id"
	FieldUpdated = "_updated"
	FieldPeriod  = "period"
	FieldAccount = "account"
)

// Entity is a canonical record: a flat JSON object whose identity is ID.
type Entity struct {
	ID   string
	Body json.RawMessage
}

// MarshalJSON emits the entity body as is.
func (e Entity) MarshalJSON() ([]byte, error) {
	if len(e.Body) == 0 {
		return []byte("null"), nil
	}
	return e.Body, nil
}

// Page is one upstream response reduced to its rows and continuation.
// An empty Cursor means there are no further pages.
type Page struct {
	Rows     []json.RawMessage
	Cursor   string
	Endpoint string
}

// Account is a billable scope at the upstream: an enrollment, a license or
// a linked account.
type Account struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Service string `json:"service,omitempty"`
}

// Credential is the per-request secret. It is shared read-only by every
// unit of the request.
type Credential struct {
	Token string
}

// IsZero reports whether no credential was supplied.
func (c Credential) IsZero() bool {
	return c.Token == ""
}

// FetchUnit is the scope of pagination and retry: one datatype for one
// account over one period.
type FetchUnit struct {
	Account  string
	Period   BillingPeriod
	Datatype Datatype
}

// Label returns the unit's period label.
func (u FetchUnit) Label() string {
	return u.Period.Label(u.Datatype.PeriodLayout)
}

func (u FetchUnit) String() string {
	label := u.Label()
	if label == "" {
		label = u.Period.String()
	}
	return fmt.Sprintf("account=%s period=%s datatype=%s", u.Account, label, u.Datatype.Name)
}

// Request carries the already-parsed inbound parameters of one pipeline run.
type Request struct {
	Provider   string
	Datatype   string
	Since      string
	Account    string
	Credential Credential
	Now        time.Time
}
