package httpapi

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
)

// Accepted names of each request parameter, in lookup order.
var (
	credentialParams = []string{"jwt_token", "api_key", "credential"}
	accountParams    = []string{"enrollment_number", "account", "license"}
)

// ParamSource reads request parameters. An environment variable named after
// the upper-cased parameter wins over the query string, which lets a
// deployment pin the credential and the enrollment.
type ParamSource struct {
	Getenv func(string) string
}

// NewParamSource reads the process environment.
func NewParamSource() ParamSource {
	return ParamSource{Getenv: os.Getenv}
}

// Get returns the value of the first of names that is set.
func (p ParamSource) Get(c *gin.Context, names ...string) string {
	for _, name := range names {
		if p.Getenv != nil {
			if v := p.Getenv(strings.ToUpper(name)); v != "" {
				return v
			}
		}
		if v := strings.TrimSpace(c.Query(name)); v != "" {
			return v
		}
	}
	return ""
}

// Request builds the pipeline request of c.
func (p ParamSource) Request(c *gin.Context) entity.Request {
	provider := c.Param("provider")
	if provider == "" {
		provider = p.Get(c, "provider")
	}
	return entity.Request{
		Provider:   provider,
		Datatype:   c.Param("datatype"),
		Since:      p.Get(c, "since"),
		Account:    p.Get(c, accountParams...),
		Credential: entity.Credential{Token: p.Get(c, credentialParams...)},
	}
}
