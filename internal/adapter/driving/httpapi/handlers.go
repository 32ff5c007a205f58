package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/diillson/billing-datasource-go/internal/application/usecase"
	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// TrailerError carries the failure of a stream that had already started.
const TrailerError = "X-Datasource-Error"

// Datasource is the pipeline as seen by the HTTP handlers.
type Datasource interface {
	Prepare(ctx context.Context, req entity.Request) (*usecase.Plan, error)
	WriteJSON(ctx context.Context, plan *usecase.Plan, w io.Writer) (int, error)
	Providers() []entity.Provider
}

// DatasourceHandler serves the datasource endpoints.
type DatasourceHandler struct {
	ds     Datasource
	params ParamSource
	logger logrus.FieldLogger
}

// NewDatasourceHandler creates the handler.
func NewDatasourceHandler(ds Datasource, params ParamSource, logger logrus.FieldLogger) *DatasourceHandler {
	return &DatasourceHandler{
		ds:     ds,
		params: params,
		logger: logger.WithField("component", "http"),
	}
}

// GetEntities streams the entities of a datatype as a JSON array.
func (h *DatasourceHandler) GetEntities(c *gin.Context) {
	ctx := c.Request.Context()
	req := h.params.Request(c)
	logger := h.logger.WithFields(logrus.Fields{
		"provider":   req.Provider,
		"datatype":   req.Datatype,
		"request_id": c.GetString(requestIDKey),
	})

	plan, err := h.ds.Prepare(ctx, req)
	if err != nil {
		h.abortWithError(c, logger, err)
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Trailer", TrailerError)
	c.Status(http.StatusOK)

	n, err := h.ds.WriteJSON(ctx, plan, c.Writer)
	if err == nil {
		logger.Infof("streamed %d entit(ies)", n)
		return
	}

	var streamErr *types.StreamError
	if errors.As(err, &streamErr) {
		c.Writer.Header().Set(TrailerError, streamErr.Err.Error())
		logger.WithError(err).Error("stream aborted after output started")
		return
	}
	if c.Writer.Written() {
		logger.WithError(err).Error("writing response failed")
		return
	}
	c.Writer.Header().Del("Trailer")
	h.abortWithError(c, logger, err)
}

// ListDatatypes lists the providers and their datatypes.
func (h *DatasourceHandler) ListDatatypes(c *gin.Context) {
	type datatypeInfo struct {
		Name          string `json:"name"`
		AccountScoped bool   `json:"account_scoped"`
		Granularity   string `json:"granularity,omitempty"`
		Aggregated    bool   `json:"aggregated"`
	}
	type providerInfo struct {
		Name      string         `json:"name"`
		Kind      string         `json:"kind"`
		Datatypes []datatypeInfo `json:"datatypes"`
	}

	providers := h.ds.Providers()
	out := make([]providerInfo, 0, len(providers))
	for _, p := range providers {
		info := providerInfo{Name: p.Name, Kind: string(p.Kind)}
		for _, name := range p.DatatypeNames() {
			dt, _ := p.FetchRecipe(name)
			granularity := ""
			if !dt.AccountScoped {
				granularity = string(dt.PeriodGranularity())
			}
			info.Datatypes = append(info.Datatypes, datatypeInfo{
				Name:          name,
				AccountScoped: dt.AccountScoped,
				Granularity:   granularity,
				Aggregated:    dt.Aggregate != nil,
			})
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, out)
}

// Health answers liveness probes.
func (h *DatasourceHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *DatasourceHandler) abortWithError(c *gin.Context, logger logrus.FieldLogger, err error) {
	if errors.Is(err, context.Canceled) {
		logger.Info("request cancelled by the client")
		c.Abort()
		return
	}
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
	} else {
		logger.WithError(err).Warn("request rejected")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// StatusFor maps a pipeline error to the HTTP status answered before any
// output was written.
func StatusFor(err error) int {
	var terminal *types.TerminalFetchError
	switch {
	case errors.Is(err, types.ErrUnknownDatatype), errors.Is(err, types.ErrUnknownProvider), errors.Is(err, types.ErrNoAccounts):
		return http.StatusNotFound
	case errors.Is(err, types.ErrMissingCredential), errors.Is(err, types.ErrInvalidSince), errors.Is(err, types.ErrMissingAccount):
		return http.StatusBadRequest
	case errors.As(err, &terminal):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
