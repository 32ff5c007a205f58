package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// NewRouter wires the datasource endpoints. Static routes take precedence
// over the datatype parameter, so no datatype may be named healthz, datatypes
// or metrics.
func NewRouter(ds Datasource, cfg types.ServerConfig, params ParamSource, logger logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(logger))

	h := NewDatasourceHandler(ds, params, logger)

	r.GET("/healthz", h.Health)
	r.GET("/datatypes", h.ListDatatypes)
	if !cfg.DisableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	r.GET("/providers/:provider/:datatype", h.GetEntities)
	r.GET("/:datatype", h.GetEntities)

	return r
}
