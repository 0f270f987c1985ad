package api

import (
	"github.com/gin-gonic/gin"

	"github.com/robofleet/robofleet/internal/common/httpmw"
	"github.com/robofleet/robofleet/internal/common/logger"
)

// NewRouter assembles the gin engine: middleware, operator routes and the
// swagger UI.
func NewRouter(h *Handler, log *logger.Logger, serverName string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmw.CORS())
	r.Use(httpmw.RequestLogger(log, serverName))
	r.Use(httpmw.Tracing(serverName))

	h.RegisterRoutes(r)
	RegisterSwagger(r)
	return r
}
