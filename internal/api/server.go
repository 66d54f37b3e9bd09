// Package api exposes the engine over HTTP: JSON order entry, book and
// instrument queries, market-state administration, the WebSocket feed and
// Prometheus metrics.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dire-exchange/dire-engine/internal/audit"
	"github.com/dire-exchange/dire-engine/internal/auth"
	"github.com/dire-exchange/dire-engine/internal/engine"
	"github.com/dire-exchange/dire-engine/internal/ws"
	"github.com/dire-exchange/dire-engine/pkg/models"
)

// depthSource feeds the hub's on-connect snapshots from the engine.
type depthSource struct {
	engine *engine.Engine
	levels int
}

func (d depthSource) DepthSnapshots() []models.DepthSnapshot {
	instruments := d.engine.Instruments()
	out := make([]models.DepthSnapshot, 0, len(instruments))
	for _, inst := range instruments {
		if depth, err := d.engine.Depth(inst.ID, d.levels); err == nil {
			out = append(out, depth)
		}
	}
	return out
}

// Server wires the engine, auth, audit and the market-data hub behind a gin
// router.
type Server struct {
	logger      *zap.Logger
	engine      *engine.Engine
	hub         *ws.Hub
	authn       *auth.Authenticator
	sink        audit.Sink
	depthLevels int
}

// NewServer builds the HTTP server. hub may be nil (no feed), sink may be
// nil (no auditing).
func NewServer(logger *zap.Logger, eng *engine.Engine, hub *ws.Hub, authn *auth.Authenticator, sink audit.Sink, depthLevels int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.Tee(nil)
	}
	if depthLevels <= 0 {
		depthLevels = 20
	}
	if hub != nil {
		hub.SetSnapshotSource(depthSource{engine: eng, levels: depthLevels})
	}
	return &Server{
		logger:      logger,
		engine:      eng,
		hub:         hub,
		authn:       authn,
		sink:        sink,
		depthLevels: depthLevels,
	}
}

// Router builds the gin router with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.hub != nil {
		router.GET("/ws/marketdata", func(c *gin.Context) {
			s.hub.ServeWS(c.Writer, c.Request)
		})
	}

	api := router.Group("/api")
	v1 := api.Group("/v1", s.authn.Middleware())
	{
		orders := v1.Group("/orders", auth.Require(auth.RoleTrader))
		{
			orders.POST("", s.handleSubmitOrder)
			orders.POST("/cancel", s.handleCancelOrder)
			orders.POST("/modify", s.handleModifyOrder)
		}

		v1.GET("/instruments", s.handleListInstruments)
		v1.GET("/book/:instrument", s.handleBookSnapshot)
		v1.GET("/book/:instrument/depth", s.handleDepth)
		v1.GET("/book/:instrument/orders", s.handleRestingOrders)

		admin := v1.Group("/admin")
		{
			admin.POST("/instruments", auth.Require(auth.RoleAdmin), s.handleAddInstrument)
			admin.DELETE("/instruments/:id", auth.Require(auth.RoleAdmin), s.handleRemoveInstrument)
			admin.GET("/market-state", auth.Require(auth.RoleOperator), s.handleGetMarketState)
			admin.PUT("/market-state", auth.Require(auth.RoleOperator), s.handleSetMarketState)
		}
	}

	return router
}
