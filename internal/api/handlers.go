package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dire-exchange/dire-engine/internal/audit"
	"github.com/dire-exchange/dire-engine/internal/auth"
	"github.com/dire-exchange/dire-engine/internal/engine"
	"github.com/dire-exchange/dire-engine/pkg/models"
)

// executionResponse groups the output of one mutating engine call.
type executionResponse struct {
	Trades  []models.Trade           `json:"trades"`
	Reports []models.ExecutionReport `json:"reports"`
}

func newExecutionResponse(trades []models.Trade, reports []models.ExecutionReport) executionResponse {
	if trades == nil {
		trades = []models.Trade{}
	}
	if reports == nil {
		reports = []models.ExecutionReport{}
	}
	return executionResponse{Trades: trades, Reports: reports}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case engine.IsInvalidOrder(err):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownInstrument),
		errors.Is(err, engine.ErrUnknownOrder),
		errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrMarketNotOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrAlreadyExists),
		errors.Is(err, engine.ErrNotEmpty):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) actor(c *gin.Context) string {
	if p, ok := auth.FromContext(c); ok {
		return p.Name
	}
	return "unknown"
}

func (s *Server) audit(c *gin.Context, action, resource string, err error) {
	outcome := audit.OutcomeOK
	if err != nil {
		outcome = audit.OutcomeRejected
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	s.sink.Record(audit.Event{
		Time:     time.Now(),
		Actor:    s.actor(c),
		Action:   action,
		Resource: resource,
		Outcome:  outcome,
		Detail:   detail,
	})
}

// publish pushes trades and a fresh depth snapshot for the instrument to
// the WebSocket feed.
func (s *Server) publish(instID models.InstrumentID, trades []models.Trade) {
	if s.hub == nil {
		return
	}
	for _, t := range trades {
		s.hub.BroadcastTrade(t)
	}
	if depth, err := s.engine.Depth(instID, s.depthLevels); err == nil {
		s.hub.BroadcastDepth(depth)
	}
}

func (s *Server) handleSubmitOrder(c *gin.Context) {
	var order models.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// A key bound to a trader id may only trade as that trader.
	if p, ok := auth.FromContext(c); ok && p.TraderID != 0 {
		order.TraderID = p.TraderID
	}

	trades, reports, err := s.engine.SubmitOrder(order)
	s.audit(c, "order.submit", "order/"+strconv.FormatUint(uint64(order.OrderID), 10), err)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   err.Error(),
			"trades":  []models.Trade{},
			"reports": reports,
		})
		return
	}
	s.publish(order.InstrumentID, trades)
	c.JSON(http.StatusOK, newExecutionResponse(trades, reports))
}

type cancelRequest struct {
	OrderID models.OrderID `json:"order_id" binding:"required"`
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Resolve the instrument before the cancel so the feed can be updated
	// afterwards.
	instID, live := s.engine.InstrumentOf(req.OrderID)

	removed, reports := s.engine.CancelOrder(req.OrderID)
	var cancelErr error
	if !removed {
		cancelErr = engine.ErrUnknownOrder
	}
	s.audit(c, "order.cancel", "order/"+strconv.FormatUint(uint64(req.OrderID), 10), cancelErr)
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not resting", "removed": false})
		return
	}
	if live {
		s.publish(instID, nil)
	}
	c.JSON(http.StatusOK, gin.H{
		"removed": true,
		"reports": reports,
	})
}

type modifyRequest struct {
	OrderID     models.OrderID `json:"order_id" binding:"required"`
	Replacement models.Order   `json:"replacement" binding:"required"`
}

func (s *Server) handleModifyOrder(c *gin.Context) {
	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p, ok := auth.FromContext(c); ok && p.TraderID != 0 {
		req.Replacement.TraderID = p.TraderID
	}

	trades, reports, err := s.engine.ModifyOrder(req.OrderID, req.Replacement)
	s.audit(c, "order.modify", "order/"+strconv.FormatUint(uint64(req.OrderID), 10), err)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   err.Error(),
			"trades":  []models.Trade{},
			"reports": reports,
		})
		return
	}
	s.publish(req.Replacement.InstrumentID, trades)
	c.JSON(http.StatusOK, newExecutionResponse(trades, reports))
}

func (s *Server) handleListInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instruments": s.engine.Instruments()})
}

func instrumentParam(c *gin.Context, name string) (models.InstrumentID, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instrument id"})
		return 0, false
	}
	return models.InstrumentID(id), true
}

func (s *Server) handleBookSnapshot(c *gin.Context) {
	id, ok := instrumentParam(c, "instrument")
	if !ok {
		return
	}
	snap, err := s.engine.BookSnapshot(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleDepth(c *gin.Context) {
	id, ok := instrumentParam(c, "instrument")
	if !ok {
		return
	}
	levels := s.depthLevels
	if raw := c.Query("levels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid levels"})
			return
		}
		levels = n
	}
	depth, err := s.engine.Depth(id, levels)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, depth)
}

func (s *Server) handleRestingOrders(c *gin.Context) {
	id, ok := instrumentParam(c, "instrument")
	if !ok {
		return
	}
	orders, err := s.engine.RestingOrders(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if orders == nil {
		orders = []models.RestingOrder{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type addInstrumentRequest struct {
	ID     models.InstrumentID `json:"instrument_id" binding:"required"`
	Symbol string              `json:"symbol"`
}

func (s *Server) handleAddInstrument(c *gin.Context) {
	var req addInstrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.engine.AddInstrument(req.ID, req.Symbol)
	s.audit(c, "instrument.add", "instrument/"+strconv.FormatUint(uint64(req.ID), 10), err)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, models.Instrument{ID: req.ID, Symbol: req.Symbol})
}

func (s *Server) handleRemoveInstrument(c *gin.Context) {
	id, ok := instrumentParam(c, "id")
	if !ok {
		return
	}
	err := s.engine.RemoveInstrument(id)
	s.audit(c, "instrument.remove", "instrument/"+strconv.FormatUint(uint64(id), 10), err)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (s *Server) handleGetMarketState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": s.engine.MarketState()})
}

type marketStateRequest struct {
	State models.MarketState `json:"state" binding:"required,oneof=OPEN HALTED CLOSED"`
}

func (s *Server) handleSetMarketState(c *gin.Context) {
	var req marketStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.SetMarketState(req.State)
	s.audit(c, "market.state", "market", nil)
	c.JSON(http.StatusOK, gin.H{"state": req.State})
}
