// Package engine is the single public surface of the matching core: the
// instrument registry, the order-to-instrument index, the global monotonic
// trade and execution counters, and the market-state gate. All books hang off
// one engine and every operation is serialised behind one coarse lock, which
// keeps trade ordering, ID monotonicity and replay determinism trivial to
// reason about at the target throughput.
package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dire-exchange/dire-engine/internal/matching"
	"github.com/dire-exchange/dire-engine/internal/orderbook"
	"github.com/dire-exchange/dire-engine/pkg/metrics"
	"github.com/dire-exchange/dire-engine/pkg/models"
)

// Engine routes orders to per-instrument books and returns the trades and
// execution reports each call produced. The zero value is not usable; create
// with New.
type Engine struct {
	logger *zap.Logger

	mu          sync.Mutex
	books       map[models.InstrumentID]*orderbook.Book
	symbols     map[models.InstrumentID]string
	orderIndex  map[models.OrderID]models.InstrumentID
	nextTradeID uint64
	nextExecID  uint64
	state       models.MarketState
}

// New creates an engine with no instruments and the market open.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:      logger,
		books:       make(map[models.InstrumentID]*orderbook.Book),
		symbols:     make(map[models.InstrumentID]string),
		orderIndex:  make(map[models.OrderID]models.InstrumentID),
		nextTradeID: 1,
		nextExecID:  1,
		state:       models.MarketStateOpen,
	}
}

// NextTradeID implements matching.Sequencer. Callers hold the engine lock.
func (e *Engine) NextTradeID() models.TradeID {
	id := models.TradeID(e.nextTradeID)
	e.nextTradeID++
	return id
}

// NextExecID implements matching.Sequencer. Callers hold the engine lock.
func (e *Engine) NextExecID() models.ExecutionID {
	id := models.ExecutionID(e.nextExecID)
	e.nextExecID++
	return id
}

// rejectedReport consumes an execution id for a terminal Rejected report.
func (e *Engine) rejectedReport(order *models.Order, text string) models.ExecutionReport {
	return models.ExecutionReport{
		OrderID:           order.OrderID,
		ExecID:            e.NextExecID(),
		ExecType:          models.ExecTypeRejected,
		OrderStatus:       models.OrderStatusRejected,
		FilledQuantity:    decimal.Zero,
		RemainingQuantity: order.Quantity,
		Timestamp:         order.Timestamp,
		Text:              text,
	}
}

// validate checks the structural rules for a submitted order. The instrument
// must already be known to the caller.
func (e *Engine) validate(order *models.Order) error {
	if !order.Quantity.IsPositive() {
		return invalidOrder("quantity must be positive, got %s", order.Quantity)
	}
	switch order.OrderType {
	case models.OrderTypeLimit:
		if !order.Price.IsPositive() {
			return invalidOrder("limit order requires a positive price")
		}
	case models.OrderTypeMarket:
		if !order.Price.IsZero() {
			return invalidOrder("market order must not carry a price")
		}
	default:
		return invalidOrder("unknown order type %q", order.OrderType)
	}
	switch order.TimeInForce {
	case models.TimeInForceGTC, models.TimeInForceIOC, models.TimeInForceFOK:
	default:
		return invalidOrder("unknown time in force %q", order.TimeInForce)
	}
	if _, live := e.orderIndex[order.OrderID]; live {
		return invalidOrder("order id %d is already resting", order.OrderID)
	}
	return nil
}

// submitLocked runs the full submit path. The caller holds the lock.
func (e *Engine) submitLocked(order *models.Order) ([]models.Trade, []models.ExecutionReport, error) {
	book, ok := e.books[order.InstrumentID]
	if !ok {
		return nil, nil, ErrUnknownInstrument
	}
	if err := e.validate(order); err != nil {
		return nil, []models.ExecutionReport{e.rejectedReport(order, err.Error())}, err
	}
	if e.state != models.MarketStateOpen {
		return nil, []models.ExecutionReport{e.rejectedReport(order, "market not open")}, ErrMarketNotOpen
	}

	res := matching.Run(book, order, e)
	if res.Rested {
		e.orderIndex[order.OrderID] = order.InstrumentID
	}
	for _, id := range res.RemovedResting {
		delete(e.orderIndex, id)
	}
	return res.Trades, res.Reports, nil
}

// SubmitOrder validates and matches one order. It returns the trades and
// execution reports in the exact sequence they occurred; the aggressor's own
// report is last. On InvalidOrder and MarketNotOpen the returned reports
// contain a single terminal Rejected report alongside the error.
func (e *Engine) SubmitOrder(order models.Order) ([]models.Trade, []models.ExecutionReport, error) {
	start := time.Now()
	e.mu.Lock()
	trades, reports, err := e.submitLocked(&order)
	resting := len(e.orderIndex)
	e.mu.Unlock()

	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	metrics.OrdersSubmitted.WithLabelValues(string(order.Side), result).Inc()
	metrics.TradesMatched.Add(float64(len(trades)))
	metrics.RestingOrders.Set(float64(resting))
	metrics.SubmitLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		e.logger.Debug("order rejected",
			zap.Uint64("order_id", uint64(order.OrderID)),
			zap.Error(err))
	} else {
		e.logger.Debug("order processed",
			zap.Uint64("order_id", uint64(order.OrderID)),
			zap.Int("trades", len(trades)))
	}
	return trades, reports, err
}

// cancelLocked removes a resting order and emits its terminal Canceled
// report. The caller holds the lock.
func (e *Engine) cancelLocked(orderID models.OrderID) (bool, []models.ExecutionReport) {
	instID, ok := e.orderIndex[orderID]
	if !ok {
		return false, nil
	}
	book := e.books[instID]
	entry, ok := book.Cancel(orderID)
	if !ok {
		// Index and books move in lockstep; a mismatch is a bug.
		delete(e.orderIndex, orderID)
		return false, nil
	}
	delete(e.orderIndex, orderID)
	report := models.ExecutionReport{
		OrderID:           orderID,
		ExecID:            e.NextExecID(),
		ExecType:          models.ExecTypeCanceled,
		OrderStatus:       models.OrderStatusCanceled,
		FilledQuantity:    entry.Filled,
		RemainingQuantity: entry.Remaining(),
		AvgPrice:          entry.AvgPrice(),
		Timestamp:         entry.Timestamp,
	}
	return true, []models.ExecutionReport{report}
}

// CancelOrder removes a resting order. It returns true plus one terminal
// Canceled report when an order was removed, and (false, nil) when the id is
// not resting; cancelling an unknown id is a non-event. Cancels are accepted
// in every market state.
func (e *Engine) CancelOrder(orderID models.OrderID) (bool, []models.ExecutionReport) {
	e.mu.Lock()
	removed, reports := e.cancelLocked(orderID)
	resting := len(e.orderIndex)
	e.mu.Unlock()

	if removed {
		metrics.OrdersCanceled.Inc()
		metrics.RestingOrders.Set(float64(resting))
		e.logger.Debug("order canceled", zap.Uint64("order_id", uint64(orderID)))
	}
	return removed, reports
}

// ModifyOrder is cancel-then-submit under one lock acquisition: the target is
// cancelled (emitting its Canceled report) and the replacement flows through
// the normal submit path, losing the original's time priority. The market
// state gate is evaluated before the cancel so a halted market never destroys
// a resting order. If the replacement fails validation after the cancel, the
// cancel stands; the returned reports then contain the Canceled report
// followed by the replacement's Rejected report.
func (e *Engine) ModifyOrder(orderID models.OrderID, replacement models.Order) ([]models.Trade, []models.ExecutionReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != models.MarketStateOpen {
		return nil, []models.ExecutionReport{e.rejectedReport(&replacement, "market not open")}, ErrMarketNotOpen
	}
	if _, ok := e.orderIndex[orderID]; !ok {
		return nil, nil, ErrUnknownOrder
	}

	_, reports := e.cancelLocked(orderID)
	trades, submitReports, err := e.submitLocked(&replacement)
	reports = append(reports, submitReports...)
	return trades, reports, err
}

// InstrumentOf resolves the instrument a resting order lives on.
func (e *Engine) InstrumentOf(orderID models.OrderID) (models.InstrumentID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.orderIndex[orderID]
	return id, ok
}

// BookSnapshot returns the top of book for one instrument. It is a pure
// read; the returned value shares no state with the engine.
func (e *Engine) BookSnapshot(instID models.InstrumentID) (models.BookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, ok := e.books[instID]
	if !ok {
		return models.BookSnapshot{}, ErrUnknownInstrument
	}
	snap := models.BookSnapshot{InstrumentID: instID}
	if bid, ok := book.BestBid(); ok {
		snap.BestBid = &bid
	}
	if ask, ok := book.BestAsk(); ok {
		snap.BestAsk = &ask
	}
	return snap, nil
}

// Depth returns up to maxLevels aggregated price levels per side.
func (e *Engine) Depth(instID models.InstrumentID, maxLevels int) (models.DepthSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, ok := e.books[instID]
	if !ok {
		return models.DepthSnapshot{}, ErrUnknownInstrument
	}
	return book.Depth(maxLevels), nil
}

// RestingOrders lists the orders resting on one instrument's book.
func (e *Engine) RestingOrders(instID models.InstrumentID) ([]models.RestingOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, ok := e.books[instID]
	if !ok {
		return nil, ErrUnknownInstrument
	}
	return book.RestingOrders(), nil
}

// Instruments lists the registered instruments ordered by id.
func (e *Engine) Instruments() []models.Instrument {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Instrument, 0, len(e.books))
	for id := range e.books {
		out = append(out, models.Instrument{ID: id, Symbol: e.symbols[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddInstrument registers a new instrument with an empty book.
func (e *Engine) AddInstrument(id models.InstrumentID, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.books[id]; exists {
		return ErrAlreadyExists
	}
	e.books[id] = orderbook.New(id)
	if symbol != "" {
		e.symbols[id] = symbol
	}
	e.logger.Info("instrument added",
		zap.Uint64("instrument_id", uint64(id)),
		zap.String("symbol", symbol))
	return nil
}

// RemoveInstrument deletes an instrument. It fails with ErrNotEmpty while
// orders are still resting on its book.
func (e *Engine) RemoveInstrument(id models.InstrumentID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, exists := e.books[id]
	if !exists {
		return ErrNotFound
	}
	if book.RestingCount() > 0 {
		return ErrNotEmpty
	}
	delete(e.books, id)
	delete(e.symbols, id)
	e.logger.Info("instrument removed", zap.Uint64("instrument_id", uint64(id)))
	return nil
}

// MarketState returns the current market state.
func (e *Engine) MarketState() models.MarketState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetMarketState transitions the market-state gate. The change is observed
// by every submit that follows it in the engine's total order.
func (e *Engine) SetMarketState(s models.MarketState) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()

	if prev != s {
		e.logger.Info("market state changed",
			zap.String("from", string(prev)),
			zap.String("to", string(s)))
	}
}

// RestingCount returns the number of live entries in the order index, which
// by invariant equals the resting orders across all books.
func (e *Engine) RestingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.orderIndex)
}
