package fix

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dire-exchange/dire-engine/internal/engine"
	"github.com/dire-exchange/dire-engine/pkg/models"
)

// Session serves one FIX counterparty over one TCP connection. It owns the
// inbound read loop; all writes are serialised through writeMu.
type Session struct {
	acceptor *Acceptor
	conn     net.Conn
	logger   *zap.Logger

	writeMu    sync.Mutex
	outSeq     uint64
	targetComp string
	traderID   models.TraderID

	// clOrdID maps the counterparty's order handles onto engine order ids.
	ordersMu sync.Mutex
	clOrdID  map[string]models.OrderID
}

// owner ties a live engine order back to the session and ClOrdID that
// created it, so fills against resting orders reach the right counterparty.
type owner struct {
	sess    *Session
	clOrdID string
}

func newSession(a *Acceptor, conn net.Conn) *Session {
	return &Session{
		acceptor: a,
		conn:     conn,
		logger:   a.logger,
		clOrdID:  map[string]models.OrderID{},
	}
}

func (s *Session) send(msg *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.outSeq++
	raw := msg.Encode(s.acceptor.senderCompID, s.targetComp, s.outSeq,
		time.Now().UTC().Format("20060102-15:04:05.000"))
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := s.conn.Write(raw)
	return err
}

// traderFor derives a stable trader id from a CompID so that self-trade
// prevention applies per counterparty.
func traderFor(compID string) models.TraderID {
	h := fnv.New64a()
	h.Write([]byte(compID))
	id := h.Sum64()
	if id == 0 {
		id = 1
	}
	return models.TraderID(id)
}

// run is the session's read loop. It returns when the counterparty logs
// out, the connection drops, or a framing error occurs.
func (s *Session) run() {
	defer s.conn.Close()
	r := bufio.NewReader(s.conn)

	// The first message must be a Logon.
	s.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	msg, err := ReadMessage(r)
	if err != nil || msg.MsgType != MsgTypeLogon {
		s.logger.Warn("fix session rejected before logon", zap.Error(err))
		return
	}
	s.targetComp = msg.GetOrEmpty(TagSenderCompID)
	s.traderID = traderFor(s.targetComp)
	if err := s.send(NewMessage(MsgTypeLogon).SetInt(TagHeartBtInt, int64(s.acceptor.heartbeat/time.Second))); err != nil {
		return
	}
	s.logger.Info("fix session established", zap.String("comp_id", s.targetComp))

	readWait := s.acceptor.heartbeat*2 + 10*time.Second
	for {
		s.conn.SetReadDeadline(time.Now().Add(readWait))
		msg, err := ReadMessage(r)
		if err != nil {
			s.logger.Debug("fix session closed", zap.String("comp_id", s.targetComp), zap.Error(err))
			return
		}
		switch msg.MsgType {
		case MsgTypeHeartbeat:
			// Keepalive only.
		case MsgTypeTestRequest:
			hb := NewMessage(MsgTypeHeartbeat)
			if id, ok := msg.Get(TagTestReqID); ok {
				hb.Set(TagTestReqID, id)
			}
			if err := s.send(hb); err != nil {
				return
			}
		case MsgTypeLogout:
			s.send(NewMessage(MsgTypeLogout)) //nolint:errcheck
			return
		case MsgTypeNewOrderSingle:
			s.handleNewOrderSingle(msg)
		case MsgTypeOrderCancelRequest:
			s.handleCancelRequest(msg)
		case MsgTypeCancelReplace:
			s.handleCancelReplace(msg)
		default:
			s.send(NewMessage(MsgTypeReject).Set(TagText, "unsupported MsgType "+msg.MsgType)) //nolint:errcheck
		}
	}
}

// parseOrder converts NewOrderSingle (or the replacement half of a
// CancelReplace) fields into an engine order.
func (s *Session) parseOrder(msg *Message, orderID models.OrderID) (models.Order, error) {
	clOrdID := msg.GetOrEmpty(TagClOrdID)
	if clOrdID == "" {
		return models.Order{}, fmt.Errorf("missing ClOrdID")
	}

	instRaw := msg.GetOrEmpty(TagSymbol)
	inst, err := s.acceptor.resolveSymbol(instRaw)
	if err != nil {
		return models.Order{}, err
	}

	var side models.Side
	switch msg.GetOrEmpty(TagSide) {
	case "1":
		side = models.SideBuy
	case "2":
		side = models.SideSell
	default:
		return models.Order{}, fmt.Errorf("unsupported Side %q", msg.GetOrEmpty(TagSide))
	}

	qty, err := decimal.NewFromString(msg.GetOrEmpty(TagOrderQty))
	if err != nil {
		return models.Order{}, fmt.Errorf("bad OrderQty: %w", err)
	}

	var ordType models.OrderType
	price := decimal.Zero
	switch msg.GetOrEmpty(TagOrdType) {
	case "1":
		ordType = models.OrderTypeMarket
	case "2":
		ordType = models.OrderTypeLimit
		price, err = decimal.NewFromString(msg.GetOrEmpty(TagPrice))
		if err != nil {
			return models.Order{}, fmt.Errorf("bad Price: %w", err)
		}
	default:
		return models.Order{}, fmt.Errorf("unsupported OrdType %q", msg.GetOrEmpty(TagOrdType))
	}

	var tif models.TimeInForce
	switch msg.GetOrEmpty(TagTimeInForce) {
	case "1", "": // GTC is the default when 59 is absent
		tif = models.TimeInForceGTC
	case "3":
		tif = models.TimeInForceIOC
	case "4":
		tif = models.TimeInForceFOK
	default:
		return models.Order{}, fmt.Errorf("unsupported TimeInForce %q", msg.GetOrEmpty(TagTimeInForce))
	}

	return models.Order{
		OrderID:       orderID,
		ClientOrderID: clOrdID,
		InstrumentID:  inst,
		Side:          side,
		OrderType:     ordType,
		Quantity:      qty,
		Price:         price,
		TimeInForce:   tif,
		Timestamp:     s.acceptor.nextTimestamp(),
		TraderID:      s.traderID,
	}, nil
}

func (s *Session) handleNewOrderSingle(msg *Message) {
	orderID := s.acceptor.nextOrderID()
	order, err := s.parseOrder(msg, orderID)
	if err != nil {
		s.sendBusinessReject(msg.GetOrEmpty(TagClOrdID), err.Error())
		return
	}

	s.ordersMu.Lock()
	s.clOrdID[order.ClientOrderID] = orderID
	s.ordersMu.Unlock()
	s.acceptor.registerOwner(orderID, s, order.ClientOrderID)

	trades, reports, _ := s.acceptor.engine.SubmitOrder(order)
	s.acceptor.route(reports)
	s.acceptor.publishMarketData(order.InstrumentID, trades)
}

func (s *Session) lookup(origClOrdID string) (models.OrderID, bool) {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	id, ok := s.clOrdID[origClOrdID]
	return id, ok
}

func (s *Session) handleCancelRequest(msg *Message) {
	orig := msg.GetOrEmpty(TagOrigClOrdID)
	orderID, ok := s.lookup(orig)
	if !ok {
		s.sendCancelReject(msg.GetOrEmpty(TagClOrdID), orig, "unknown OrigClOrdID")
		return
	}
	instID, live := s.acceptor.engine.InstrumentOf(orderID)
	removed, reports := s.acceptor.engine.CancelOrder(orderID)
	if !removed {
		s.sendCancelReject(msg.GetOrEmpty(TagClOrdID), orig, "order not resting")
		return
	}
	s.acceptor.route(reports)
	if live {
		s.acceptor.publishMarketData(instID, nil)
	}
}

func (s *Session) handleCancelReplace(msg *Message) {
	orig := msg.GetOrEmpty(TagOrigClOrdID)
	orderID, ok := s.lookup(orig)
	if !ok {
		s.sendCancelReject(msg.GetOrEmpty(TagClOrdID), orig, "unknown OrigClOrdID")
		return
	}

	newOrderID := s.acceptor.nextOrderID()
	replacement, err := s.parseOrder(msg, newOrderID)
	if err != nil {
		s.sendCancelReject(msg.GetOrEmpty(TagClOrdID), orig, err.Error())
		return
	}

	s.ordersMu.Lock()
	s.clOrdID[replacement.ClientOrderID] = newOrderID
	s.ordersMu.Unlock()
	s.acceptor.registerOwner(newOrderID, s, replacement.ClientOrderID)

	trades, reports, _ := s.acceptor.engine.ModifyOrder(orderID, replacement)
	s.acceptor.route(reports)
	s.acceptor.publishMarketData(replacement.InstrumentID, trades)
}

// fix enum mappings for outbound reports.
func fixExecType(t models.ExecType) string {
	switch t {
	case models.ExecTypeNew:
		return "0"
	case models.ExecTypePartialFill, models.ExecTypeFill:
		return "F" // 4.4 uses Trade for both
	case models.ExecTypeCanceled:
		return "4"
	case models.ExecTypeRejected:
		return "8"
	}
	return "8"
}

func fixOrdStatus(st models.OrderStatus) string {
	switch st {
	case models.OrderStatusNew:
		return "0"
	case models.OrderStatusPartiallyFilled:
		return "1"
	case models.OrderStatusFilled:
		return "2"
	case models.OrderStatusCanceled:
		return "4"
	case models.OrderStatusRejected:
		return "8"
	}
	return "8"
}

func (s *Session) sendExecutionReport(clOrdID string, rep models.ExecutionReport) {
	msg := NewMessage(MsgTypeExecutionReport).
		Set(TagOrderID, strconv.FormatUint(uint64(rep.OrderID), 10)).
		Set(TagClOrdID, clOrdID).
		Set(TagExecID, strconv.FormatUint(uint64(rep.ExecID), 10)).
		Set(TagExecType, fixExecType(rep.ExecType)).
		Set(TagOrdStatus, fixOrdStatus(rep.OrderStatus)).
		Set(TagCumQty, rep.FilledQuantity.String()).
		Set(TagLeavesQty, rep.RemainingQuantity.String())
	if rep.AvgPrice != nil {
		msg.Set(TagAvgPx, rep.AvgPrice.String())
	}
	if rep.LastQty != nil {
		msg.Set(TagLastQty, rep.LastQty.String())
	}
	if rep.LastPx != nil {
		msg.Set(TagLastPx, rep.LastPx.String())
	}
	if rep.Text != "" {
		msg.Set(TagText, rep.Text)
	}
	if err := s.send(msg); err != nil {
		s.logger.Debug("fix report send failed", zap.Error(err))
	}
}

func (s *Session) sendBusinessReject(clOrdID, text string) {
	msg := NewMessage(MsgTypeExecutionReport).
		Set(TagClOrdID, clOrdID).
		Set(TagExecType, "8").
		Set(TagOrdStatus, "8").
		Set(TagText, text)
	s.send(msg) //nolint:errcheck
}

func (s *Session) sendCancelReject(clOrdID, origClOrdID, text string) {
	msg := NewMessage(MsgTypeOrderCancelReject).
		Set(TagClOrdID, clOrdID).
		Set(TagOrigClOrdID, origClOrdID).
		Set(TagText, text)
	s.send(msg) //nolint:errcheck
}

// Acceptor listens for FIX counterparties and spawns one session per
// connection. Order ids and timestamps are allocated from acceptor-wide
// atomic counters so they never collide across sessions.
type Acceptor struct {
	logger       *zap.Logger
	engine       *engine.Engine
	senderCompID string
	heartbeat    time.Duration

	// Engine order ids allocated to FIX orders start high to stay clear of
	// REST clients that pick their own ids.
	orderSeq uint64
	timeSeq  uint64

	ownersMu sync.Mutex
	owners   map[models.OrderID]owner

	publisher Publisher

	lnMu sync.Mutex
	ln   net.Listener
}

// Publisher receives engine output for market-data distribution. The hub in
// internal/ws satisfies it.
type Publisher interface {
	BroadcastTrade(models.Trade)
	BroadcastDepth(models.DepthSnapshot)
}

// NewAcceptor builds an acceptor bound to the engine.
func NewAcceptor(logger *zap.Logger, eng *engine.Engine, senderCompID string, heartbeat time.Duration) *Acceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Acceptor{
		logger:       logger,
		engine:       eng,
		senderCompID: senderCompID,
		heartbeat:    heartbeat,
		orderSeq:     1 << 62,
		owners:       make(map[models.OrderID]owner),
	}
}

// SetPublisher attaches a market-data publisher. Must be called before
// ListenAndServe.
func (a *Acceptor) SetPublisher(p Publisher) { a.publisher = p }

// publishMarketData pushes trades and a fresh depth snapshot after a
// mutating engine call.
func (a *Acceptor) publishMarketData(instID models.InstrumentID, trades []models.Trade) {
	if a.publisher == nil {
		return
	}
	for _, t := range trades {
		a.publisher.BroadcastTrade(t)
	}
	if depth, err := a.engine.Depth(instID, 20); err == nil {
		a.publisher.BroadcastDepth(depth)
	}
}

func (a *Acceptor) registerOwner(orderID models.OrderID, s *Session, clOrdID string) {
	a.ownersMu.Lock()
	a.owners[orderID] = owner{sess: s, clOrdID: clOrdID}
	a.ownersMu.Unlock()
}

// route delivers each execution report to the session that owns its order.
// Terminal reports retire the ownership entry.
func (a *Acceptor) route(reports []models.ExecutionReport) {
	for _, rep := range reports {
		a.ownersMu.Lock()
		o, ok := a.owners[rep.OrderID]
		if ok && rep.OrderStatus.Terminal() {
			delete(a.owners, rep.OrderID)
		}
		a.ownersMu.Unlock()
		if ok {
			o.sess.sendExecutionReport(o.clOrdID, rep)
		}
	}
}

func (a *Acceptor) nextOrderID() models.OrderID {
	return models.OrderID(atomic.AddUint64(&a.orderSeq, 1))
}

func (a *Acceptor) nextTimestamp() uint64 {
	return atomic.AddUint64(&a.timeSeq, 1)
}

// resolveSymbol maps tag 55 onto an instrument: a registered symbol first,
// then a bare numeric instrument id.
func (a *Acceptor) resolveSymbol(symbol string) (models.InstrumentID, error) {
	if symbol == "" {
		return 0, fmt.Errorf("missing Symbol")
	}
	for _, inst := range a.engine.Instruments() {
		if inst.Symbol == symbol {
			return inst.ID, nil
		}
	}
	var id uint64
	if _, err := fmt.Sscanf(symbol, "%d", &id); err == nil && id != 0 {
		return models.InstrumentID(id), nil
	}
	return 0, fmt.Errorf("unknown Symbol %q", symbol)
}

// ListenAndServe accepts connections until Close is called.
func (a *Acceptor) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("fix listen %s: %w", addr, err)
	}
	a.lnMu.Lock()
	a.ln = ln
	a.lnMu.Unlock()
	a.logger.Info("fix acceptor listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go newSession(a, conn).run()
	}
}

// Close stops the listener. Established sessions run until their
// connections drop.
func (a *Acceptor) Close() error {
	a.lnMu.Lock()
	defer a.lnMu.Unlock()
	if a.ln != nil {
		return a.ln.Close()
	}
	return nil
}

// ServeConn runs one session on an existing connection. Used by tests with
// net.Pipe.
func (a *Acceptor) ServeConn(conn net.Conn) {
	newSession(a, conn).run()
}
