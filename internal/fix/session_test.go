package fix

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dire-exchange/dire-engine/internal/engine"
	"github.com/dire-exchange/dire-engine/pkg/models"
)

// fixClient drives one side of a net.Pipe as a FIX counterparty.
type fixClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	compID string
	seq    uint64
}

func dial(t *testing.T, a *Acceptor, compID string) *fixClient {
	t.Helper()
	server, client := net.Pipe()
	go a.ServeConn(server)
	c := &fixClient{t: t, conn: client, reader: bufio.NewReader(client), compID: compID}
	t.Cleanup(func() { client.Close() })

	c.send(NewMessage(MsgTypeLogon).SetInt(TagHeartBtInt, 30))
	logon := c.recv()
	require.Equal(t, MsgTypeLogon, logon.MsgType)
	return c
}

func (c *fixClient) send(msg *Message) {
	c.t.Helper()
	c.seq++
	raw := msg.Encode(c.compID, "DIRE", c.seq, "20260824-12:00:00.000")
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := c.conn.Write(raw)
	require.NoError(c.t, err)
}

func (c *fixClient) recv() *Message {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := ReadMessage(c.reader)
	require.NoError(c.t, err)
	return msg
}

func newOrderSingle(clOrdID, symbol, side, qty, ordType, price, tif string) *Message {
	msg := NewMessage(MsgTypeNewOrderSingle).
		Set(TagClOrdID, clOrdID).
		Set(TagSymbol, symbol).
		Set(TagSide, side).
		Set(TagOrderQty, qty).
		Set(TagOrdType, ordType).
		Set(TagTransactTime, "20260824-12:00:00.000")
	if price != "" {
		msg.Set(TagPrice, price)
	}
	if tif != "" {
		msg.Set(TagTimeInForce, tif)
	}
	return msg
}

func newAcceptor(t *testing.T) *Acceptor {
	t.Helper()
	e := engine.New(zap.NewNop())
	require.NoError(t, e.AddInstrument(1, "DIRE-USD"))
	return NewAcceptor(zap.NewNop(), e, "DIRE", 30*time.Second)
}

func TestLogonHeartbeatLogout(t *testing.T) {
	a := newAcceptor(t)
	c := dial(t, a, "CLIENT")

	c.send(NewMessage(MsgTypeTestRequest).Set(TagTestReqID, "ping-1"))
	hb := c.recv()
	assert.Equal(t, MsgTypeHeartbeat, hb.MsgType)
	assert.Equal(t, "ping-1", hb.GetOrEmpty(TagTestReqID))

	c.send(NewMessage(MsgTypeLogout))
	assert.Equal(t, MsgTypeLogout, c.recv().MsgType)
}

func TestNewOrderSingleRestsAndReports(t *testing.T) {
	a := newAcceptor(t)
	c := dial(t, a, "CLIENT")

	c.send(newOrderSingle("ord-1", "DIRE-USD", "1", "10", "2", "100", "1"))
	rep := c.recv()
	require.Equal(t, MsgTypeExecutionReport, rep.MsgType)
	assert.Equal(t, "ord-1", rep.GetOrEmpty(TagClOrdID))
	assert.Equal(t, "0", rep.GetOrEmpty(TagExecType))  // New
	assert.Equal(t, "0", rep.GetOrEmpty(TagOrdStatus)) // New
	assert.Equal(t, "10", rep.GetOrEmpty(TagLeavesQty))

	assert.Equal(t, 1, a.engine.RestingCount())
}

func TestCrossFromTwoSessionsTrades(t *testing.T) {
	a := newAcceptor(t)
	seller := dial(t, a, "SELLER")
	buyer := dial(t, a, "BUYER")

	seller.send(newOrderSingle("s-1", "DIRE-USD", "2", "5", "2", "100", "1"))
	require.Equal(t, "0", seller.recv().GetOrEmpty(TagExecType))

	buyer.send(newOrderSingle("b-1", "DIRE-USD", "1", "5", "2", "100", "1"))

	// The resting seller's fill is routed to its own session first.
	sellerFill := seller.recv()
	require.Equal(t, MsgTypeExecutionReport, sellerFill.MsgType)
	assert.Equal(t, "s-1", sellerFill.GetOrEmpty(TagClOrdID))
	assert.Equal(t, "F", sellerFill.GetOrEmpty(TagExecType))
	assert.Equal(t, "2", sellerFill.GetOrEmpty(TagOrdStatus))

	rep := buyer.recv()
	require.Equal(t, MsgTypeExecutionReport, rep.MsgType)
	assert.Equal(t, "b-1", rep.GetOrEmpty(TagClOrdID))
	assert.Equal(t, "F", rep.GetOrEmpty(TagExecType))  // Trade
	assert.Equal(t, "2", rep.GetOrEmpty(TagOrdStatus)) // Filled
	assert.Equal(t, "5", rep.GetOrEmpty(TagCumQty))
	assert.Equal(t, "0", rep.GetOrEmpty(TagLeavesQty))
	assert.Equal(t, "100", rep.GetOrEmpty(TagAvgPx))

	assert.Equal(t, 0, a.engine.RestingCount())
}

func TestMarketOrderWithoutPrice(t *testing.T) {
	a := newAcceptor(t)
	c := dial(t, a, "CLIENT")

	// Market order on an empty book cancels.
	c.send(newOrderSingle("m-1", "DIRE-USD", "1", "5", "1", "", "3"))
	rep := c.recv()
	assert.Equal(t, "4", rep.GetOrEmpty(TagExecType))  // Canceled
	assert.Equal(t, "4", rep.GetOrEmpty(TagOrdStatus)) // Canceled
}

func TestCancelRequestFlow(t *testing.T) {
	a := newAcceptor(t)
	c := dial(t, a, "CLIENT")

	c.send(newOrderSingle("ord-1", "DIRE-USD", "1", "10", "2", "100", "1"))
	require.Equal(t, "0", c.recv().GetOrEmpty(TagExecType))

	c.send(NewMessage(MsgTypeOrderCancelRequest).
		Set(TagClOrdID, "cxl-1").
		Set(TagOrigClOrdID, "ord-1"))
	rep := c.recv()
	require.Equal(t, MsgTypeExecutionReport, rep.MsgType)
	assert.Equal(t, "4", rep.GetOrEmpty(TagExecType))
	assert.Equal(t, "10", rep.GetOrEmpty(TagLeavesQty))
	assert.Equal(t, 0, a.engine.RestingCount())

	// Cancelling again rejects.
	c.send(NewMessage(MsgTypeOrderCancelRequest).
		Set(TagClOrdID, "cxl-2").
		Set(TagOrigClOrdID, "ord-1"))
	rej := c.recv()
	assert.Equal(t, MsgTypeOrderCancelReject, rej.MsgType)
}

func TestCancelReplaceFlow(t *testing.T) {
	a := newAcceptor(t)
	c := dial(t, a, "CLIENT")

	c.send(newOrderSingle("ord-1", "DIRE-USD", "2", "10", "2", "100", "1"))
	require.Equal(t, "0", c.recv().GetOrEmpty(TagExecType))

	replace := newOrderSingle("ord-2", "DIRE-USD", "2", "10", "2", "99", "1")
	replace.MsgType = MsgTypeCancelReplace
	replace.Set(TagOrigClOrdID, "ord-1")
	c.send(replace)

	// Cancel report for the original, then New for the replacement.
	cxl := c.recv()
	assert.Equal(t, "4", cxl.GetOrEmpty(TagExecType))
	neu := c.recv()
	assert.Equal(t, "0", neu.GetOrEmpty(TagExecType))
	assert.Equal(t, "ord-2", neu.GetOrEmpty(TagClOrdID))

	orders, err := a.engine.RestingOrders(1)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "99", orders[0].Price.String())
}

func TestRejectFlows(t *testing.T) {
	a := newAcceptor(t)
	c := dial(t, a, "CLIENT")

	t.Run("unknown symbol", func(t *testing.T) {
		c.send(newOrderSingle("ord-1", "NOPE-USD", "1", "10", "2", "100", "1"))
		rep := c.recv()
		assert.Equal(t, "8", rep.GetOrEmpty(TagExecType))
		assert.Contains(t, rep.GetOrEmpty(TagText), "Symbol")
	})

	t.Run("halted market", func(t *testing.T) {
		a.engine.SetMarketState(models.MarketStateHalted)
		defer a.engine.SetMarketState(models.MarketStateOpen)
		c.send(newOrderSingle("ord-2", "DIRE-USD", "1", "10", "2", "100", "1"))
		rep := c.recv()
		assert.Equal(t, "8", rep.GetOrEmpty(TagOrdStatus))
		assert.Equal(t, "market not open", rep.GetOrEmpty(TagText))
	})

	t.Run("unsupported msgtype", func(t *testing.T) {
		c.send(NewMessage("W"))
		rej := c.recv()
		assert.Equal(t, MsgTypeReject, rej.MsgType)
	})
}

func TestNumericSymbolResolvesInstrument(t *testing.T) {
	a := newAcceptor(t)
	require.NoError(t, a.engine.AddInstrument(2, ""))
	c := dial(t, a, "CLIENT")

	c.send(newOrderSingle("ord-1", "2", "1", "10", "2", "100", "1"))
	rep := c.recv()
	assert.Equal(t, "0", rep.GetOrEmpty(TagExecType))
}

func TestTraderForIsStablePerCompID(t *testing.T) {
	assert.Equal(t, traderFor("A"), traderFor("A"))
	assert.NotEqual(t, traderFor("A"), traderFor("B"))
}
