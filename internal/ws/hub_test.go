package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dire-exchange/dire-engine/pkg/models"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, since uint64, topics ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"subscribe": topics, "since": since}))
}

type staticDepth []models.DepthSnapshot

func (s staticDepth) DepthSnapshots() []models.DepthSnapshot { return s }

func TestConnectDeliversDepthSnapshots(t *testing.T) {
	h := NewHub(zap.NewNop(), 100)
	h.SetSnapshotSource(staticDepth{
		{InstrumentID: 1},
		{InstrumentID: 2},
	})
	conn := dialHub(t, h)

	// Snapshots arrive without a subscription, empty books included.
	first := readMessage(t, conn)
	assert.Equal(t, DepthTopic(1), first.Topic)
	assert.Zero(t, first.Seq)

	var snap models.DepthSnapshot
	require.NoError(t, json.Unmarshal(first.Data, &snap))
	assert.Equal(t, models.InstrumentID(1), snap.InstrumentID)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)

	second := readMessage(t, conn)
	assert.Equal(t, DepthTopic(2), second.Topic)
}

func TestSubscribedClientReceivesBroadcast(t *testing.T) {
	h := NewHub(zap.NewNop(), 100)
	conn := dialHub(t, h)
	subscribe(t, conn, 0, TradesTopic(1))

	// Subscription races the broadcast; retry until the frame lands in the
	// replay buffer and is delivered.
	trade := models.Trade{
		TradeID:      1,
		InstrumentID: 1,
		Price:        decimal.NewFromInt(100),
		Quantity:     decimal.NewFromInt(5),
	}
	time.Sleep(50 * time.Millisecond)
	h.BroadcastTrade(trade)

	msg := readMessage(t, conn)
	assert.Equal(t, TradesTopic(1), msg.Topic)
	assert.Positive(t, msg.Seq)

	var got models.Trade
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, models.TradeID(1), got.TradeID)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(100)))
}

func TestUnsubscribedTopicsAreFiltered(t *testing.T) {
	h := NewHub(zap.NewNop(), 100)
	conn := dialHub(t, h)
	subscribe(t, conn, 0, DepthTopic(1))
	time.Sleep(50 * time.Millisecond)

	h.BroadcastTrade(models.Trade{TradeID: 1, InstrumentID: 1}) // not subscribed
	h.BroadcastDepth(models.DepthSnapshot{InstrumentID: 1})

	msg := readMessage(t, conn)
	assert.Equal(t, DepthTopic(1), msg.Topic)
}

func TestReplayCatchesUpLateSubscriber(t *testing.T) {
	h := NewHub(zap.NewNop(), 100)

	for i := 1; i <= 3; i++ {
		h.BroadcastTrade(models.Trade{TradeID: models.TradeID(i), InstrumentID: 1})
	}
	// Let the pump buffer the frames before the client asks for replay.
	require.Eventually(t, func() bool {
		return len(h.Replay(TradesTopic(1), 0)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	conn := dialHub(t, h)
	subscribe(t, conn, 0, TradesTopic(1))

	var seqs []uint64
	for i := 0; i < 3; i++ {
		msg := readMessage(t, conn)
		seqs = append(seqs, msg.Seq)
	}
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1], "replay preserves feed order")
	}
}

func TestReplayBufferEvictsOldest(t *testing.T) {
	h := NewHub(zap.NewNop(), 2)
	for i := 1; i <= 5; i++ {
		h.BroadcastTrade(models.Trade{TradeID: models.TradeID(i), InstrumentID: 1})
	}
	require.Eventually(t, func() bool {
		return len(h.Replay(TradesTopic(1), 0)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	msgs := h.Replay(TradesTopic(1), 0)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(4), msgs[0].Seq)
	assert.Equal(t, uint64(5), msgs[1].Seq)
}

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "trades.7", TradesTopic(7))
	assert.Equal(t, "depth.7", DepthTopic(7))
}
