// Package marketdata generates deterministic synthetic order flow for replay
// tests, demos and benchmarks. The same config and seed always produce the
// same order stream.
package marketdata

import (
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/dire-exchange/dire-engine/internal/engine"
	"github.com/dire-exchange/dire-engine/pkg/models"
)

// GeneratorConfig shapes the synthetic stream. All ranges are inclusive.
type GeneratorConfig struct {
	// Seed drives the RNG; same seed, same stream.
	Seed int64
	// InstrumentID is stamped on every generated order.
	InstrumentID models.InstrumentID
	// NumOrders is the stream length used by Take and the replay helpers.
	NumOrders int
	// BuyRatio is the probability of a buy order; sell otherwise.
	BuyRatio float64
	// LimitRatio is the probability of a limit order; market otherwise.
	LimitRatio float64
	// PriceMin and PriceMax bound limit prices.
	PriceMin int64
	PriceMax int64
	// QuantityMin and QuantityMax bound order quantities in whole units.
	QuantityMin int64
	QuantityMax int64
	// GTCRatio then IOCRatio pick the time in force; FOK takes the rest.
	GTCRatio float64
	IOCRatio float64
	// NumTraders is the number of distinct trader ids (1..NumTraders).
	NumTraders uint64
}

// DefaultConfig mirrors a busy single-instrument session: mostly GTC limit
// orders in a tight band around 100.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Seed:         0,
		InstrumentID: 1,
		NumOrders:    1000,
		BuyRatio:     0.5,
		LimitRatio:   0.9,
		PriceMin:     95,
		PriceMax:     105,
		QuantityMin:  1,
		QuantityMax:  100,
		GTCRatio:     0.8,
		IOCRatio:     0.1,
		NumTraders:   5,
	}
}

// Generator is a deterministic order stream.
type Generator struct {
	rng           *rand.Rand
	cfg           GeneratorConfig
	nextOrderID   uint64
	nextTimestamp uint64
}

// NewGenerator builds a generator for the given config.
func NewGenerator(cfg GeneratorConfig) *Generator {
	return &Generator{
		rng:           rand.New(rand.NewSource(cfg.Seed)),
		cfg:           cfg,
		nextOrderID:   1,
		nextTimestamp: 1,
	}
}

// Next produces the next order in the stream and advances the generator.
func (g *Generator) Next() models.Order {
	orderID := models.OrderID(g.nextOrderID)
	g.nextOrderID++

	side := models.SideSell
	if g.rng.Float64() < g.cfg.BuyRatio {
		side = models.SideBuy
	}

	orderType := models.OrderTypeMarket
	price := decimal.Zero
	if g.rng.Float64() < g.cfg.LimitRatio {
		orderType = models.OrderTypeLimit
		span := g.cfg.PriceMax - g.cfg.PriceMin + 1
		price = decimal.NewFromInt(g.cfg.PriceMin + g.rng.Int63n(span))
	}

	qtySpan := g.cfg.QuantityMax - g.cfg.QuantityMin + 1
	quantity := decimal.NewFromInt(g.cfg.QuantityMin + g.rng.Int63n(qtySpan))

	tif := models.TimeInForceFOK
	switch r := g.rng.Float64(); {
	case r < g.cfg.GTCRatio:
		tif = models.TimeInForceGTC
	case r < g.cfg.GTCRatio+g.cfg.IOCRatio:
		tif = models.TimeInForceIOC
	}

	traders := g.cfg.NumTraders
	if traders == 0 {
		traders = 1
	}
	trader := models.TraderID(1 + g.rng.Int63n(int64(traders)))

	timestamp := g.nextTimestamp
	g.nextTimestamp++

	return models.Order{
		OrderID:       orderID,
		ClientOrderID: fmt.Sprintf("gen-%d", orderID),
		InstrumentID:  g.cfg.InstrumentID,
		Side:          side,
		OrderType:     orderType,
		Quantity:      quantity,
		Price:         price,
		TimeInForce:   tif,
		Timestamp:     timestamp,
		TraderID:      trader,
	}
}

// Take returns the next n orders.
func (g *Generator) Take(n int) []models.Order {
	out := make([]models.Order, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Next())
	}
	return out
}

// ReplaySummary aggregates the engine output of one replayed stream.
type ReplaySummary struct {
	Orders   int
	Trades   []models.Trade
	Reports  []models.ExecutionReport
	Rejected int
}

// ReplayIntoEngine submits every order of a stream into the engine in order
// and collects all output. Validation rejects are counted, not fatal.
func ReplayIntoEngine(e *engine.Engine, orders []models.Order) ReplaySummary {
	summary := ReplaySummary{Orders: len(orders)}
	for _, o := range orders {
		trades, reports, err := e.SubmitOrder(o)
		if err != nil {
			summary.Rejected++
		}
		summary.Trades = append(summary.Trades, trades...)
		summary.Reports = append(summary.Reports, reports...)
	}
	return summary
}

// Replay generates cfg.NumOrders orders and replays them into the engine.
func Replay(e *engine.Engine, cfg GeneratorConfig) ReplaySummary {
	g := NewGenerator(cfg)
	return ReplayIntoEngine(e, g.Take(cfg.NumOrders))
}
