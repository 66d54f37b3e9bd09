// Package matching implements the price-time priority matching kernel: it
// runs one incoming order against a book, producing trades and execution
// reports, enforcing self-trade prevention and time-in-force semantics.
package matching

import (
	"github.com/shopspring/decimal"

	"github.com/dire-exchange/dire-engine/internal/orderbook"
	"github.com/dire-exchange/dire-engine/pkg/models"
)

// Sequencer issues trade and execution ids. The engine backs this with its
// global monotonic counters so ids never collide across instruments.
type Sequencer interface {
	NextTradeID() models.TradeID
	NextExecID() models.ExecutionID
}

// Result is the outcome of matching one order.
type Result struct {
	Trades  []models.Trade
	Reports []models.ExecutionReport
	// Rested is true when a GTC remainder was inserted into the book under
	// the aggressor's order id.
	Rested bool
	// RemovedResting lists resting orders fully filled by this invocation,
	// so the caller can drop them from the order-to-instrument index.
	RemovedResting []models.OrderID
	Filled         decimal.Decimal
	Remaining      decimal.Decimal
}

// Run matches order against book. The caller has already validated the order
// and is responsible for recording a rested remainder in its index.
//
// Trades are emitted in match order at the resting side's price. Reports
// carry one entry per fill for the resting orders, in fill order, followed by
// the aggressor's own report last. FOK orders are probed first and produce no
// trades and no book mutation when the probe fails; IOC and Market orders
// never rest.
func Run(book *orderbook.Book, order *models.Order, seq Sequencer) Result {
	res := Result{Filled: decimal.Zero, Remaining: order.Quantity}

	var limit *decimal.Decimal
	if order.IsLimit() {
		p := order.Price
		limit = &p
	}

	if order.TimeInForce == models.TimeInForceFOK {
		available := book.AvailableQty(order.Side, limit, order.TraderID)
		if available.LessThan(order.Quantity) {
			res.Reports = append(res.Reports, models.ExecutionReport{
				OrderID:           order.OrderID,
				ExecID:            seq.NextExecID(),
				ExecType:          models.ExecTypeCanceled,
				OrderStatus:       models.OrderStatusCanceled,
				FilledQuantity:    decimal.Zero,
				RemainingQuantity: order.Quantity,
				Timestamp:         order.Timestamp,
				Text:              "fill-or-kill: insufficient quantity",
			})
			return res
		}
	}

	fills := book.TakeLiquidity(order.Side, limit, order.Quantity, order.TraderID)

	filled := decimal.Zero
	notional := decimal.Zero
	for _, f := range fills {
		filled = filled.Add(f.Quantity)
		notional = notional.Add(f.Price.Mul(f.Quantity))
	}
	remaining := order.Quantity.Sub(filled)
	res.Filled = filled
	res.Remaining = remaining

	for _, f := range fills {
		buyID, sellID := order.OrderID, f.RestingOrderID
		if order.Side == models.SideSell {
			buyID, sellID = f.RestingOrderID, order.OrderID
		}
		res.Trades = append(res.Trades, models.Trade{
			TradeID:       seq.NextTradeID(),
			InstrumentID:  book.InstrumentID(),
			BuyOrderID:    buyID,
			SellOrderID:   sellID,
			Price:         f.Price,
			Quantity:      f.Quantity,
			Timestamp:     order.Timestamp,
			AggressorSide: order.Side,
		})

		execType, status := models.ExecTypePartialFill, models.OrderStatusPartiallyFilled
		if f.RestingDone {
			execType, status = models.ExecTypeFill, models.OrderStatusFilled
			res.RemovedResting = append(res.RemovedResting, f.RestingOrderID)
		}
		lastQty, lastPx := f.Quantity, f.Price
		res.Reports = append(res.Reports, models.ExecutionReport{
			OrderID:           f.RestingOrderID,
			ExecID:            seq.NextExecID(),
			ExecType:          execType,
			OrderStatus:       status,
			FilledQuantity:    f.RestingFilled,
			RemainingQuantity: f.RestingRemaining,
			AvgPrice:          f.RestingAvgPrice,
			LastQty:           &lastQty,
			LastPx:            &lastPx,
			Timestamp:         order.Timestamp,
		})
	}

	var avgPrice *decimal.Decimal
	if filled.IsPositive() {
		avg := notional.Div(filled)
		avgPrice = &avg
	}
	var lastQty, lastPx *decimal.Decimal
	if n := len(fills); n > 0 {
		q, p := fills[n-1].Quantity, fills[n-1].Price
		lastQty, lastPx = &q, &p
	}

	report := models.ExecutionReport{
		OrderID:           order.OrderID,
		ExecID:            0, // assigned below, after the status is known
		FilledQuantity:    filled,
		RemainingQuantity: remaining,
		AvgPrice:          avgPrice,
		LastQty:           lastQty,
		LastPx:            lastPx,
		Timestamp:         order.Timestamp,
	}

	switch {
	case !remaining.IsPositive():
		report.ExecType = models.ExecTypeFill
		report.OrderStatus = models.OrderStatusFilled
	case order.IsMarket() || order.TimeInForce == models.TimeInForceIOC:
		// Unfilled remainder of a market or IOC order is cancelled, never
		// rested. Cumulative fields still reflect what did fill.
		report.ExecType = models.ExecTypeCanceled
		report.OrderStatus = models.OrderStatusCanceled
	default:
		// GTC limit remainder rests at the tail of its price level.
		entry := &orderbook.Entry{
			OrderID:       order.OrderID,
			ClientOrderID: order.ClientOrderID,
			TraderID:      order.TraderID,
			Side:          order.Side,
			Price:         order.Price,
			Quantity:      order.Quantity,
			Timestamp:     order.Timestamp,
		}
		entry.SetFillState(filled, notional)
		if err := book.Add(entry); err == nil {
			res.Rested = true
		}
		if filled.IsPositive() {
			report.ExecType = models.ExecTypePartialFill
			report.OrderStatus = models.OrderStatusPartiallyFilled
		} else {
			report.ExecType = models.ExecTypeNew
			report.OrderStatus = models.OrderStatusNew
		}
	}

	report.ExecID = seq.NextExecID()
	res.Reports = append(res.Reports, report)
	return res
}
