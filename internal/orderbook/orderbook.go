// Package orderbook maintains the resting orders of one instrument under
// price-time priority. Price levels are kept in B-trees (bids descending,
// asks ascending); each level holds a FIFO queue so earlier orders match
// first. A secondary index keyed by order id makes cancel O(log L) in the
// number of price levels.
package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/dire-exchange/dire-engine/pkg/models"
)

// Entry is one resting order. Quantity is the quantity originally submitted;
// Filled accumulates across the order's whole lifetime, including fills it
// took as an aggressor before resting, so that filled+remaining always equals
// the submitted quantity.
type Entry struct {
	OrderID       models.OrderID
	ClientOrderID string
	TraderID      models.TraderID
	Side          models.Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Filled        decimal.Decimal
	Timestamp     uint64

	// notional is sum(fill price * fill qty); AvgPrice derives from it.
	notional decimal.Decimal
}

// Remaining returns the quantity still resting.
func (e *Entry) Remaining() decimal.Decimal {
	return e.Quantity.Sub(e.Filled)
}

// AvgPrice returns the quantity-weighted average fill price, or nil if the
// order has no fills.
func (e *Entry) AvgPrice() *decimal.Decimal {
	if !e.Filled.IsPositive() {
		return nil
	}
	avg := e.notional.Div(e.Filled)
	return &avg
}

// SetFillState seeds cumulative fill tracking for an aggressor remainder
// that rests after partial fills.
func (e *Entry) SetFillState(filled, notional decimal.Decimal) {
	e.Filled = filled
	e.notional = notional
}

func (e *Entry) applyFill(price, qty decimal.Decimal) {
	e.Filled = e.Filled.Add(qty)
	e.notional = e.notional.Add(price.Mul(qty))
}

// Fill records liquidity taken from one resting order. The Resting* fields
// reflect the resting order's cumulative state after the fill, which is what
// its execution report carries.
type Fill struct {
	RestingOrderID   models.OrderID
	RestingTraderID  models.TraderID
	Price            decimal.Decimal
	Quantity         decimal.Decimal
	RestingDone      bool
	RestingFilled    decimal.Decimal
	RestingRemaining decimal.Decimal
	RestingAvgPrice  *decimal.Decimal
	RestingTimestamp uint64
}

// level is a FIFO queue of entries at one price.
type level struct {
	price decimal.Decimal
	queue []*Entry
}

// Book is the order book for a single instrument. It is not safe for
// concurrent use; the engine serialises access behind its lock.
type Book struct {
	instrumentID models.InstrumentID
	bids         *btree.BTreeG[*level] // best (highest) price first
	asks         *btree.BTreeG[*level] // best (lowest) price first
	orders       map[models.OrderID]*Entry
}

// New creates an empty book for the given instrument.
func New(instrumentID models.InstrumentID) *Book {
	return &Book{
		instrumentID: instrumentID,
		bids: btree.NewBTreeG(func(a, b *level) bool {
			return a.price.GreaterThan(b.price)
		}),
		asks: btree.NewBTreeG(func(a, b *level) bool {
			return a.price.LessThan(b.price)
		}),
		orders: make(map[models.OrderID]*Entry),
	}
}

// InstrumentID returns the instrument this book belongs to.
func (b *Book) InstrumentID() models.InstrumentID {
	return b.instrumentID
}

func (b *Book) tree(side models.Side) *btree.BTreeG[*level] {
	if side == models.SideBuy {
		return b.bids
	}
	return b.asks
}

// Add rests an entry at the tail of its price level. The entry must carry a
// positive price and a positive remaining quantity; duplicate order ids are
// rejected.
func (b *Book) Add(e *Entry) error {
	if !e.Price.IsPositive() {
		return fmt.Errorf("resting order %d has non-positive price", e.OrderID)
	}
	if !e.Remaining().IsPositive() {
		return fmt.Errorf("resting order %d has non-positive remaining quantity", e.OrderID)
	}
	if _, exists := b.orders[e.OrderID]; exists {
		return fmt.Errorf("order %d already resting", e.OrderID)
	}
	tree := b.tree(e.Side)
	pivot := &level{price: e.Price}
	lvl, ok := tree.Get(pivot)
	if !ok {
		lvl = &level{price: e.Price}
		tree.Set(lvl)
	}
	lvl.queue = append(lvl.queue, e)
	b.orders[e.OrderID] = e
	return nil
}

// Cancel removes a resting order by id. It returns the removed entry, or
// ok=false when the id is not resting. Cancel of an unknown id is a
// non-event, not an error.
func (b *Book) Cancel(orderID models.OrderID) (*Entry, bool) {
	e, ok := b.orders[orderID]
	if !ok {
		return nil, false
	}
	tree := b.tree(e.Side)
	pivot := &level{price: e.Price}
	lvl, ok := tree.Get(pivot)
	if ok {
		for i, q := range lvl.queue {
			if q.OrderID == orderID {
				lvl.queue = append(lvl.queue[:i], lvl.queue[i+1:]...)
				break
			}
		}
		if len(lvl.queue) == 0 {
			tree.Delete(pivot)
		}
	}
	delete(b.orders, orderID)
	return e, true
}

// Get returns the resting entry for an order id, if present.
func (b *Book) Get(orderID models.OrderID) (*Entry, bool) {
	e, ok := b.orders[orderID]
	return e, ok
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// crosses reports whether a level at price is marketable for an aggressor on
// aggrSide with the given limit. A nil limit (market order) always crosses.
func crosses(aggrSide models.Side, limit *decimal.Decimal, price decimal.Decimal) bool {
	if limit == nil {
		return true
	}
	if aggrSide == models.SideBuy {
		return price.LessThanOrEqual(*limit)
	}
	return price.GreaterThanOrEqual(*limit)
}

// AvailableQty sums the resting quantity an aggressor could fill against:
// opposite-side levels inside the limit, excluding orders owned by exclude.
// Used for the fill-or-kill probe.
func (b *Book) AvailableQty(aggrSide models.Side, limit *decimal.Decimal, exclude models.TraderID) decimal.Decimal {
	total := decimal.Zero
	b.tree(aggrSide.Opposite()).Scan(func(lvl *level) bool {
		if !crosses(aggrSide, limit, lvl.price) {
			return false
		}
		for _, e := range lvl.queue {
			if e.TraderID != exclude {
				total = total.Add(e.Remaining())
			}
		}
		return true
	})
	return total
}

// TakeLiquidity walks the opposite side in match order and consumes up to
// quantity, skipping (not consuming) orders owned by exclude. Fully filled
// resting orders are removed from the book and the index; partially filled
// ones are reduced in place. Fills are returned in the order they occurred.
func (b *Book) TakeLiquidity(aggrSide models.Side, limit *decimal.Decimal, quantity decimal.Decimal, exclude models.TraderID) []Fill {
	tree := b.tree(aggrSide.Opposite())

	// Collect marketable levels first; the tree must not be mutated mid-scan.
	var levels []*level
	tree.Scan(func(lvl *level) bool {
		if !crosses(aggrSide, limit, lvl.price) {
			return false
		}
		levels = append(levels, lvl)
		return true
	})

	var fills []Fill
	remaining := quantity
	for _, lvl := range levels {
		if !remaining.IsPositive() {
			break
		}
		i := 0
		for i < len(lvl.queue) && remaining.IsPositive() {
			e := lvl.queue[i]
			if e.TraderID == exclude {
				i++
				continue
			}
			q := decimal.Min(remaining, e.Remaining())
			remaining = remaining.Sub(q)
			e.applyFill(lvl.price, q)
			done := !e.Remaining().IsPositive()
			fills = append(fills, Fill{
				RestingOrderID:   e.OrderID,
				RestingTraderID:  e.TraderID,
				Price:            lvl.price,
				Quantity:         q,
				RestingDone:      done,
				RestingFilled:    e.Filled,
				RestingRemaining: e.Remaining(),
				RestingAvgPrice:  e.AvgPrice(),
				RestingTimestamp: e.Timestamp,
			})
			if done {
				lvl.queue = append(lvl.queue[:i], lvl.queue[i+1:]...)
				delete(b.orders, e.OrderID)
			} else {
				i++
			}
		}
		if len(lvl.queue) == 0 {
			tree.Delete(lvl)
		}
	}
	return fills
}

// RestingCount returns the number of resting orders on both sides.
func (b *Book) RestingCount() int {
	return len(b.orders)
}

// RestingOrders lists every resting order, bids before asks, in match order.
func (b *Book) RestingOrders() []models.RestingOrder {
	out := make([]models.RestingOrder, 0, len(b.orders))
	collect := func(side models.Side) {
		b.tree(side).Scan(func(lvl *level) bool {
			for _, e := range lvl.queue {
				out = append(out, models.RestingOrder{
					OrderID:       e.OrderID,
					ClientOrderID: e.ClientOrderID,
					InstrumentID:  b.instrumentID,
					Side:          e.Side,
					Price:         e.Price,
					Remaining:     e.Remaining(),
					TraderID:      e.TraderID,
					Timestamp:     e.Timestamp,
				})
			}
			return true
		})
	}
	collect(models.SideBuy)
	collect(models.SideSell)
	return out
}

// Depth aggregates up to maxLevels price levels per side, best first.
func (b *Book) Depth(maxLevels int) models.DepthSnapshot {
	snap := models.DepthSnapshot{InstrumentID: b.instrumentID}
	aggregate := func(side models.Side) []models.PriceLevel {
		var out []models.PriceLevel
		b.tree(side).Scan(func(lvl *level) bool {
			qty := decimal.Zero
			for _, e := range lvl.queue {
				qty = qty.Add(e.Remaining())
			}
			out = append(out, models.PriceLevel{
				Price:    lvl.price,
				Quantity: qty,
				Orders:   len(lvl.queue),
			})
			return len(out) < maxLevels
		})
		return out
	}
	snap.Bids = aggregate(models.SideBuy)
	snap.Asks = aggregate(models.SideSell)
	return snap
}
