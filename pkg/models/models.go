// Package models defines the core value types shared by the matching engine
// and its protocol adapters: identifiers, enumerations, orders, trades,
// execution reports, and book snapshots.
package models

import (
	"github.com/shopspring/decimal"
)

// Identifier newtypes. Order, trade and execution IDs are engine-scoped
// uint64s; trade and execution IDs are strictly increasing across all
// instruments for the lifetime of an engine.
type (
	OrderID      uint64
	TradeID      uint64
	ExecutionID  uint64
	InstrumentID uint64
	TraderID     uint64
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes priced limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce governs what happens to an unfilled remainder.
type TimeInForce string

const (
	// TimeInForceGTC rests any unfilled remainder on the book.
	TimeInForceGTC TimeInForce = "GTC"
	// TimeInForceIOC cancels any unfilled remainder immediately.
	TimeInForceIOC TimeInForce = "IOC"
	// TimeInForceFOK fills the order entirely and atomically or not at all.
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus is the lifecycle state reported on execution reports.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports no further execution reports for the order.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusRejected
}

// ExecType is the FIX-style reason an execution report was emitted.
type ExecType string

const (
	ExecTypeNew         ExecType = "NEW"
	ExecTypePartialFill ExecType = "PARTIAL_FILL"
	ExecTypeFill        ExecType = "FILL"
	ExecTypeCanceled    ExecType = "CANCELED"
	ExecTypeRejected    ExecType = "REJECTED"
)

// MarketState gates order entry. Cancels are accepted in every state.
type MarketState string

const (
	MarketStateOpen   MarketState = "OPEN"
	MarketStateHalted MarketState = "HALTED"
	MarketStateClosed MarketState = "CLOSED"
)

// Order is the input record handed to the engine by an adapter, fully
// populated after transport-level parsing and auth. Price must be positive
// for limit orders and zero for market orders. Timestamp is the caller's
// logical or wall clock and breaks ties within a price level.
type Order struct {
	OrderID       OrderID         `json:"order_id" binding:"required"`
	ClientOrderID string          `json:"client_order_id"`
	InstrumentID  InstrumentID    `json:"instrument_id" binding:"required"`
	Side          Side            `json:"side" binding:"required,oneof=BUY SELL"`
	OrderType     OrderType       `json:"order_type" binding:"required,oneof=LIMIT MARKET"`
	Quantity      decimal.Decimal `json:"quantity" binding:"required"`
	Price         decimal.Decimal `json:"price"`
	TimeInForce   TimeInForce     `json:"time_in_force" binding:"required,oneof=GTC IOC FOK"`
	Timestamp     uint64          `json:"timestamp"`
	TraderID      TraderID        `json:"trader_id" binding:"required"`
}

// IsLimit reports whether the order is a limit order.
func (o *Order) IsLimit() bool { return o.OrderType == OrderTypeLimit }

// IsMarket reports whether the order is a market order.
func (o *Order) IsMarket() bool { return o.OrderType == OrderTypeMarket }

// Trade is the authoritative record of one match. Price is always the
// resting side's price; the aggressor receives any price improvement.
type Trade struct {
	TradeID       TradeID         `json:"trade_id"`
	InstrumentID  InstrumentID    `json:"instrument_id"`
	BuyOrderID    OrderID         `json:"buy_order_id"`
	SellOrderID   OrderID         `json:"sell_order_id"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Timestamp     uint64          `json:"timestamp"`
	AggressorSide Side            `json:"aggressor_side"`
}

// ExecutionReport describes one order state change. FilledQuantity is
// cumulative for the order; AvgPrice is the quantity-weighted average over
// its fills and nil until the first fill. LastQty and LastPx are set only on
// reports that correspond to a fill. Text carries the reject reason on
// Rejected reports.
type ExecutionReport struct {
	OrderID           OrderID          `json:"order_id"`
	ExecID            ExecutionID      `json:"exec_id"`
	ExecType          ExecType         `json:"exec_type"`
	OrderStatus       OrderStatus      `json:"order_status"`
	FilledQuantity    decimal.Decimal  `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal  `json:"remaining_quantity"`
	AvgPrice          *decimal.Decimal `json:"avg_price"`
	LastQty           *decimal.Decimal `json:"last_qty"`
	LastPx            *decimal.Decimal `json:"last_px"`
	Timestamp         uint64           `json:"timestamp"`
	Text              string           `json:"text,omitempty"`
}

// Instrument is a registry entry: an id plus an optional human symbol.
type Instrument struct {
	ID     InstrumentID `json:"instrument_id"`
	Symbol string       `json:"symbol,omitempty"`
}

// BookSnapshot is the top-of-book view for one instrument. BestBid and
// BestAsk are nil when the corresponding side is empty.
type BookSnapshot struct {
	InstrumentID InstrumentID     `json:"instrument_id"`
	BestBid      *decimal.Decimal `json:"best_bid"`
	BestAsk      *decimal.Decimal `json:"best_ask"`
}

// PriceLevel is one aggregated level of a depth snapshot.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// DepthSnapshot is an aggregated multi-level view of one book, best levels
// first on both sides.
type DepthSnapshot struct {
	InstrumentID InstrumentID `json:"instrument_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// RestingOrder is the externally visible form of an order resting on a book.
type RestingOrder struct {
	OrderID       OrderID         `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	InstrumentID  InstrumentID    `json:"instrument_id"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Remaining     decimal.Decimal `json:"remaining"`
	TraderID      TraderID        `json:"trader_id"`
	Timestamp     uint64          `json:"timestamp"`
}
