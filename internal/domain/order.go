package domain

import (
	"fmt"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OrderPurpose distinguishes position-opening orders from closing ones.
type OrderPurpose string

const (
	OrderPurposeEntry OrderPurpose = "entry"
	OrderPurposeExit  OrderPurpose = "exit"
)

// Order is a resting limit order on one outcome token.
type Order struct {
	ID         string
	ExchangeID string // id assigned by the venue; equals ID in paper mode
	Side       OrderSide
	Outcome    Outcome
	TokenID    string
	LimitPrice float64
	Size       float64
	FilledSize float64
	Status     OrderStatus
	Purpose    OrderPurpose
	ExitReason ExitReason // set on exit orders
	PositionID string     // position opened or closed by this order
	WindowSlug string
	Mode       string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() float64 {
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// Notional returns limit price times size.
func (o Order) Notional() float64 {
	return o.LimitPrice * o.Size
}

// Transition moves the order to status `to`, rejecting illegal moves.
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// fillTolerance absorbs float rounding when summing fills.
const fillTolerance = 1e-9

// ApplyFill records a fill against the order and advances its status.
// The cumulative filled size never exceeds Size.
func (o *Order) ApplyFill(f Fill) error {
	if f.Size <= 0 {
		return fmt.Errorf("%w: non-positive fill size %v", ErrInvalidOrder, f.Size)
	}
	if o.FilledSize+f.Size > o.Size+fillTolerance {
		return fmt.Errorf("%w: order %s filled %v + %v > %v", ErrOverfill, o.ID, o.FilledSize, f.Size, o.Size)
	}
	next := OrderStatusPartiallyFilled
	if o.FilledSize+f.Size >= o.Size-fillTolerance {
		next = OrderStatusFilled
	}
	if err := o.Transition(next, f.Timestamp); err != nil {
		return err
	}
	o.FilledSize += f.Size
	if next == OrderStatusFilled {
		o.FilledSize = o.Size
	}
	return nil
}

// Fill is one execution against an order.
type Fill struct {
	ID        string
	OrderID   string
	Price     float64
	Size      float64
	Timestamp time.Time
}

// LimitOrderRequest is what the order manager hands to an Executor.
type LimitOrderRequest struct {
	ClientID string
	TokenID  string
	Side     OrderSide
	Price    float64
	Size     float64
}
