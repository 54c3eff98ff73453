package state

import (
	"fmt"
	"math"
)

// Ledger folds a run's trade history into position and PnL aggregates.
// The same event sequence always yields the same aggregates.
type Ledger struct {
	balance    float64
	feeRate    float64
	position   float64
	entryValue float64
	fees       float64
	lastPrice  float64
	opened     bool
	events     []Event
}

// NewLedger opens an empty ledger.
func NewLedger(balance, feeRate float64) (*Ledger, error) {
	l := &Ledger{}
	if err := l.Apply(Event{Kind: EventOpen, Balance: balance, FeeRate: feeRate}); err != nil {
		return nil, err
	}
	return l, nil
}

// Apply validates e, updates the aggregates and appends e to the history.
func (l *Ledger) Apply(e Event) error {
	if err := l.apply(e); err != nil {
		return err
	}
	l.events = append(l.events, e)
	return nil
}

func (l *Ledger) apply(e Event) error {
	if e.Kind != EventOpen && !l.opened {
		return fmt.Errorf("%s event before open", e.Kind)
	}
	switch e.Kind {
	case EventOpen:
		if l.opened {
			return fmt.Errorf("duplicate open event")
		}
		if !finite(e.Balance, e.FeeRate) || e.Balance <= 0 || e.FeeRate < 0 {
			return fmt.Errorf("invalid open: balance=%v fee_rate=%v", e.Balance, e.FeeRate)
		}
		l.balance = e.Balance
		l.feeRate = e.FeeRate
		l.opened = true
	case EventMark:
		if !finite(e.Price) || e.Price <= 0 {
			return fmt.Errorf("invalid mark price: %v", e.Price)
		}
		l.lastPrice = e.Price
	case EventTrade:
		if !finite(e.Price, e.Size) || e.Price <= 0 || e.Size == 0 {
			return fmt.Errorf("invalid trade: price=%v size=%v", e.Price, e.Size)
		}
		notional := e.Price * e.Size
		l.position += e.Size
		l.entryValue += notional
		l.fees += math.Abs(notional) * l.feeRate * 2
		l.lastPrice = e.Price
	case EventCheckpoint:
		if !finite(e.Position, e.Entry, e.Fees, e.Price) || e.Fees < 0 || e.Price < 0 {
			return fmt.Errorf("invalid checkpoint")
		}
		l.position = e.Position
		l.entryValue = e.Entry
		l.fees = e.Fees
		l.lastPrice = e.Price
	default:
		return fmt.Errorf("unknown event kind: %d", e.Kind)
	}
	return nil
}

// Mark records the latest price.
func (l *Ledger) Mark(price float64) error {
	return l.Apply(Event{Kind: EventMark, Price: price})
}

// Trade changes the position by size at the last marked price.
func (l *Ledger) Trade(size float64) error {
	if l.lastPrice <= 0 {
		return fmt.Errorf("trade before first mark")
	}
	return l.Apply(Event{Kind: EventTrade, Price: l.lastPrice, Size: size})
}

// Rebalance trades the difference between the current position and target.
func (l *Ledger) Rebalance(target float64) error {
	delta := target - l.position
	if math.Abs(delta) < 1e-12 {
		return nil
	}
	return l.Trade(delta)
}

// PnL is the mark-to-market profit after fees.
func (l *Ledger) PnL() float64 {
	return l.position*l.lastPrice - l.entryValue - l.fees
}

func (l *Ledger) Balance() float64 {
	return l.balance + l.PnL()
}

func (l *Ledger) StartBalance() float64 {
	return l.balance
}

func (l *Ledger) Position() float64 {
	return l.position
}

func (l *Ledger) LastPrice() float64 {
	return l.lastPrice
}

func (l *Ledger) Len() int {
	return len(l.events)
}

// Events returns a copy of the history.
func (l *Ledger) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Compact replaces the history with an open and a checkpoint carrying the
// current aggregates. PnL is unchanged.
func (l *Ledger) Compact() {
	l.events = []Event{
		{Kind: EventOpen, Balance: l.balance, FeeRate: l.feeRate},
		{Kind: EventCheckpoint, Position: l.position, Entry: l.entryValue, Fees: l.fees, Price: l.lastPrice},
	}
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
