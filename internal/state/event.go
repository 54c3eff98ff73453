package state

// EventKind tags one entry of a run's persisted history.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	// EventOpen starts a ledger with the run's virtual balance and fee rate.
	EventOpen
	// EventMark moves the reference price used for mark-to-market.
	EventMark
	// EventTrade changes the position at the last marked price.
	EventTrade
	// EventCheckpoint carries compacted aggregates in place of older history.
	EventCheckpoint
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMark:
		return "mark"
	case EventTrade:
		return "trade"
	case EventCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Event is one tagged history entry. Only the fields of its kind are set.
type Event struct {
	Kind     EventKind `json:"k"`
	Price    float64   `json:"p,omitempty"`
	Size     float64   `json:"s,omitempty"`
	Balance  float64   `json:"b,omitempty"`
	FeeRate  float64   `json:"f,omitempty"`
	Entry    float64   `json:"e,omitempty"`
	Fees     float64   `json:"x,omitempty"`
	Position float64   `json:"q,omitempty"`
}
