package state

import (
	"fmt"

	"github.com/bytedance/sonic"

	"providence/internal/errors"
	"providence/pkg/exception"
)

// Encode serialises the ledger history. Aggregates are never stored; they
// are rebuilt by Replay.
func Encode(l *Ledger) ([]byte, error) {
	return sonic.ConfigStd.Marshal(l.events)
}

// Replay rebuilds a ledger by folding the persisted history in order.
// Any undecodable or invalid history is reported as state corruption rather
// than replaced by an empty ledger.
func Replay(blob []byte) (*Ledger, error) {
	if len(blob) == 0 {
		return nil, corrupted(fmt.Errorf("empty history"))
	}
	var events []Event
	if err := sonic.ConfigStd.Unmarshal(blob, &events); err != nil {
		return nil, corrupted(err)
	}
	if len(events) == 0 || events[0].Kind != EventOpen {
		return nil, corrupted(fmt.Errorf("history does not start with open"))
	}

	l := &Ledger{events: make([]Event, 0, len(events))}
	for i, e := range events {
		if err := l.Apply(e); err != nil {
			return nil, corrupted(fmt.Errorf("event %d: %w", i, err))
		}
	}
	return l, nil
}

func corrupted(err error) error {
	return errors.Mark(errors.Wrap(exception.ErrRunCorrupted, err.Error()), errors.KindStateCorruption)
}
