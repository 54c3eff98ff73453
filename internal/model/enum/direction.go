package enum

// Direction is the signed side a run wants to hold.
type Direction int8

const (
	DirectionShort Direction = -1
	DirectionFlat  Direction = 0
	DirectionLong  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionShort:
		return "short"
	case DirectionLong:
		return "long"
	default:
		return "flat"
	}
}

// Invert flips long and short.
func (d Direction) Invert() Direction {
	return -d
}

// Valid reports whether d is one of -1, 0, +1.
func (d Direction) Valid() bool {
	return d >= DirectionShort && d <= DirectionLong
}
