package exception

import "errors"

// Run lifecycle errors
var (
	ErrRunNotFound       = errors.New("run: not found")
	ErrRunStaleState     = errors.New("run: loaded state is stale")
	ErrRunCorrupted      = errors.New("run: persisted state cannot be replayed")
	ErrRunTerminated     = errors.New("run: exit flag set")
	ErrHeightInterrupted = errors.New("height: assignment interrupted")
	ErrEmptyEntropyWin   = errors.New("entropy: window shorter than pattern span")
	ErrEntropyOrder      = errors.New("entropy: order out of range")
)
