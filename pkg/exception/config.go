package exception

import "errors"

var (
	ErrConfigMissing = errors.New("config: missing required value")
	ErrConfigInvalid = errors.New("config: invalid value")
)
