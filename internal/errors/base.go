package errors

import (
	"errors"
)

var (
	_ error = (*wrappedError)(nil)
	_ error = (*kindError)(nil)
)

func New(text string) error {
	return errors.New(text)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func Wrap(err error, text string) error {
	if err == nil {
		return nil
	}

	if len(text) == 0 {
		return err
	}

	return &wrappedError{
		err: err,
		msg: text,
	}
}

type wrappedError struct {
	err error
	msg string
}

const sep = ", err: "

func (err wrappedError) Error() string {
	if err.err == nil {
		return err.msg
	}

	return err.msg + sep + err.err.Error()
}

func (err wrappedError) Unwrap() error {
	if err.err == nil {
		return errors.New(err.msg)
	}

	return err.err
}

// Kind classifies a failure so the task layer can decide what to do with it.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindTransientIO covers store, cache and network unavailability. Retried.
	KindTransientIO
	// KindConsensus means observers were missing or disagreed. The cycle is skipped.
	KindConsensus
	// KindConfiguration is a missing or invalid configuration value. Fatal at startup.
	KindConfiguration
	// KindStateCorruption means persisted run state could not be replayed.
	KindStateCorruption
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient_io"
	case KindConsensus:
		return "consensus"
	case KindConfiguration:
		return "configuration"
	case KindStateCorruption:
		return "state_corruption"
	default:
		return "unknown"
	}
}

type kindError struct {
	err  error
	kind Kind
}

func (err kindError) Error() string {
	return err.err.Error()
}

func (err kindError) Unwrap() error {
	return err.err
}

// Mark attaches kind to err. The outermost kind wins in KindOf.
func Mark(err error, kind Kind) error {
	if err == nil {
		return nil
	}

	return &kindError{err: err, kind: kind}
}

// Transient marks err as KindTransientIO.
func Transient(err error) error {
	return Mark(err, KindTransientIO)
}

// KindOf returns the first kind found walking the unwrap chain.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}

	return KindUnknown
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransientIO
}
