package p2p

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when an operation needs an identity that
	// does not exist or a required field is missing.
	ErrInvalidArgument = errors.New("p2p: invalid argument")

	// ErrParse matches every *ParseError via errors.Is.
	ErrParse = errors.New("p2p: parse error")
)

// ParseError describes a control-interface line that could not be parsed.
// A failed parse never yields a partial record.
type ParseError struct {
	Reason string
	Line   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("p2p: parse %q: %s", e.Line, e.Reason)
}

// Is makes errors.Is(err, ErrParse) true for any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func parseErrorf(line, format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Line: line}
}
