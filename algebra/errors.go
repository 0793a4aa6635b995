package algebra

import (
	"errors"
	"fmt"
)

var (
	ErrSyntax          = errors.New("syntax error")
	ErrUnknownBand     = errors.New("unknown band")
	ErrUnknownFunction = errors.New("unknown function")
	ErrShapeMismatch   = errors.New("shape mismatch")
)

// Error describes a formula failure. Kind is one of the Err* sentinels and
// can be tested with errors.Is. Pos is the byte offset in the formula.
type Error struct {
	Kind error
	Pos  int
	Name string
	Msg  string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v at position %d", e.Kind, e.Pos)
	if e.Name != "" {
		msg = fmt.Sprintf("%s: '%s'", msg, e.Name)
	}
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func syntaxError(pos int, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrSyntax, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
