package error

import (
	"fmt"
	"strings"
)

// Kind classifies an error so that callers can decide how to recover.
type Kind int

const (
	KindParse Kind = iota + 1
	KindValidation
	KindBudget
	KindMatcher
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse error"
	case KindValidation:
		return "validation error"
	case KindBudget:
		return "budget exceeded"
	case KindMatcher:
		return "matcher error"
	case KindSerialization:
		return "serialization error"
	}
	return "unknown error"
}

// GrammarError is an error with a kind and, when the source is text-based,
// the position the error was detected at. Row and Col count from 1; 0 means
// the position is unknown or meaningless for the source.
type GrammarError struct {
	Kind       Kind
	Cause      error
	SourceName string
	Row        int
	Col        int
}

func (e *GrammarError) Error() string {
	var b strings.Builder
	if e.SourceName != "" {
		fmt.Fprintf(&b, "%v: ", e.SourceName)
	}
	if e.Row != 0 {
		fmt.Fprintf(&b, "%v:%v: ", e.Row, e.Col)
	}
	fmt.Fprintf(&b, "%v: %v", e.Kind, e.Cause)
	return b.String()
}

func (e *GrammarError) Unwrap() error {
	return e.Cause
}

func New(kind Kind, format string, args ...interface{}) *GrammarError {
	return &GrammarError{
		Kind:  kind,
		Cause: fmt.Errorf(format, args...),
	}
}

func NewAt(kind Kind, row, col int, format string, args ...interface{}) *GrammarError {
	return &GrammarError{
		Kind:  kind,
		Cause: fmt.Errorf(format, args...),
		Row:   row,
		Col:   col,
	}
}

// KindOf reports the kind of err, or 0 when err is not a GrammarError.
func KindOf(err error) Kind {
	if e, ok := err.(*GrammarError); ok {
		return e.Kind
	}
	return 0
}
