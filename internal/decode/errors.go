package decode

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal decode failure.
type Kind uint8

const (
	KindMalformedRecord Kind = iota + 1
	KindStackUnderflow
	KindNonUTF8Text
	KindUnknownFlag
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindMalformedRecord:
		return "malformed record"
	case KindStackUnderflow:
		return "stack underflow"
	case KindNonUTF8Text:
		return "non-UTF-8 text"
	case KindUnknownFlag:
		return "unknown flag"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is; every *Error unwraps to the one matching its Kind.
var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrNonUTF8Text     = errors.New("non-UTF-8 text")
	ErrUnknownFlag     = errors.New("unknown flag")
)

// Error is a fatal failure that stopped decoding of one buffer.
type Error struct {
	Buffer string // input name, may be empty
	Offset int    // byte offset of the record being decoded
	Line   int    // 1-based line for text input, 0 for binary
	Kind   Kind
	Value  uint64 // offending flag, sub-type or delta, when relevant
}

func (e *Error) Error() string {
	where := fmt.Sprintf("offset %d", e.Offset)
	if e.Line > 0 {
		where = fmt.Sprintf("line %d", e.Line)
	}
	if e.Buffer != "" {
		where = e.Buffer + ": " + where
	}
	switch e.Kind {
	case KindUnknownFlag:
		return fmt.Sprintf("%s: unknown flag 0x%x", where, e.Value)
	case KindMalformedRecord:
		if e.Value != 0 {
			return fmt.Sprintf("%s: malformed record (value 0x%x)", where, e.Value)
		}
		return where + ": malformed record"
	default:
		return where + ": " + e.Kind.String()
	}
}

// Unwrap returns the sentinel for e.Kind.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindMalformedRecord:
		return ErrMalformedRecord
	case KindStackUnderflow:
		return ErrStackUnderflow
	case KindNonUTF8Text:
		return ErrNonUTF8Text
	case KindUnknownFlag:
		return ErrUnknownFlag
	}
	return nil
}

// TextGrammar is the accepted shape of one line of text input.
const TextGrammar = "<tid> <timestamp_us> <enter|exit> <caller_addr> <callee_addr>"

// ParseError reports a line of text input that does not match TextGrammar.
type ParseError struct {
	Buffer string
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	prefix := fmt.Sprintf("line %d", e.Line)
	if e.Buffer != "" {
		prefix = e.Buffer + ":" + fmt.Sprint(e.Line)
	}
	return fmt.Sprintf("%s: %s: %q (expected %q)", prefix, e.Reason, e.Text, TextGrammar)
}

// WarningKind classifies a recoverable anomaly.
type WarningKind uint8

const (
	// WarnTruncatedBuffer: a zero record header ended the capture early.
	WarnTruncatedBuffer WarningKind = iota + 1
	// WarnLeftoverStack: calls were still open at end of buffer.
	WarnLeftoverStack
)

// String returns the string representation of WarningKind.
func (k WarningKind) String() string {
	switch k {
	case WarnTruncatedBuffer:
		return "truncated-buffer"
	case WarnLeftoverStack:
		return "leftover-stack"
	default:
		return "unknown"
	}
}

// Warning is a recoverable anomaly met while decoding.
type Warning struct {
	Kind   WarningKind
	Offset int
	Count  int // open calls, for WarnLeftoverStack
	TID    int
}

func (w Warning) String() string {
	switch w.Kind {
	case WarnTruncatedBuffer:
		return fmt.Sprintf("truncated buffer: zero record header at offset %d", w.Offset)
	case WarnLeftoverStack:
		s := fmt.Sprintf("leftover stack size=%d", w.Count)
		if w.TID != 0 {
			s += fmt.Sprintf(" tid=%d", w.TID)
		}
		return s
	default:
		return fmt.Sprintf("warning at offset %d", w.Offset)
	}
}
