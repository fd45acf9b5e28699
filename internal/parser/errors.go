package parser

import "fmt"

// ErrorKind classifies a parse failure. Kinds implement error so callers
// can match them with errors.Is.
type ErrorKind int

const (
	// UnterminatedRecord: an envelope header arrived while a previous
	// envelope was still open.
	UnterminatedRecord ErrorKind = iota + 1
	// RecordNotOpen: an envelope field line arrived with no open envelope.
	RecordNotOpen
	// ReceiptBodyConflict: a record would be both a receipt and a body carrier.
	ReceiptBodyConflict
	// UnexpectedLine: a line matched no part of the message grammar.
	UnexpectedLine
	// MalformedIdentityLine: a non-blank identity listing line did not
	// match the identity grammar.
	MalformedIdentityLine
	// MissingTimestamp: a record was finalized without a Timestamp line.
	MissingTimestamp
)

func (k ErrorKind) String() string {
	switch k {
	case UnterminatedRecord:
		return "unterminated record"
	case RecordNotOpen:
		return "record not open"
	case ReceiptBodyConflict:
		return "receipt/body conflict"
	case UnexpectedLine:
		return "unexpected line"
	case MalformedIdentityLine:
		return "malformed identity line"
	case MissingTimestamp:
		return "missing timestamp"
	default:
		return fmt.Sprintf("parse error kind %d", int(k))
	}
}

func (k ErrorKind) Error() string { return k.String() }

// ParseError reports where and why parsing failed. Line is 1-based; it is
// the line that triggered the failure, or the last line for failures
// detected at end of input.
type ParseError struct {
	Kind ErrorKind
	Line int
	Text string
}

func (e *ParseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("parse line %d: %s", e.Line, e.Kind)
	}
	return fmt.Sprintf("parse line %d: %s: %q", e.Line, e.Kind, e.Text)
}

// Is lets errors.Is(err, parser.ReceiptBodyConflict) match on kind.
func (e *ParseError) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	return ok && kind == e.Kind
}

func newParseError(kind ErrorKind, line int, text string) *ParseError {
	return &ParseError{Kind: kind, Line: line, Text: text}
}
