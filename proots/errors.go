package proots

import (
	"errors"
	"fmt"
)

// SchemaErrorKind is a stable category for structural decode failures.
type SchemaErrorKind string

const (
	NotAMap         SchemaErrorKind = "NotAMap"
	MissingField    SchemaErrorKind = "MissingField"
	WrongType       SchemaErrorKind = "WrongType"
	WrongRecordType SchemaErrorKind = "WrongRecordType"
	OutOfRange      SchemaErrorKind = "OutOfRange"
)

// SchemaError reports a structured value that does not have the shape of the
// record it was read as.
//
// Field names the offending key ("Annots[2]" for list elements); it is empty
// for NotAMap. Expected and Got describe the mismatch for WrongType,
// WrongRecordType and OutOfRange.
type SchemaError struct {
	Kind     SchemaErrorKind
	Record   string
	Field    string
	Expected string
	Got      string
}

func (e *SchemaError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case NotAMap:
		return fmt.Sprintf("proots: %s record: not a map (got %s)", e.Record, e.Got)
	case MissingField:
		return fmt.Sprintf("proots: %s record: missing field %q", e.Record, e.Field)
	case WrongRecordType:
		return fmt.Sprintf("proots: %s record: Type is %q", e.Record, e.Got)
	default:
		return fmt.Sprintf("proots: %s record: field %q: expected %s, got %s", e.Record, e.Field, e.Expected, e.Got)
	}
}

// IsSchemaKind reports whether err is (or wraps) a *SchemaError of the given kind.
func IsSchemaKind(err error, kind SchemaErrorKind) bool {
	var e *SchemaError
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// ValidationError reports a violated domain invariant, such as From > End.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("proots: invalid %s: %s", e.Field, e.Message)
}

// RecordIndex marks an error raised by a sequence's own record rather than by
// one of its annotations.
const RecordIndex = -1

// BuildError wraps a failure while building a sequence. Index is the position
// of the failing annotation, or RecordIndex for the sequence record itself.
type BuildError struct {
	Index int
	Err   error
}

func (e *BuildError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Index == RecordIndex {
		return fmt.Sprintf("proots: build sequence: %v", e.Err)
	}
	return fmt.Sprintf("proots: build annotation %d: %v", e.Index, e.Err)
}

func (e *BuildError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ResolveError wraps a failure while resolving a sequence. Index is the
// position of the failing annotation link, or RecordIndex for the root.
type ResolveError struct {
	Index int
	Err   error
}

func (e *ResolveError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Index == RecordIndex {
		return fmt.Sprintf("proots: resolve sequence: %v", e.Err)
	}
	return fmt.Sprintf("proots: resolve annotation %d: %v", e.Index, e.Err)
}

func (e *ResolveError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrUnbuiltAnnotation is returned when a sequence holding in-memory
// annotations is asked for its wire form. Build it instead.
var ErrUnbuiltAnnotation = errors.New("proots: sequence has unbuilt annotations")
