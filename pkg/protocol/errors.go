package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by this package matches exactly one of
// these with errors.Is.
var (
	// ErrFormat reports malformed data: a bad VarInt, a bitmap that disagrees
	// with the offset table, invalid UTF-8, trailing bytes.
	ErrFormat = errors.New("protocol: malformed data")

	// ErrBounds reports an offset or length that reaches past the end of the
	// buffer, or a negative offset.
	ErrBounds = errors.New("protocol: out of bounds")

	// ErrUnknownPacket reports a packet id or Go type missing from the registry.
	ErrUnknownPacket = errors.New("protocol: unknown packet")

	// ErrSizeViolation reports a payload, compressed or decompressed, larger
	// than the packet type's MaxSize.
	ErrSizeViolation = errors.New("protocol: size limit exceeded")

	// ErrSchema reports an invalid packet definition. It is only produced while
	// resolving schemas and building the registry, never while decoding.
	ErrSchema = errors.New("protocol: invalid schema")
)

// Common decoding errors.
var (
	ErrTruncated      = fmt.Errorf("%w: unexpected end of data", ErrBounds)
	ErrVarIntOverflow = fmt.Errorf("%w: varint overflow", ErrFormat)
	ErrMaxDepth       = fmt.Errorf("%w: maximum object depth exceeded", ErrFormat)
)

// Error describes a failure while encoding, decoding or resolving a packet.
type Error struct {
	// Kind is one of ErrFormat, ErrBounds, ErrUnknownPacket, ErrSizeViolation
	// or ErrSchema.
	Kind error

	// Op is the operation that failed ("decode", "encode", "resolve", ...).
	Op string

	// Type is the packet or object type name, if known.
	Type string

	// Field is the dotted path of the field being processed, if any.
	Field string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("protocol: ")
	b.WriteString(e.Op)
	if e.Type != "" {
		b.WriteString(" ")
		b.WriteString(e.Type)
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(strings.TrimPrefix(e.Err.Error(), "protocol: "))
	}
	return b.String()
}

// Unwrap returns the kind and the underlying cause for errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// newError builds an Error, deriving its kind from err.
func newError(op, typ, field string, err error) *Error {
	return &Error{Kind: KindOf(err), Op: op, Type: typ, Field: field, Err: err}
}

// schemaErrorf builds an ErrSchema error for type typ.
func schemaErrorf(typ, field, format string, args ...any) *Error {
	return &Error{
		Kind:  ErrSchema,
		Op:    "resolve",
		Type:  typ,
		Field: field,
		Err:   fmt.Errorf(format, args...),
	}
}

// withField prefixes the field path of a nested Error, or wraps err in a new
// one. Used while unwinding recursive encode/decode calls so the final error
// names the full path to the failing field.
func withField(op, typ, field string, err error) error {
	var pe *Error
	if errors.As(err, &pe) && pe.Op == op {
		if pe.Field == "" {
			pe.Field = field
		} else {
			pe.Field = field + "." + pe.Field
		}
		pe.Type = typ
		return pe
	}
	return newError(op, typ, field, err)
}

// KindOf returns the error kind err belongs to. Errors not produced by this
// package are reported as ErrFormat.
func KindOf(err error) error {
	switch {
	case errors.Is(err, ErrBounds):
		return ErrBounds
	case errors.Is(err, ErrUnknownPacket):
		return ErrUnknownPacket
	case errors.Is(err, ErrSizeViolation):
		return ErrSizeViolation
	case errors.Is(err, ErrSchema):
		return ErrSchema
	default:
		return ErrFormat
	}
}

// KindLabel returns a short, low-cardinality name for the kind of err,
// suitable for metric labels and log fields.
func KindLabel(err error) string {
	switch KindOf(err) {
	case ErrBounds:
		return "bounds"
	case ErrUnknownPacket:
		return "unknown_packet"
	case ErrSizeViolation:
		return "size_violation"
	case ErrSchema:
		return "schema"
	default:
		return "format"
	}
}
