package meshdoc

import (
	"errors"
	"fmt"
)

// Schema errors. They are raised synchronously while a schema is built or
// while a local edit is validated, and are never retried.
var (
	ErrUnknownTag             = errors.New("unknown tag")
	ErrUnknownAttribute       = errors.New("unknown attribute")
	ErrTagNotAllowed          = errors.New("tag not allowed as child")
	ErrDuplicateChildProperty = errors.New("duplicate child property")
	ErrDuplicateProperty      = errors.New("duplicate property")
	ErrDuplicateTag           = errors.New("duplicate tag")
	ErrInvalidReference       = errors.New("invalid schema reference")
	ErrInvalidValue           = errors.New("invalid attribute value")
	ErrMissingAttribute       = errors.New("missing required attribute")
)

// Merge errors. An authoritative message that fails to apply means this
// replica no longer matches the sequencer.
var (
	ErrTargetNotFound         = errors.New("target not found")
	ErrNotATextNode           = errors.New("node is not a text node")
	ErrMalformedChange        = errors.New("malformed change message")
	ErrDocumentDesynchronized = errors.New("document desynchronized")
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDocumentClosed  = errors.New("document closed")
	ErrDocumentNotOpen = errors.New("document not open")
)

// SchemaError describes a schema violation. Kind is one of the schema
// sentinel errors above and is what errors.Is matches against.
type SchemaError struct {
	Kind   error
	Tag    string
	Name   string
	Detail string
}

func (e *SchemaError) Error() string {
	msg := e.Kind.Error()
	if e.Tag != "" {
		msg += fmt.Sprintf(" (tag %q", e.Tag)
		if e.Name != "" {
			msg += fmt.Sprintf(", name %q", e.Name)
		}
		msg += ")"
	} else if e.Name != "" {
		msg += fmt.Sprintf(" (name %q)", e.Name)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns Kind for errors.Is/As support.
func (e *SchemaError) Unwrap() error {
	return e.Kind
}

func schemaErr(kind error, tag, name string) *SchemaError {
	return &SchemaError{Kind: kind, Tag: tag, Name: name}
}

// MergeError is returned by ApplyChange when an authoritative message cannot
// be applied to the tree.
type MergeError struct {
	Kind   error
	Target string
	Err    error
}

func (e *MergeError) Error() string {
	msg := e.Kind.Error()
	if e.Target != "" {
		msg += fmt.Sprintf(" (target %q)", e.Target)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *MergeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidArg(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
