package model

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindDecode     Kind = "decode"
	KindInference  Kind = "inference"
	KindModelLoad  Kind = "model_load"
	KindMapping    Kind = "mapping"
)

// ClientFault reports whether errors of this kind are caused by the request
// rather than by the server or its configuration.
func (k Kind) ClientFault() bool {
	return k == KindValidation || k == KindDecode
}

// Error is the error type returned by every stage of the classification
// pipeline. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind Kind, err error, msg string) error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
