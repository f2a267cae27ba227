// Package errs carries the error taxonomy the orchestrator routes on:
// configuration errors fail fast, validation errors aggregate every failed
// check, processing errors abort an unsafe combination. Skip and no-data are
// tagged results elsewhere, never errors.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	// KindConfig: malformed expressions, missing schema, unknown ids.
	// Fail fast, never retried.
	KindConfig Kind = iota
	// KindValidation: expectation/constraint failures, raised only after
	// every check ran.
	KindValidation
	// KindProcessing: unsafe combination requested; never proceed silently.
	KindProcessing
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration error"
	case KindValidation:
		return "validation failure"
	case KindProcessing:
		return "processing error"
	}
	return "error"
}

// Error ties a kind to the action or data object it concerns.
type Error struct {
	Kind Kind
	// ID names the action/data object for the user-visible message.
	ID  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.ID != "" {
		b.WriteString(" (")
		b.WriteString(e.ID)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func Config(id, format string, args ...any) error {
	return &Error{Kind: KindConfig, ID: id, Msg: fmt.Sprintf(format, args...)}
}

func ConfigWrap(id string, err error, format string, args ...any) error {
	return &Error{Kind: KindConfig, ID: id, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Processing(id, format string, args ...any) error {
	return &Error{Kind: KindProcessing, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// Validation aggregates every failure message into one report.
func Validation(id string, failures []string) error {
	return &Error{Kind: KindValidation, ID: id, Msg: strings.Join(failures, "; ")}
}

func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
