package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
)

// Error kinds. Match with errors.Is.
var (
	ErrConnection  = errors.New("gateway connection error")
	ErrContract    = errors.New("contract error")
	ErrEntitlement = errors.New("market data entitlement error")
	ErrNoData      = errors.New("no data")
	ErrTimeout     = errors.New("timeout")
	ErrAccount     = errors.New("account error")
	ErrData        = errors.New("market data error")
)

// Error carries an error kind plus the operation and detail that produced it.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and op to err. A nil err stays nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the taxonomy kind of err, or nil when err matches none.
func KindOf(err error) error {
	for _, k := range []error{ErrConnection, ErrContract, ErrEntitlement, ErrNoData, ErrTimeout, ErrAccount, ErrData} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Classify returns err unchanged if it already carries a kind; otherwise it
// assigns one from the error chain and the gateway's message text.
func Classify(op string, err error) error {
	if err == nil || KindOf(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrTimeout, op, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Wrap(ErrConnection, op, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "entitlement"),
		strings.Contains(msg, "market data permissions"),
		strings.Contains(msg, "permission"):
		return Wrap(ErrEntitlement, op, err)
	case strings.Contains(msg, "no security definition"),
		strings.Contains(msg, "unknown contract"),
		strings.Contains(msg, "includeexpired"):
		return Wrap(ErrContract, op, err)
	case strings.Contains(msg, "no data"),
		strings.Contains(msg, "no market data"):
		return Wrap(ErrNoData, op, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "not connected"):
		return Wrap(ErrConnection, op, err)
	}
	return Wrap(ErrData, op, err)
}
