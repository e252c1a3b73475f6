package carwings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrForcedLogout is returned once the refresh token was rejected. The
	// stored credentials have been cleared; the caller must log in again.
	ErrForcedLogout = errors.New("session expired, please log in again")

	// ErrNoVehicle is returned when the account has no vehicle to select.
	ErrNoVehicle = errors.New("no vehicle selected")

	// ErrNotLoggedIn is returned when an authenticated call is made without
	// any stored credentials.
	ErrNotLoggedIn = errors.New("not logged in")
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// FailureKind groups failures the way they are shown to the user.
type FailureKind int

const (
	KindGeneric FailureKind = iota
	KindClient
	KindServer
)

func (k FailureKind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	default:
		return "generic"
	}
}

// Failure is the error every authenticated operation resolves into.
// Fatal failures end the current session or screen; the rest can be
// retried by the user.
type Failure struct {
	Kind    FailureKind
	Status  int
	Message string
	Fatal   bool
	Err     error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

// Recoverable reports whether the user may retry the triggering action.
func (f *Failure) Recoverable() bool { return !f.Fatal }

const (
	msgServiceUnavailable = "service unavailable"
	msgInternal           = "internal error"
)

// Classify maps any error into a *Failure. Existing failures are returned
// unchanged.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusServiceUnavailable:
			return &Failure{Kind: KindServer, Status: se.Status, Message: msgServiceUnavailable, Err: err}
		case se.Status >= 500:
			return &Failure{Kind: KindServer, Status: se.Status, Message: fmt.Sprintf("Server error %d", se.Status), Err: err}
		case se.Status >= 400:
			return &Failure{Kind: KindClient, Status: se.Status, Message: fmt.Sprintf("Client error %d", se.Status), Err: err}
		}
	}

	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = msgInternal
	}
	return &Failure{Kind: KindGeneric, Message: msg, Err: err}
}

// Fatal classifies err and marks the result fatal.
func Fatal(err error) *Failure {
	f := Classify(err)
	if f == nil {
		return nil
	}
	c := *f
	c.Fatal = true
	return &c
}

// IsFatal reports whether err should end the current session or screen.
func IsFatal(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Fatal
}

func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Status
	}
	return 0
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
