package notification

import (
	"errors"
	"fmt"
)

type ErrorClass string

const (
	// Transient covers network, timeout and gateway-unavailable failures.
	Transient ErrorClass = "transient"
	// Permanent means the token is revoked or unregistered.
	Permanent ErrorClass = "permanent"
)

// GatewayError is returned by push gateways to carry a failure class.
type GatewayError struct {
	Class ErrorClass
	Err   error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway error: %v", e.Class, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func NewTransient(err error) error { return &GatewayError{Class: Transient, Err: err} }

func NewPermanent(err error) error { return &GatewayError{Class: Permanent, Err: err} }

// Classify maps a send error to its class. Timeouts and unclassified
// errors are transient.
func Classify(err error) ErrorClass {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Class
	}
	return Transient
}

type TokenError struct {
	Token string
	Class ErrorClass
	Err   error
}

type SendOutcome struct {
	UserID       string
	SuccessCount int
	FailureCount int
	Errors       []TokenError
}

func (o SendOutcome) Served() bool { return o.SuccessCount > 0 }

// PermanentFailures returns the tokens the gateway rejected for good.
func (o SendOutcome) PermanentFailures() []TokenError {
	var out []TokenError
	for _, e := range o.Errors {
		if e.Class == Permanent {
			out = append(out, e)
		}
	}
	return out
}
