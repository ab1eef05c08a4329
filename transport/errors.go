package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
)

// ErrorKind distinguishes transport failures.
type ErrorKind int

const (
	// KindNetwork covers connection-level failures other than stalls.
	KindNetwork ErrorKind = iota
	// KindTooSlow means the stall guard aborted a monstrously slow transfer.
	KindTooSlow
)

func (k ErrorKind) String() string {
	switch k {
	case KindTooSlow:
		return "too slow"
	default:
		return "network"
	}
}

// TransportError is a connection-level failure.
type TransportError struct {
	Kind      ErrorKind
	Message   string
	Transient bool // retrying the same request may succeed
	Err       error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport (%s): %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("transport (%s): %s", e.Kind, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the response never produced a recognizable status
// line, e.g. because the URL does not point at an HTTP server.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}

// NotOKError is returned for a well-formed response whose status is not
// 2xx and is not retried.
type NotOKError struct {
	Status Status
	Body   []byte
}

func (e *NotOKError) Error() string {
	return "unexpected HTTP status " + e.Status.String()
}

var (
	// ErrRetriesExhausted is wrapped by the FatalError returned once the
	// retry budget of a client is used up.
	ErrRetriesExhausted = errors.New("retry budget exhausted")
	// ErrTokenMissing is wrapped by the FatalError returned when the
	// server does not hand out a requested token.
	ErrTokenMissing = errors.New("server did not return requested token")
	// ErrTooSlow is wrapped by TransportErrors of kind KindTooSlow.
	ErrTooSlow = errors.New("transfer below minimum speed")
)

// FatalError marks a condition after which the client must not make any
// further progress. Once a FatalError has been returned, every later
// call on the same client returns it again.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// classify wraps a failure of the underlying connection.
func classify(msg string, err error) *TransportError {
	if errors.Is(err, ErrTooSlow) {
		return &TransportError{Kind: KindTooSlow, Message: msg, Transient: true, Err: err}
	}
	return &TransportError{Kind: KindNetwork, Message: msg, Transient: transient(err), Err: err}
}

// transient reports whether a network error is worth retrying. Failures
// that will repeat identically (bad certificates, unknown hosts) are not.
func transient(err error) bool {
	var (
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		dnsErr      *net.DNSError
		addrErr     *net.AddrError
	)
	switch {
	case errors.As(err, &certErr), errors.As(err, &unknownAuth),
		errors.As(err, &hostErr), errors.As(err, &invalidErr):
		return false
	case errors.As(err, &dnsErr):
		return !dnsErr.IsNotFound
	case errors.As(err, &addrErr):
		return false
	}
	return true
}
