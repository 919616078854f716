package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// Kind classifies a workflow failure.
type Kind string

const (
	KindNotConnected           Kind = "not_connected"
	KindConnectFailed          Kind = "connect_failed"
	KindServiceNotFound        Kind = "service_not_found"
	KindCharacteristicNotFound Kind = "characteristic_not_found"
	KindStartFailed            Kind = "start_failed"
	KindTransportTimeout       Kind = "transport_timeout"
	KindTransport              Kind = "transport"
)

// WorkflowError is a failure of a device workflow that is surfaced to the caller.
type WorkflowError struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string
	parts = append(parts, string(e.Kind))
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *WorkflowError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare WorkflowError values by Kind
func (e *WorkflowError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for workflow failures
var (
	ErrNotConnected           = &WorkflowError{Kind: KindNotConnected}
	ErrConnectFailed          = &WorkflowError{Kind: KindConnectFailed}
	ErrServiceNotFound        = &WorkflowError{Kind: KindServiceNotFound}
	ErrCharacteristicNotFound = &WorkflowError{Kind: KindCharacteristicNotFound}
	ErrStartFailed            = &WorkflowError{Kind: KindStartFailed}
	ErrTransportTimeout       = &WorkflowError{Kind: KindTransportTimeout}
	ErrTransport              = &WorkflowError{Kind: KindTransport}
)

// Transport level errors
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnsupported  = errors.New("unsupported")
)

// Fail builds a WorkflowError of the given kind.
func Fail(kind Kind, err error, format string, args ...any) *WorkflowError {
	return &WorkflowError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost WorkflowError in err's chain, or ""
// when there is none.
func KindOf(err error) Kind {
	var werr *WorkflowError
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return ""
}

// Message returns the human readable part of err for callers that already
// report the kind separately.
func Message(err error) string {
	var werr *WorkflowError
	if !errors.As(err, &werr) {
		return err.Error()
	}
	switch {
	case werr.Msg != "" && werr.Err != nil:
		return werr.Msg + ": " + werr.Err.Error()
	case werr.Msg != "":
		return werr.Msg
	case werr.Err != nil:
		return werr.Err.Error()
	default:
		return string(werr.Kind)
	}
}
