package classify

import "fmt"

// TransportError means the service produced no usable response: network
// unreachable, timeout, connection reset.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("classifier transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the response arrived but had an unexpected shape.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classifier protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("classifier protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError means the service returned a well-formed non-2xx response.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("classifier returned status %d: %s", e.StatusCode, e.Body)
}
