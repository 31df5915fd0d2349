package can

import "time"

// Transport is the externally supplied channel the protocol runs on,
// typically a PassThru (J2534) CAN or ISO15765 channel. The contract is
// polling based: the protocol owns the receive loop and calls Recv with
// a short timeout.
//
// Send may block briefly but must not block for a whole request
// timeout. Recv drains zero or more frames, waiting at most the given
// timeout; returning an empty slice on timeout is not an error. Close
// is idempotent.
type Transport interface {
	Send(frame *Frame) error
	Recv(timeout time.Duration) ([]*Frame, error)
	Close() error
}
