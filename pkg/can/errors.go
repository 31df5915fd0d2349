package can

import "errors"

var (
	ErrInvalidBaudRate = errors.New("unsupported baud rate")
	ErrClosed          = errors.New("protocol is shut down")

	// ErrTimeout is returned by Exchange when no matching response
	// arrived within the deadline.
	ErrTimeout = errors.New("response timeout")
	// ErrCancelled is returned by Exchange when the context was
	// cancelled or the exchanger shut down mid-request.
	ErrCancelled = errors.New("exchange cancelled")
)
