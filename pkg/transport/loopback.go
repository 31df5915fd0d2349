package transport

import (
	"sync"
	"time"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
)

// Responder computes the frames a loopback "vehicle" answers with.
type Responder func(*can.Frame) []*can.Frame

// Loopback is an in-memory transport used by the test suites. Sent
// frames are recorded; a Responder, when installed,
// plays the ECU side.
type Loopback struct {
	mu        sync.Mutex
	sent      []*can.Frame
	inbox     chan *can.Frame
	responder Responder
	closed    bool
}

func NewLoopback() *Loopback {
	return &Loopback{inbox: make(chan *can.Frame, 64)}
}

// OnSend installs the responder. Responses are queued asynchronously so
// a responder may sleep to model a slow ECU.
func (l *Loopback) OnSend(r Responder) {
	l.mu.Lock()
	l.responder = r
	l.mu.Unlock()
}

func (l *Loopback) Send(frame *can.Frame) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return can.ErrClosed
	}
	l.sent = append(l.sent, frame)
	responder := l.responder
	l.mu.Unlock()

	if responder != nil {
		go func() {
			for _, resp := range responder(frame) {
				l.Inject(resp)
			}
		}()
	}
	return nil
}

// Inject queues a frame for the next Recv.
func (l *Loopback) Inject(frames ...*can.Frame) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	for _, f := range frames {
		select {
		case l.inbox <- f:
		default:
		}
	}
}

func (l *Loopback) Recv(timeout time.Duration) ([]*can.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-l.inbox:
		out := []*can.Frame{f}
		// Drain whatever else is already queued.
		for {
			select {
			case next := <-l.inbox:
				out = append(out, next)
			default:
				return out, nil
			}
		}
	case <-timer.C:
		return nil, nil
	}
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Sent returns a copy of everything sent so far.
func (l *Loopback) Sent() []*can.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*can.Frame, len(l.sent))
	copy(out, l.sent)
	return out
}
