package can

import (
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

// Sink receives frames that passed the filter set. Sinks run
// synchronously on the dispatch goroutine and must not block.
type Sink func(*Frame)

// Statistics is a snapshot of the protocol counters.
type Statistics struct {
	Sent           uint64
	Received       uint64
	FilterRejected uint64
	Errors         uint64
	Since          time.Time
}

type sinkEntry struct {
	id int
	fn Sink
}

// Protocol owns a transport and provides validated sends, the filter
// set, and a background dispatch loop that delivers received frames to
// subscribers in receive order.
type Protocol struct {
	cfg Config

	mu        sync.Mutex
	transport Transport
	filters   filterList
	sinks     []sinkEntry
	nextSink  int
	watchers  int
	stats     Statistics
	closed    bool

	running bool
	quit    chan struct{}
	done    chan struct{}
}

// New validates the configuration and wraps the transport. The dispatch
// loop starts lazily with the first subscriber.
func New(transport Transport, cfg Config) (*Protocol, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Protocol{
		cfg:       cfg,
		transport: transport,
		stats:     Statistics{Since: time.Now()},
	}, nil
}

func (p *Protocol) message(format string, args ...any) {
	if p.cfg.OnMessage != nil {
		p.cfg.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (p *Protocol) error(err error) {
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
}

// Send validates the frame and forwards it to the transport. All
// transport access is serialized here; the transport itself need not be
// thread-safe.
func (p *Protocol) Send(frame *Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.transport.Send(frame); err != nil {
		p.stats.Errors++
		return fmt.Errorf("transport send: %w", err)
	}
	p.stats.Sent++
	return nil
}

func (p *Protocol) AddFilter(f Filter) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filters.add(f)
}

func (p *Protocol) RemoveFilter(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filters.remove(id)
}

func (p *Protocol) ClearFilters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters.clear()
}

// Subscribe registers a sink and returns its id. The dispatch loop is
// started if it is not already running.
func (p *Protocol) Subscribe(fn Sink) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSink++
	p.sinks = append(p.sinks, sinkEntry{id: p.nextSink, fn: fn})
	p.startLocked()
	return p.nextSink
}

func (p *Protocol) Unsubscribe(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.sinks {
		if s.id == id {
			p.sinks = append(p.sinks[:i], p.sinks[i+1:]...)
			return
		}
	}
}

// WatchStats registers a statistics consumer. While any watcher is
// active the dispatch loop keeps polling (and counting) even with no
// frame sinks subscribed. The returned func delivers a final snapshot
// and releases the watcher.
func (p *Protocol) WatchStats(interval time.Duration, fn func(Statistics)) (cancel func()) {
	p.mu.Lock()
	p.watchers++
	p.startLocked()
	p.mu.Unlock()

	quit := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-quit:
				fn(p.Statistics())
				return
			case <-t.C:
				fn(p.Statistics())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			p.mu.Lock()
			p.watchers--
			p.mu.Unlock()
		})
	}
}

func (p *Protocol) startLocked() {
	if p.running || p.closed {
		return
	}
	p.running = true
	p.quit = make(chan struct{})
	p.done = make(chan struct{})
	go p.dispatch(p.quit, p.done)
}

// dispatch polls the transport, applies the filter set and hands
// matches to every sink in subscription order. Three consecutive
// transport errors suspend polling for the configured cool-down.
func (p *Protocol) dispatch(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	p.message("CAN dispatch started")
	for {
		select {
		case <-quit:
			p.message("CAN dispatch stopped")
			return
		default:
		}

		if !p.active() {
			// Nobody is listening; pause instead of burning the bus.
			time.Sleep(p.cfg.PollInterval)
			continue
		}

		err := retry.Do(
			func() error { return p.poll() },
			retry.Attempts(3),
			retry.Delay(p.cfg.PollInterval),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			p.error(fmt.Errorf("transport recv: %w", err))
			select {
			case <-quit:
				return
			case <-time.After(p.cfg.ErrorCooldown):
			}
		}
	}
}

func (p *Protocol) active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sinks) > 0 || p.watchers > 0
}

func (p *Protocol) poll() error {
	frames, err := p.transport.Recv(p.cfg.PollInterval)
	if err != nil {
		p.mu.Lock()
		p.stats.Errors++
		p.mu.Unlock()
		return err
	}
	now := time.Now()
	for _, f := range frames {
		f.Timestamp = now

		p.mu.Lock()
		ok := p.filters.accepts(f)
		if !ok {
			p.stats.FilterRejected++
			p.mu.Unlock()
			continue
		}
		p.stats.Received++
		sinks := make([]sinkEntry, len(p.sinks))
		copy(sinks, p.sinks)
		p.mu.Unlock()

		for _, s := range sinks {
			s.fn(f)
		}
	}
	return nil
}

// Statistics returns a snapshot of the counters.
func (p *Protocol) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Protocol) ResetStatistics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = Statistics{Since: time.Now()}
}

// Shutdown stops the dispatch loop, joins it and closes the transport.
// Safe to call more than once.
func (p *Protocol) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	running := p.running
	quit, done := p.quit, p.done
	p.running = false
	p.mu.Unlock()

	if running {
		close(quit)
		<-done
	}
	if err := p.transport.Close(); err != nil {
		p.error(fmt.Errorf("transport close: %w", err))
	}
}
