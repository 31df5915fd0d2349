package obd

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/ebus"
)

// MonitorSink receives each completed polling cycle.
type MonitorSink func([]Parameter)

// StartMonitoring polls the given PIDs at the interval on a background
// worker and hands every completed cycle to the sink. When a value bus
// is supplied, every decoded value is also published under the
// parameter name. Cancellation is cooperative: the in-flight cycle is
// allowed to finish.
func (c *Client) StartMonitoring(pids []byte, interval time.Duration, sink MonitorSink, bus *ebus.Bus) error {
	if len(pids) == 0 {
		return errors.New("no PIDs to monitor")
	}
	if interval <= 0 {
		interval = time.Second
	}
	c.monMu.Lock()
	defer c.monMu.Unlock()
	if c.monQuit != nil {
		return errors.New("monitoring already running")
	}
	c.monQuit = make(chan struct{})
	c.monDone = make(chan struct{})

	quit, done := c.monQuit, c.monDone
	go func() {
		defer close(done)
		g, ctx := errgroup.WithContext(context.Background())
		g.Go(func() error {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-quit:
					return nil
				case <-ctx.Done():
					return nil
				case <-t.C:
					c.cycle(ctx, pids, sink, bus)
				}
			}
		})
		g.Wait()
	}()
	return nil
}

func (c *Client) cycle(ctx context.Context, pids []byte, sink MonitorSink, bus *ebus.Bus) {
	params := make([]Parameter, 0, len(pids))
	for _, pid := range pids {
		p, err := c.ReadParameter(ctx, pid)
		if err != nil {
			c.message("monitor PID %02X: %v", pid, err)
			continue
		}
		params = append(params, p)
		if bus != nil {
			if err := bus.Publish(p.Name, p.Value); err != nil {
				c.message("monitor publish: %v", err)
			}
		}
	}
	if len(params) > 0 && sink != nil {
		sink(params)
	}
}

// StopMonitoring signals the worker and joins it.
func (c *Client) StopMonitoring() {
	c.monMu.Lock()
	quit, done := c.monQuit, c.monDone
	c.monQuit, c.monDone = nil, nil
	c.monMu.Unlock()
	if quit != nil {
		close(quit)
		<-done
	}
}

// Monitoring reports whether the polling worker is active.
func (c *Client) Monitoring() bool {
	c.monMu.Lock()
	defer c.monMu.Unlock()
	return c.monQuit != nil
}
