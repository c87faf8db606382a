// Copyright (C) 2026 ssklykov. All Rights Reserved.

package multiport

import (
	"errors"
	"expvar"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

const (
	// DefaultHost is the host on which endpoints are bound by default.
	DefaultHost = "localhost"

	// DefaultBasePort is the port of the first endpoint by default.
	DefaultBasePort = 5010

	// DefaultTimeout is the default receive timeout of an endpoint.
	DefaultTimeout = 1200 * time.Millisecond

	// AnyPort is a base port value that causes each endpoint to be bound to a
	// port chosen by the system.
	AnyPort = -1
)

// Options configure a [Coordinator].
type Options struct {
	// Host is the host on which to bind endpoints (default: DefaultHost).
	Host string

	// BasePort is the port of endpoint 0; endpoint i is bound to BasePort+i
	// (default: DefaultBasePort). If BasePort == AnyPort, the ports are chosen
	// by the system, and can be recovered from the Ready hook.
	BasePort int

	// Timeout bounds each blocking receive of an endpoint (default: DefaultTimeout).
	Timeout time.Duration

	// SampleSize is the number of bytes allotted to each encoded sample when
	// planning (default: MinSampleSize).
	SampleSize int

	// Listen binds the endpoints of a transfer. It must be non-nil.
	Listen ListenFunc

	// If set, Ready is called with the plan and the bound endpoint addresses
	// after all endpoints are bound, and before any receiver starts.  If it
	// reports an error, the endpoints are closed and the transfer fails.
	Ready func(*Plan, []net.Addr) error

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zerolog.Logger
}

// A Coordinator runs the receiving side of transfers. A Coordinator keeps no
// state between transfers, and it is safe to call Run concurrently provided
// the transfers use disjoint endpoints.
type Coordinator struct {
	opts Options
	log  zerolog.Logger
}

// NewCoordinator constructs a coordinator with the given options.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.BasePort == 0 || opts.BasePort < AnyPort {
		opts.BasePort = DefaultBasePort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = MinSampleSize
	}
	c := &Coordinator{opts: opts, log: zerolog.Nop()}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	return c
}

// Metrics returns the metrics map for the coordinator. See [Metrics].
func (c *Coordinator) Metrics() *expvar.Map { return rootMetrics.emap }

// Run receives an image of geometry g through the specified number of
// endpoints, in datagrams of at most limit bytes. It blocks until every
// endpoint has finished.
//
// If the parameters are invalid, Run reports a *ConfigError without binding
// any endpoints. If any endpoint fails, Run reports a *TransferError wrapping
// the first failure observed, and no image. Every endpoint is closed before
// Run returns.
func (c *Coordinator) Run(g Geometry, limit, endpoints int) (_ *Image, err error) {
	rootMetrics.transferStart.Add(1)
	defer func() {
		if err != nil {
			rootMetrics.transferErr.Add(1)
		} else {
			rootMetrics.transferOK.Add(1)
		}
	}()

	plan, err := NewPlan(g, limit, endpoints, c.opts.SampleSize)
	if err != nil {
		return nil, err
	}
	c.log.Info().Stringer("plan", plan).Msg("starting transfer")

	rcv, err := c.bind(plan)
	if err != nil {
		return nil, err
	}
	if c.opts.Ready != nil {
		addrs := make([]net.Addr, len(rcv))
		for i, r := range rcv {
			addrs[i] = r.ep.Addr()
		}
		if err := c.opts.Ready(plan, addrs); err != nil {
			closeAll(rcv)
			return nil, &TransferError{Endpoint: -1, Err: fmt.Errorf("ready: %w", err)}
		}
	}

	start := time.Now()
	parts := make([]*Image, len(rcv))
	tasks := taskgroup.New(func(err error) error {
		c.log.Warn().Err(err).Msg("endpoint failed")
		return err
	})
	for i, r := range rcv {
		tasks.Go(func() error {
			buf, err := r.run()
			if err != nil {
				return &TransferError{Endpoint: i, Addr: r.addr, Err: err}
			}
			parts[i] = buf
			return nil
		})
	}
	if err := tasks.Wait(); err != nil {
		return nil, err
	}

	img, err := Merge(plan.Geometry, parts)
	if err != nil {
		return nil, &TransferError{Endpoint: -1, Err: err}
	}
	c.log.Info().Stringer("geometry", g).Int("endpoints", endpoints).
		Dur("elapsed", time.Since(start)).Msg("transfer complete")
	return img, nil
}

// bind binds one endpoint per endpoint of plan, and returns a receiver for
// each. If any endpoint cannot be bound, those already bound are closed.
func (c *Coordinator) bind(plan *Plan) ([]*receiver, error) {
	if c.opts.Listen == nil {
		return nil, &TransferError{Endpoint: -1, Err: errors.New("no listen function")}
	}
	rcv := make([]*receiver, 0, plan.Endpoints)
	for _, a := range plan.Assignments() {
		port := 0
		if c.opts.BasePort != AnyPort {
			port = c.opts.BasePort + a.Endpoint
		}
		addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(port))
		ep, err := c.opts.Listen(addr, plan.DatagramLimit, c.opts.Timeout)
		if err != nil {
			closeAll(rcv)
			return nil, &TransferError{Endpoint: a.Endpoint, Addr: addr, Err: fmt.Errorf("bind: %w", err)}
		}
		r := &receiver{
			asg:     a,
			width:   plan.Width,
			timeout: c.opts.Timeout,
			ep:      ep,
			addr:    ep.Addr().String(),
			log:     c.log,
		}
		c.log.Debug().Int("endpoint", a.Endpoint).Str("addr", r.addr).
			Int("chunks", a.Chunks).Int("rows", a.Rows).Msg("endpoint bound")
		rcv = append(rcv, r)
	}
	return rcv, nil
}

func closeAll(rcv []*receiver) {
	for _, r := range rcv {
		r.ep.Close()
	}
}
