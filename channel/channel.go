// Copyright (C) 2026 ssklykov. All Rights Reserved.

// Package channel provides implementations of the multiport.Endpoint interface.
package channel

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ssklykov/multiport"
)

// queueLen is the number of undelivered datagrams a loopback endpoint holds
// before it begins to drop.
const queueLen = 256

// Ports assigned by a Loopback when an address requests port 0.
const (
	firstDynamicPort = 49152
	dynamicPorts     = 65536 - firstDynamicPort
)

// Loopback is an in-memory datagram network. Endpoints bound with
// [Loopback.Listen] receive the datagrams delivered with [Loopback.Send] to
// their address. As with UDP, a datagram sent to an address with no endpoint,
// or to an endpoint whose queue is full, is silently dropped, and datagrams
// longer than the size of the endpoint are truncated.
//
// A zero Loopback is ready for use. It is safe for concurrent use.
type Loopback struct {
	μ     sync.Mutex
	ports map[string]*loopEndpoint
	next  int // counter for system-chosen ports
}

// NewLoopback constructs an empty loopback network.
func NewLoopback() *Loopback { return new(Loopback) }

// Listen binds an endpoint at addr. It reports an error if addr is already
// bound. If addr has the form "host:0", a free port is chosen. Listen satisfies [multiport.ListenFunc].
func (l *Loopback) Listen(addr string, size int, timeout time.Duration) (multiport.Endpoint, error) {
	l.μ.Lock()
	defer l.μ.Unlock()
	if host, port, err := net.SplitHostPort(addr); err == nil && port == "0" {
		addr = l.freeAddrLocked(host)
	}
	if _, ok := l.ports[addr]; ok {
		return nil, fmt.Errorf("listen %s: address already in use", addr)
	}
	if l.ports == nil {
		l.ports = make(map[string]*loopEndpoint)
	}
	ep := &loopEndpoint{
		net:     l,
		addr:    loopAddr(addr),
		size:    size,
		timeout: timeout,
		queue:   make(chan []byte, queueLen),
		done:    make(chan struct{}),
	}
	l.ports[addr] = ep
	return ep, nil
}

// Send delivers a copy of data to the endpoint bound at addr, and reports
// whether it was queued for delivery.
func (l *Loopback) Send(addr string, data []byte) bool {
	l.μ.Lock()
	defer l.μ.Unlock()
	ep, ok := l.ports[addr]
	if !ok {
		return false
	}
	if ep.size > 0 && len(data) > ep.size {
		data = data[:ep.size]
	}
	select {
	case ep.queue <- append([]byte(nil), data...):
		return true
	default:
		return false
	}
}

// Bound reports the number of endpoints currently bound on l.
func (l *Loopback) Bound() int {
	l.μ.Lock()
	defer l.μ.Unlock()
	return len(l.ports)
}

// freeAddrLocked returns an unbound address on host with a port in the
// dynamic range. The caller must hold l.μ.
func (l *Loopback) freeAddrLocked(host string) string {
	for {
		l.next++
		addr := net.JoinHostPort(host, strconv.Itoa(firstDynamicPort+l.next%dynamicPorts))
		if _, ok := l.ports[addr]; !ok {
			return addr
		}
	}
}

func (l *Loopback) release(addr string) {
	l.μ.Lock()
	defer l.μ.Unlock()
	delete(l.ports, addr)
}

type loopEndpoint struct {
	net     *Loopback
	addr    loopAddr
	size    int
	timeout time.Duration
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
}

// Recv implements a method of the [multiport.Endpoint] interface.
func (e *loopEndpoint) Recv() ([]byte, error) {
	var expired <-chan time.Time
	if e.timeout > 0 {
		t := time.NewTimer(e.timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case data := <-e.queue:
		return data, nil
	case <-e.done:
		return nil, net.ErrClosed
	case <-expired:
		return nil, fmt.Errorf("recv on %s: %w", e.addr, os.ErrDeadlineExceeded)
	}
}

// Addr implements a method of the [multiport.Endpoint] interface.
func (e *loopEndpoint) Addr() net.Addr { return e.addr }

// Close implements a method of the [multiport.Endpoint] interface.
func (e *loopEndpoint) Close() error {
	err := net.ErrClosed
	e.once.Do(func() {
		e.net.release(string(e.addr))
		close(e.done)
		err = nil
	})
	return err
}

// loopAddr is the address of a loopback endpoint.
type loopAddr string

func (a loopAddr) Network() string { return "loopback" }
func (a loopAddr) String() string  { return string(a) }
