// Copyright (C) 2026 ssklykov. All Rights Reserved.

package multiport

import (
	"net"
	"time"
)

// An Endpoint is a bound datagram socket owned by a single receiver.
//
// The methods of an implementation need not be safe for concurrent use,
// except that Close may be called concurrently with a pending Recv.
type Endpoint interface {
	// Recv blocks until the next datagram arrives, or until the receive
	// timeout of the endpoint elapses. A timeout reports an error that
	// matches os.ErrDeadlineExceeded. The returned slice is only valid until
	// the next call to Recv.
	Recv() ([]byte, error)

	// Addr reports the local address of the endpoint.
	Addr() net.Addr

	// Close releases the endpoint, causing any pending receive to terminate
	// and report an error.
	Close() error
}

// A ListenFunc binds an endpoint at addr, which accepts datagrams of up to
// size bytes and whose receives time out after timeout. A timeout ≤ 0 means
// receives do not time out.
type ListenFunc func(addr string, size int, timeout time.Duration) (Endpoint, error)
