// Copyright (C) 2026 ssklykov. All Rights Reserved.

package channel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ssklykov/multiport"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// batchSize is the maximum number of datagrams a UDP endpoint reads from the
// kernel in a single call.
const batchSize = 8

// batchReader is the common read interface of ipv4.PacketConn and
// ipv6.PacketConn. Both use the same message type.
type batchReader interface {
	ReadBatch([]ipv4.Message, int) (int, error)
}

// UDP is an endpoint bound to a local UDP address. Datagrams are read from the
// socket in batches, and delivered one at a time by Recv.
type UDP struct {
	conn    *net.UDPConn
	br      batchReader
	timeout time.Duration
	msgs    []ipv4.Message
	next, n int // next undelivered message, number of messages read
}

// ListenUDP binds a UDP endpoint at addr, which accepts datagrams of up to
// size bytes. Each blocking receive times out after timeout, if positive. If
// readBuffer > 0, ListenUDP attempts to set the socket receive buffer to that
// many bytes; the system may silently cap the value.
func ListenUDP(addr string, size int, timeout time.Duration, readBuffer int) (*UDP, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	if readBuffer > 0 {
		conn.SetReadBuffer(readBuffer) // best effort
	}
	if size <= 0 {
		size = multiport.MaxDatagram
	}

	u := &UDP{conn: conn, timeout: timeout, msgs: make([]ipv4.Message, batchSize)}
	if la := conn.LocalAddr().(*net.UDPAddr); la.IP.To4() == nil && la.IP != nil && !la.IP.IsUnspecified() {
		u.br = ipv6.NewPacketConn(conn)
	} else {
		u.br = ipv4.NewPacketConn(conn)
	}
	for i := range u.msgs {
		u.msgs[i].Buffers = [][]byte{make([]byte, size)}
	}
	return u, nil
}

// UDPListener returns a [multiport.ListenFunc] that binds UDP endpoints with
// the specified socket receive buffer size (see [ListenUDP]).
func UDPListener(readBuffer int) multiport.ListenFunc {
	return func(addr string, size int, timeout time.Duration) (multiport.Endpoint, error) {
		return ListenUDP(addr, size, timeout, readBuffer)
	}
}

// Recv implements a method of the [multiport.Endpoint] interface.
func (u *UDP) Recv() ([]byte, error) {
	if u.next < u.n {
		return u.take(), nil
	}
	if u.timeout > 0 {
		if err := u.conn.SetReadDeadline(time.Now().Add(u.timeout)); err != nil {
			return nil, err
		}
	}
	n, err := u.br.ReadBatch(u.msgs, 0)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("recv on %s: %w", u.conn.LocalAddr(), os.ErrDeadlineExceeded)
		}
		return nil, err
	}
	u.next, u.n = 0, n
	return u.take(), nil
}

func (u *UDP) take() []byte {
	m := &u.msgs[u.next]
	u.next++
	return m.Buffers[0][:m.N]
}

// Addr implements a method of the [multiport.Endpoint] interface.
func (u *UDP) Addr() net.Addr { return u.conn.LocalAddr() }

// Close implements a method of the [multiport.Endpoint] interface.
func (u *UDP) Close() error { return u.conn.Close() }
