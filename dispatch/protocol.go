// Copyright (C) 2026 ssklykov. All Rights Reserved.

// Package dispatch implements the control channel of a multiport receiver.
//
// The control channel carries one text command per datagram. A command is
// recognized if the datagram contains one of the command strings:
//
//	"Ping"            replies "Echo"
//	"Img multiports"  starts a transfer session
//	"QUIT"            replies "Quit performed" and stops the server
//
// Other datagrams are logged and ignored.
//
// # Transfer sessions
//
// After "Img multiports", the client sends three datagrams carrying the
// width, height, and endpoint count of the image as decimal text. The server
// binds the endpoints and replies with an [Announcement] describing the plan,
// after which the client sends the chunks of each endpoint to the announced
// ports. When all endpoints finish, the server replies "Image transferred",
// or "Image transfer failed: " followed by a reason.
package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ssklykov/multiport"
)

// Commands and replies of the control channel.
const (
	CmdPing     = "Ping"
	CmdTransfer = "Img multiports"
	CmdQuit     = "QUIT"

	ReplyEcho         = "Echo"
	ReplyTransferred  = "Image transferred"
	ReplyFailedPrefix = "Image transfer failed: "
	ReplyQuit         = "Quit performed"

	// MaxCommandLen is the size of the buffer for control datagrams.
	// Longer datagrams are truncated.
	MaxCommandLen = 1024
)

// announcePrefix is the first token of an announcement.
const announcePrefix = "Plan"

// An Announcement is sent by the server to the client once the endpoints of a
// transfer are bound, and before any of them begins to receive.
type Announcement struct {
	multiport.Geometry

	Endpoints     int   // number of endpoints
	RowsPerChunk  int   // rows per full chunk
	DatagramLimit int   // maximum chunk payload size in bytes
	Ports         []int // port of each endpoint, in order
}

// Announce returns the announcement for plan, whose endpoints are bound to the
// given ports.
func Announce(plan *multiport.Plan, ports []int) Announcement {
	return Announcement{
		Geometry:      plan.Geometry,
		Endpoints:     plan.Endpoints,
		RowsPerChunk:  plan.RowsPerChunk,
		DatagramLimit: plan.DatagramLimit,
		Ports:         ports,
	}
}

// String encodes a in the wire format, for example:
//
//	Plan 4 10 2 3 72 5010 5011
func (a Announcement) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d %d %d %d %d", announcePrefix,
		a.Width, a.Height, a.Endpoints, a.RowsPerChunk, a.DatagramLimit)
	for _, p := range a.Ports {
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(p))
	}
	return sb.String()
}

// Plan reconstructs the plan described by a.
func (a Announcement) Plan() (*multiport.Plan, error) {
	p, err := multiport.Partition(a.Geometry, a.RowsPerChunk, a.Endpoints)
	if err != nil {
		return nil, err
	}
	p.DatagramLimit = a.DatagramLimit
	return p, nil
}

// ParseAnnouncement parses the wire encoding of an announcement.
func ParseAnnouncement(s string) (Announcement, error) {
	fs := strings.Fields(s)
	if len(fs) == 0 || fs[0] != announcePrefix {
		return Announcement{}, fmt.Errorf("not an announcement: %q", truncate(s, 64))
	}
	fs = fs[1:]
	if len(fs) < 5 {
		return Announcement{}, fmt.Errorf("announcement has %d fields, want at least 5", len(fs))
	}
	vs := make([]int, len(fs))
	for i, f := range fs {
		v, err := strconv.Atoi(f)
		if err != nil {
			return Announcement{}, fmt.Errorf("announcement field %d: %w", i+1, err)
		}
		vs[i] = v
	}
	a := Announcement{
		Geometry:      multiport.Geometry{Width: vs[0], Height: vs[1]},
		Endpoints:     vs[2],
		RowsPerChunk:  vs[3],
		DatagramLimit: vs[4],
		Ports:         vs[5:],
	}
	if a.Endpoints < 1 {
		return Announcement{}, errors.New("announcement has no endpoints")
	}
	if len(a.Ports) != a.Endpoints {
		return Announcement{}, fmt.Errorf("announcement lists %d ports for %d endpoints", len(a.Ports), a.Endpoints)
	}
	for _, p := range a.Ports {
		if p <= 0 || p > 65535 {
			return Announcement{}, fmt.Errorf("announcement has invalid port %d", p)
		}
	}
	return a, nil
}

// truncate returns a prefix of s of at most n bytes that does not split a
// UTF-8 encoding, followed by "..." if any of s was removed.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && s[n-1]&0xc0 == 0x80 { // continuation byte
		n--
	}
	// Drop a leading byte even if its encoding was complete, so that only one
	// direction needs to be checked.
	if n > 0 && s[n-1]&0xc0 == 0xc0 {
		n--
	}
	return s[:n] + "..."
}
