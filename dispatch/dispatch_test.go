// Copyright (C) 2026 ssklykov. All Rights Reserved.

package dispatch_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/ssklykov/multiport"
	"github.com/ssklykov/multiport/channel"
	"github.com/ssklykov/multiport/dispatch"
	"github.com/ssklykov/multiport/sender"
)

func TestAnnouncement(t *testing.T) {
	plan, err := multiport.NewPlan(multiport.Geometry{Width: 4, Height: 10}, 72, 2, multiport.MinSampleSize)
	if err != nil {
		t.Fatalf("NewPlan: unexpected error: %v", err)
	}
	ann := dispatch.Announce(plan, []int{5010, 5011})
	const want = "Plan 4 10 2 3 72 5010 5011"
	if got := ann.String(); got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}

	got, err := dispatch.ParseAnnouncement(want)
	if err != nil {
		t.Fatalf("ParseAnnouncement: unexpected error: %v", err)
	}
	if diff := cmp.Diff(got, ann); diff != "" {
		t.Errorf("ParseAnnouncement (-got, +want):\n%s", diff)
	}
	p2, err := got.Plan()
	if err != nil {
		t.Fatalf("Plan: unexpected error: %v", err)
	}
	if diff := cmp.Diff(p2, plan); diff != "" {
		t.Errorf("Plan (-got, +want):\n%s", diff)
	}
}

func TestParseAnnouncementErrors(t *testing.T) {
	tests := []string{
		"",
		"Echo",
		"Image transferred",
		"Plan 4 10 2 3",           // too few fields
		"Plan 4 10 2 3 72 5010",   // too few ports
		"Plan 4 10 1 3 72 1 2",    // too many ports
		"Plan 4 10 0 3 72",        // no endpoints
		"Plan 4 x 1 3 72 5010",    // not a number
		"Plan 4 10 1 3 72 70000",  // invalid port
		"Plan 4 10 1 3 72 -5",     // invalid port
		"plan 4 10 1 3 72 5010",   // wrong prefix
		"Plans 4 10 1 3 72 5010",  // wrong prefix
		"Plan 4 10 1 3 72 5010 x", // trailing garbage
	}
	for _, tc := range tests {
		if got, err := dispatch.ParseAnnouncement(tc); err == nil {
			t.Errorf("ParseAnnouncement(%q): got %+v, want error", tc, got)
		}
	}
}

// testSettings returns settings suitable for a server on the loopback
// interface with system-chosen endpoint ports.
func testSettings() dispatch.Settings {
	set := dispatch.DefaultSettings()
	set.Host = "127.0.0.1"
	set.BasePort = multiport.AnyPort
	set.ReceiveTimeout = 2 * time.Second
	set.SetupTimeout = 2 * time.Second
	set.QuitDelay = time.Millisecond
	return set
}

// startServer starts a server with the given settings on an ephemeral
// control port. It returns the control address and a function that stops the
// server and reports the result of Serve.
func startServer(t *testing.T, set dispatch.Settings, onImage func(*multiport.Image)) (string, func() error) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	srv := dispatch.NewServer(conn, channel.UDPListener(1<<20), set).OnImage(onImage)
	ctx, cancel := context.WithCancel(context.Background())
	serve := taskgroup.Go(func() error { return srv.Serve(ctx) })
	var stopped bool
	stop := func() error {
		if !stopped {
			cancel()
			stopped = true
		}
		return serve.Wait()
	}
	t.Cleanup(func() { stop() })
	return conn.LocalAddr().String(), stop
}

func testImage(width, height int) *multiport.Image {
	img := multiport.NewImage(width, height)
	for i := range img.Pix {
		img.Pix[i] = uint16(i * 7919)
	}
	return img
}

func TestTransfer(t *testing.T) {
	defer leaktest.Check(t)()

	set := testSettings()
	set.DatagramLimit = 200 // 2 rows of 16 samples per chunk

	images := make(chan *multiport.Image, 1)
	addr, stop := startServer(t, set, func(m *multiport.Image) { images <- m })

	cli := sender.New(addr, sender.Options{Interval: 100 * time.Microsecond})
	if err := cli.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: unexpected error: %v", err)
	}

	want := testImage(16, 41)
	res, err := cli.Send(t.Context(), want, 3)
	if err != nil {
		t.Fatalf("Send: unexpected error: %v", err)
	}
	if res.Chunks != 21 || res.Plan.RowsPerChunk != 2 {
		t.Errorf("Send: got %d chunks of %d rows, want 21 of 2", res.Chunks, res.Plan.RowsPerChunk)
	}

	select {
	case got := <-images:
		if diff := cmp.Diff(got, want); diff != "" {
			t.Errorf("Received image (-got, +want):\n%s", diff)
		}
	default:
		t.Error("No image was delivered before the acknowledgement")
	}

	if err := cli.Quit(t.Context()); err != nil {
		t.Errorf("Quit: unexpected error: %v", err)
	}
	if err := stop(); err != nil {
		t.Errorf("Serve: unexpected error: %v", err)
	}
}

func TestCommands(t *testing.T) {
	defer leaktest.Check(t)()

	addr, stop := startServer(t, testSettings(), nil)
	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	call := func(msg string) string {
		t.Helper()
		if _, err := conn.Write([]byte(msg)); err != nil {
			t.Fatalf("Write %q: %v", msg, err)
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, dispatch.MaxCommandLen)
		nr, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("Read reply to %q: %v", msg, err)
		}
		return string(buf[:nr])
	}

	// Unknown commands are ignored, so the next reply is to the ping.
	if _, err := conn.Write([]byte("Hello?")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := call("Ping"); got != dispatch.ReplyEcho {
		t.Errorf("Ping: got %q, want %q", got, dispatch.ReplyEcho)
	}
	// Commands are matched by substring.
	if got := call("Ping from LabVIEW\r\n"); got != dispatch.ReplyEcho {
		t.Errorf("Ping: got %q, want %q", got, dispatch.ReplyEcho)
	}
	if got := call("QUIT"); got != dispatch.ReplyQuit {
		t.Errorf("QUIT: got %q, want %q", got, dispatch.ReplyQuit)
	}
	if err := stop(); err != nil {
		t.Errorf("Serve: unexpected error: %v", err)
	}
}

// session starts a transfer session on conn, sends the given parameters, and
// returns the first reply.
func session(t *testing.T, conn net.Conn, params ...string) string {
	t.Helper()
	for _, msg := range append([]string{dispatch.CmdTransfer}, params...) {
		if _, err := conn.Write([]byte(msg)); err != nil {
			t.Fatalf("Write %q: %v", msg, err)
		}
	}
	return readReply(t, conn)
}

func readReply(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, dispatch.MaxCommandLen)
	nr, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read reply: %v", err)
	}
	return string(buf[:nr])
}

func TestSessionFailures(t *testing.T) {
	defer leaktest.Check(t)()

	set := testSettings()
	set.DatagramLimit = 72 // 3 rows of 4 samples per chunk
	set.ReceiveTimeout = 50 * time.Millisecond
	set.SetupTimeout = 100 * time.Millisecond
	addr, stop := startServer(t, set, func(*multiport.Image) {
		t.Error("Unexpected image delivered")
	})
	defer stop()

	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	checkFailed := func(t *testing.T, reply, want string) {
		t.Helper()
		reason, ok := strings.CutPrefix(reply, dispatch.ReplyFailedPrefix)
		if !ok {
			t.Errorf("Reply: got %q, want failure", reply)
		} else if !strings.Contains(reason, want) {
			t.Errorf("Reply: got %q, want reason containing %q", reason, want)
		} else {
			t.Logf("Failure OK: %s", reason)
		}
	}

	t.Run("BadParameter", func(t *testing.T) {
		checkFailed(t, session(t, conn, "four"), `invalid width "four"`)
	})
	t.Run("SetupTimeout", func(t *testing.T) {
		checkFailed(t, session(t, conn, "4", "10"), "read endpoint count")
	})
	t.Run("TooManyEndpoints", func(t *testing.T) {
		checkFailed(t, session(t, conn, "4", "2", "5"), "invalid transfer configuration")
	})
	t.Run("HugeWidth", func(t *testing.T) {
		checkFailed(t, session(t, conn, "3074457345618258603", "1", "1"), "invalid geometry")
	})
	t.Run("Starved", func(t *testing.T) {
		reply := session(t, conn, "4", "10", "2")
		ann, err := dispatch.ParseAnnouncement(reply)
		if err != nil {
			t.Fatalf("ParseAnnouncement %q: %v", reply, err)
		}
		if len(ann.Ports) != 2 {
			t.Fatalf("Announced ports: got %v, want 2", ann.Ports)
		}
		// Send nothing; both endpoints time out.
		checkFailed(t, readReply(t, conn), "within")
	})

	// The server remains usable after failed sessions.
	if _, err := conn.Write([]byte("Ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := readReply(t, conn); got != dispatch.ReplyEcho {
		t.Errorf("Ping: got %q, want %q", got, dispatch.ReplyEcho)
	}
}

func TestSenderRemoteError(t *testing.T) {
	defer leaktest.Check(t)()

	addr, stop := startServer(t, testSettings(), nil)
	defer stop()

	cli := sender.New(addr, sender.Options{})
	_, err := cli.Send(t.Context(), testImage(4, 2), 3)
	var re *sender.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("Send: got %v, want %T", err, re)
	}
	if !strings.Contains(re.Reason, "invalid transfer configuration") {
		t.Errorf("Send: got reason %q, want configuration error", re.Reason)
	}
}

func TestUpdate(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer conn.Close()

	srv := dispatch.NewServer(conn, channel.NewLoopback().Listen, dispatch.DefaultSettings())
	if diff := cmp.Diff(srv.Settings(), dispatch.DefaultSettings()); diff != "" {
		t.Errorf("Settings (-got, +want):\n%s", diff)
	}
	next := testSettings()
	srv.Update(next)
	if diff := cmp.Diff(srv.Settings(), next); diff != "" {
		t.Errorf("Settings after Update (-got, +want):\n%s", diff)
	}
}
