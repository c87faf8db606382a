// Copyright (C) 2026 ssklykov. All Rights Reserved.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/mds/value"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
	"github.com/ssklykov/multiport"
)

// Settings are the parameters applied to each transfer session.
type Settings struct {
	Host           string        // host on which endpoints are bound
	BasePort       int           // port of endpoint 0, or multiport.AnyPort
	DatagramLimit  int           // maximum chunk payload size
	SampleSize     int           // bytes allotted per encoded sample
	ReceiveTimeout time.Duration // per-receive timeout of an endpoint
	SetupTimeout   time.Duration // per-datagram timeout reading session parameters
	QuitDelay      time.Duration // delay after replying to QUIT
}

// DefaultSettings returns the default session settings.
func DefaultSettings() Settings {
	return Settings{
		Host:           multiport.DefaultHost,
		BasePort:       multiport.DefaultBasePort,
		DatagramLimit:  multiport.MaxDatagram,
		SampleSize:     multiport.MinSampleSize,
		ReceiveTimeout: multiport.DefaultTimeout,
		SetupTimeout:   5 * time.Second,
		QuitDelay:      150 * time.Millisecond,
	}
}

// A Server reads commands from a control connection and runs the transfer
// sessions they request, one at a time.
type Server struct {
	conn    net.PacketConn
	listen  multiport.ListenFunc
	log     zerolog.Logger
	onImage func(*multiport.Image)

	μ   sync.Mutex
	set Settings
}

// NewServer constructs a server that reads commands from conn, and binds the
// endpoints of its sessions with listen. The server takes ownership of conn.
func NewServer(conn net.PacketConn, listen multiport.ListenFunc, set Settings) *Server {
	return &Server{conn: conn, listen: listen, log: zerolog.Nop(), set: set}
}

// SetLogger sets the logger used by s and its sessions, and returns s.
// A nil logger discards logs.
func (s *Server) SetLogger(lg *zerolog.Logger) *Server {
	if lg == nil {
		s.log = zerolog.Nop()
	} else {
		s.log = *lg
	}
	return s
}

// OnImage registers f to be called with the image of each successful
// transfer, before the client is notified. It returns s.
func (s *Server) OnImage(f func(*multiport.Image)) *Server { s.onImage = f; return s }

// Update replaces the settings of s. The new settings apply to sessions that
// begin after Update returns; a session in progress is not affected.
func (s *Server) Update(set Settings) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.set = set
}

// Settings reports the current settings of s.
func (s *Server) Settings() Settings {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.set
}

// Serve reads and executes commands until ctx ends or a QUIT command is
// received, in which case it returns nil. Otherwise it returns the error that
// stopped the server. The control connection is closed when Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	defer s.conn.Close()

	// A net.PacketConn does not obey a context, so close it if ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-ok:
		}
		return nil
	})

	s.log.Info().Str("addr", s.conn.LocalAddr().String()).Msg("control channel ready")
	buf := make([]byte, MaxCommandLen)
	for {
		nr, client, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info().Msg("control channel closed")
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
		cmd := string(buf[:nr])

		switch {
		case strings.Contains(cmd, CmdPing):
			s.log.Debug().Str("client", client.String()).Msg("ping")
			s.reply(client, ReplyEcho)

		case strings.Contains(cmd, CmdTransfer):
			s.session(client, buf)

		case strings.Contains(cmd, CmdQuit):
			s.log.Info().Str("client", client.String()).Msg("quit requested")
			s.reply(client, ReplyQuit)
			time.Sleep(s.Settings().QuitDelay)
			return nil

		default:
			s.log.Warn().Str("client", client.String()).Str("command", truncate(cmd, 64)).
				Msg("unknown command")
		}
	}
}

// session runs a transfer session requested by client. The caller's command
// buffer is reused to read the session parameters.
func (s *Server) session(client net.Addr, buf []byte) {
	set := s.Settings()
	log := s.log.With().Str("client", client.String()).Logger()
	log.Info().Msg("transfer requested")

	img, err := s.transfer(client, set, buf, &log)
	if err != nil {
		log.Error().Err(err).Msg("transfer failed")
	} else if s.onImage != nil {
		s.onImage(img)
	}
	s.reply(client, value.Cond(err == nil, ReplyTransferred, ReplyFailedPrefix+errString(err)))
}

func (s *Server) transfer(client net.Addr, set Settings, buf []byte, log *zerolog.Logger) (*multiport.Image, error) {
	params, err := s.readParams(client, set.SetupTimeout, buf)
	if err != nil {
		return nil, err
	}
	g := multiport.Geometry{Width: params[0], Height: params[1]}
	log.Info().Stringer("geometry", g).Int("endpoints", params[2]).Msg("session parameters")

	c := multiport.NewCoordinator(multiport.Options{
		Host:       set.Host,
		BasePort:   set.BasePort,
		Timeout:    set.ReceiveTimeout,
		SampleSize: set.SampleSize,
		Listen:     s.listen,
		Ready: func(p *multiport.Plan, addrs []net.Addr) error {
			ports := make([]int, len(addrs))
			for i, a := range addrs {
				port, err := addrPort(a)
				if err != nil {
					return err
				}
				ports[i] = port
			}
			msg := Announce(p, ports).String()
			log.Debug().Str("announce", msg).Msg("endpoints ready")
			_, err := s.conn.WriteTo([]byte(msg), client)
			return err
		},
		Logger: log,
	})
	return c.Run(g, set.DatagramLimit, params[2])
}

var paramNames = [...]string{"width", "height", "endpoint count"}

// readParams reads the session parameters from client. Datagrams from other
// addresses are discarded.
func (s *Server) readParams(client net.Addr, timeout time.Duration, buf []byte) ([3]int, error) {
	defer s.conn.SetReadDeadline(time.Time{})

	var out [3]int
	for i := 0; i < len(out); {
		if timeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(timeout))
		}
		nr, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			return out, fmt.Errorf("read %s: %w", paramNames[i], err)
		}
		if from.String() != client.String() {
			s.log.Warn().Str("client", client.String()).Str("from", from.String()).
				Msg("discarded datagram from another client during setup")
			continue
		}
		text := strings.TrimSpace(string(buf[:nr]))
		v, err := strconv.Atoi(text)
		if err != nil {
			return out, fmt.Errorf("invalid %s %q", paramNames[i], truncate(text, 32))
		}
		out[i] = v
		i++
	}
	return out, nil
}

func (s *Server) reply(to net.Addr, msg string) {
	if _, err := s.conn.WriteTo([]byte(msg), to); err != nil {
		s.log.Warn().Err(err).Str("client", to.String()).Msg("reply failed")
	}
}

func addrPort(a net.Addr) (int, error) {
	if ua, ok := a.(*net.UDPAddr); ok {
		return ua.Port, nil
	}
	_, ps, err := net.SplitHostPort(a.String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(ps)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	var te *multiport.TransferError
	if errors.As(err, &te) {
		return te.Err.Error()
	}
	return err.Error()
}
