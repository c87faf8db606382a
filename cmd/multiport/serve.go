package main

import (
	"errors"
	"expvar"
	"flag"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
	"github.com/ssklykov/multiport"
	"github.com/ssklykov/multiport/channel"
	"github.com/ssklykov/multiport/config"
	"github.com/ssklykov/multiport/dispatch"
)

var serveFlags struct {
	Config      string `flag:"config,Configuration file (TOML)"`
	Watch       bool   `flag:"watch,Reload the configuration file when it changes"`
	MetricsAddr string `flag:"metrics-addr,Address at which to serve metrics over HTTP"`

	Control      string        `flag:"control,default=localhost:5005,Control channel address"`
	Host         string        `flag:"host,default=localhost,Host on which to bind endpoints"`
	BasePort     int           `flag:"base-port,default=5010,Port of the first endpoint (-1 for system-chosen ports)"`
	Limit        int           `flag:"limit,default=65507,Maximum datagram payload size in bytes"`
	SampleSize   int           `flag:"sample-size,default=6,Bytes allotted to each encoded sample"`
	Timeout      time.Duration `flag:"timeout,default=1.2s,Receive timeout of each endpoint"`
	SetupTimeout time.Duration `flag:"setup-timeout,default=5s,Timeout for session parameters"`
	QuitDelay    time.Duration `flag:"quit-delay,default=150ms,Delay after replying to QUIT"`
	ReadBuffer   int           `flag:"read-buffer,default=4194304,Socket receive buffer size of each endpoint"`
	LogLevel     string        `flag:"log-level,default=info,Minimum level of logged events"`
	SaveDir      string        `flag:"save-dir,Directory in which to save received images as PNG"`
}

// serveFlagSet records the flag set of the serve command, to find which flags
// were set explicitly.
var serveFlagSet *flag.FlagSet

func serveCommand() *command.C {
	return &command.C{
		Name:  "serve",
		Usage: "[flags]",
		Help: `Receive images from senders.

Settings are taken from flags, then from the configuration file (if any) for
flags that are not set explicitly. With -watch, changes to the configuration
file apply to subsequent transfers.`,

		SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
			flax.MustBind(fs, &serveFlags)
			serveFlagSet = fs
		},
		Run: runServe,
	}
}

// flagConfig returns the configuration given by the serve flags, and the
// names of the flags that were set explicitly.
func flagConfig() (config.Config, map[string]bool) {
	cfg := config.Config{
		Control:        serveFlags.Control,
		Host:           serveFlags.Host,
		BasePort:       serveFlags.BasePort,
		DatagramLimit:  serveFlags.Limit,
		SampleSize:     serveFlags.SampleSize,
		ReceiveTimeout: serveFlags.Timeout,
		SetupTimeout:   serveFlags.SetupTimeout,
		QuitDelay:      serveFlags.QuitDelay,
		ReadBuffer:     serveFlags.ReadBuffer,
		LogLevel:       serveFlags.LogLevel,
		SaveDir:        serveFlags.SaveDir,
	}
	changed := make(map[string]bool)
	if fs := serveFlagSet; fs != nil {
		fs.Visit(func(f *flag.Flag) { changed[f.Name] = true })
	}
	return cfg, changed
}

func runServe(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments: %q", env.Args)
	}
	base, changed := flagConfig()
	cfg := base
	if serveFlags.Config != "" {
		var err error
		cfg, err = config.Load(serveFlags.Config, base, changed)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else if serveFlags.Watch {
		return env.Usagef("-watch requires -config")
	} else if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.SaveDir != "" {
		if err := os.MkdirAll(cfg.SaveDir, 0755); err != nil {
			return err
		}
	}

	conn, err := net.ListenPacket("udp", cfg.Control)
	if err != nil {
		return err
	}
	srv := dispatch.NewServer(conn, channel.UDPListener(cfg.ReadBuffer), cfg.Settings()).SetLogger(&log)
	if dir := cfg.SaveDir; dir != "" {
		srv.OnImage(func(img *multiport.Image) {
			path, err := saveImage(dir, img)
			if err != nil {
				log.Error().Err(err).Msg("save image failed")
				return
			}
			log.Info().Str("path", path).Stringer("geometry", img.Geometry()).Msg("image saved")
		})
	}

	ctx, cancel := signal.NotifyContext(env.Context(), os.Interrupt)
	defer cancel()

	g := taskgroup.New(nil)
	if serveFlags.Watch {
		g.Go(func() error {
			return config.Watch(ctx, serveFlags.Config, &log, func(fc config.File) {
				reloadSettings(srv, base, changed, fc, &log)
			})
		})
	}
	expvar.Publish("multiport", multiport.Metrics())
	if addr := serveFlags.MetricsAddr; addr != "" {
		hsrv := &http.Server{Addr: addr} // expvar handles /debug/vars
		g.Go(func() error {
			<-ctx.Done()
			return hsrv.Close()
		})
		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("serving metrics")
			if err := hsrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
			return nil
		})
	}

	serr := srv.Serve(ctx)
	cancel()
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("background task failed")
	}
	return serr
}

// reloadSettings applies fc on top of base and, if the result is valid,
// installs its session settings in srv.
func reloadSettings(srv *dispatch.Server, base config.Config, changed map[string]bool, fc config.File, log *zerolog.Logger) {
	next := base
	if err := fc.Apply(&next, changed); err != nil {
		log.Error().Err(err).Msg("invalid config; keeping current settings")
		return
	}
	if err := next.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid config; keeping current settings")
		return
	}
	srv.Update(next.Settings())
	log.Info().Int("limit", next.DatagramLimit).Dur("timeout", next.ReceiveTimeout).
		Msg("settings updated")
}

func saveImage(dir string, img *multiport.Image) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("multiport-%s.png", time.Now().Format("20060102-150405.000")))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img.Gray16()); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
