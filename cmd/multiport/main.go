// Program multiport receives and sends 16-bit images through parallel UDP
// endpoints.
package main

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/rs/zerolog"
	"github.com/ssklykov/multiport"
	"github.com/ssklykov/multiport/config"
	"github.com/ssklykov/multiport/sender"
)

var clientFlags struct {
	Control  string        `flag:"control,default=localhost:5005,Control channel address of the receiver"`
	Host     string        `flag:"host,Host to send chunks to (default: host of the control address)"`
	Timeout  time.Duration `flag:"timeout,default=5s,Timeout for control replies"`
	Interval time.Duration `flag:"interval,Delay between datagrams sent to an endpoint"`
	LogLevel string        `flag:"log-level,default=info,Minimum level of logged events"`
}

var sendFlags struct {
	Endpoints int    `flag:"n,default=4,Number of endpoints"`
	Input     string `flag:"input,PNG image to send (default: a synthetic image)"`
	Width     int    `flag:"width,default=1024,Width of the synthetic image"`
	Height    int    `flag:"height,default=1024,Height of the synthetic image"`
}

var planFlags struct {
	Limit      int `flag:"limit,default=65507,Maximum datagram payload size in bytes"`
	SampleSize int `flag:"sample-size,default=6,Bytes allotted to each encoded sample"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: `Send and receive images through parallel UDP endpoints.

A receiver (serve) listens for text commands on a control channel. A sender
(send) negotiates the image geometry and the number of endpoints, and then
sends the rows of the image to the endpoints in parallel.`,
		Commands: []*command.C{
			serveCommand(),
			{
				Name:  "send",
				Usage: "[flags]",
				Help:  "Send an image to a receiver.",

				SetFlags: command.Flags(flax.MustBind, &clientFlags, &sendFlags),
				Run:      runSend,
			},
			{
				Name: "ping",
				Help: "Check that a receiver is responsive.",

				SetFlags: command.Flags(flax.MustBind, &clientFlags),
				Run: func(env *command.Env) error {
					start := time.Now()
					if err := newClient().Ping(env.Context()); err != nil {
						return err
					}
					fmt.Printf("Echo from %s in %v\n", clientFlags.Control, time.Since(start).Round(time.Microsecond))
					return nil
				},
			},
			{
				Name: "quit",
				Help: "Ask a receiver to stop.",

				SetFlags: command.Flags(flax.MustBind, &clientFlags),
				Run: func(env *command.Env) error {
					return newClient().Quit(env.Context())
				},
			},
			{
				Name:  "plan",
				Usage: "<width> <height> <endpoints>",
				Help: `Print the transfer plan for an image.

The plan shows how the rows of the image are divided into chunks, and which
chunks are assigned to each endpoint.`,

				SetFlags: command.Flags(flax.MustBind, &planFlags),
				Run:      runPlan,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func newLogger() zerolog.Logger {
	log, err := config.NewLogger(os.Stderr, clientFlags.LogLevel)
	if err != nil {
		log, _ = config.NewLogger(os.Stderr, "info")
		log.Warn().Err(err).Msg("using log level info")
	}
	return log
}

func newClient() *sender.Client {
	log := newLogger()
	return sender.New(clientFlags.Control, sender.Options{
		Host:     clientFlags.Host,
		Timeout:  clientFlags.Timeout,
		Interval: clientFlags.Interval,
		Logger:   &log,
	})
}

func runSend(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments: %q", env.Args)
	}
	img, err := loadImage()
	if err != nil {
		return err
	}
	res, err := newClient().Send(env.Context(), img, sendFlags.Endpoints)
	if err != nil {
		return err
	}
	fmt.Printf("Sent %v image in %d chunks (%d bytes) through %d endpoints in %v\n",
		img.Geometry(), res.Chunks, res.Bytes, res.Plan.Endpoints, res.Elapsed.Round(time.Millisecond))
	return nil
}

// loadImage reads the image named by the -input flag, or generates a
// synthetic gradient of the requested size.
func loadImage() (*multiport.Image, error) {
	if sendFlags.Input == "" {
		w, h := sendFlags.Width, sendFlags.Height
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("invalid image size %dx%d", w, h)
		}
		img := multiport.NewImage(w, h)
		for y := range h {
			row := img.Row(y)
			for x := range row {
				row[x] = uint16((x + y) * 65535 / (w + h))
			}
		}
		return img, nil
	}
	f, err := os.Open(sendFlags.Input)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", sendFlags.Input, err)
	}
	return multiport.FromImage(src), nil
}

func runPlan(env *command.Env) error {
	if len(env.Args) != 3 {
		return env.Usagef("got %d arguments, want width, height, endpoints", len(env.Args))
	}
	var vs [3]int
	for i, arg := range env.Args {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid argument %q: %w", arg, err)
		}
		vs[i] = v
	}
	plan, err := multiport.NewPlan(multiport.Geometry{Width: vs[0], Height: vs[1]},
		planFlags.Limit, vs[2], planFlags.SampleSize)
	if err != nil {
		return err
	}

	fmt.Println(plan)
	tw := tabwriter.NewWriter(os.Stdout, 4, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ENDPOINT\tFIRST ROW\tROWS\tCHUNKS\tLAST CHUNK ROWS\t")
	for _, a := range plan.Assignments() {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t\n", a.Endpoint, a.FirstRow, a.Rows, a.Chunks, a.LastChunkRows)
	}
	return tw.Flush()
}
