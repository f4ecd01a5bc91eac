// Package config parses the CLI surface shared by the sender and receiver
// binaries, mirroring the reference implementation's getopt_long options
// (-f/--filename, -b/--buf, positional hostname/port) plus an added
// --metrics-addr flag for optional Prometheus exposition.
package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/ventosilenzioso/gorudt/pkg/wire"
)

// Sender holds the resolved configuration for gorudt-sender.
type Sender struct {
	Host        string
	Port        string
	BufSize     uint32
	File        *os.File
	MetricsAddr string
}

// Receiver holds the resolved configuration for gorudt-receiver. BufSize
// and MaxWindow are deliberately independent, mirroring the reference
// implementation's fixed pktbuf_new(32) versus its separately clamped
// max_window global: BufSize is the physical ring-buffer capacity (rounded
// up to a power of two), while MaxWindow is the advertised window ceiling
// encoded into the wire format's 5-bit window field and so is clamped to
// wire.MaxWindow without rounding.
type Receiver struct {
	Host        string
	Port        string
	BufSize     uint32
	MaxWindow   uint32
	File        *os.File
	MetricsAddr string
}

// nextPow2 rounds n up to the next power of two, since pktbuf.New requires
// one (slot indices are masked with capacity-1).
func nextPow2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

// ParseSender parses os.Args[1:] into a Sender configuration. Defaults
// match the reference implementation: host "::1", port "1341", a 32-slot
// send buffer, stdin as input.
func ParseSender(args []string) (*Sender, error) {
	fs := pflag.NewFlagSet("gorudt-sender", pflag.ContinueOnError)
	filename := fs.StringP("filename", "f", "", "Send the content of FILE, otherwise send the content of stdin.")
	bufSize := fs.Uint32P("buf", "b", 32, "Limit the send buffer to BUFSIZE slots.")
	metricsAddr := fs.String("metrics-addr", "", "If set, expose Prometheus metrics on this address.")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Sender{
		Host:        "::1",
		Port:        "1341",
		BufSize:     nextPow2(*bufSize),
		File:        os.Stdin,
		MetricsAddr: *metricsAddr,
	}

	if *filename != "" {
		f, err := os.Open(*filename)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read the content of %s", *filename)
		}
		cfg.File = f
	}

	if rest := fs.Args(); len(rest) >= 2 {
		cfg.Host, cfg.Port = rest[0], rest[1]
	}

	return cfg, nil
}

// ParseReceiver parses os.Args[1:] into a Receiver configuration. Defaults
// match the reference implementation: host "::" (any), port "1341", a
// fixed 32-slot receive buffer, an advertised window of --buf (default
// wire.MaxWindow) clamped to wire.MaxWindow, stdout as output.
func ParseReceiver(args []string) (*Receiver, error) {
	fs := pflag.NewFlagSet("gorudt-receiver", pflag.ContinueOnError)
	filename := fs.StringP("filename", "f", "", "Write the received data to FILE, otherwise use stdout.")
	bufSize := fs.Uint32P("buf", "b", wire.MaxWindow, "Limit the advertised receive window to BUFSIZE slots.")
	metricsAddr := fs.String("metrics-addr", "", "If set, expose Prometheus metrics on this address.")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	maxWindow := *bufSize
	if maxWindow > wire.MaxWindow {
		maxWindow = wire.MaxWindow
	}

	cfg := &Receiver{
		Host: "::",
		Port: "1341",
		// The physical receive buffer is sized independently of the
		// advertised window: the reference implementation always
		// allocates a 32-slot pktbuf regardless of --buf, and only
		// clamps max_window (never the buffer) to MAX_WINDOW_SIZE.
		BufSize:     nextPow2(32),
		MaxWindow:   maxWindow,
		File:        os.Stdout,
		MetricsAddr: *metricsAddr,
	}

	if *filename != "" {
		f, err := os.Create(*filename)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot write to %s", *filename)
		}
		cfg.File = f
	}

	if rest := fs.Args(); len(rest) >= 2 {
		cfg.Host, cfg.Port = rest[0], rest[1]
	}

	return cfg, nil
}
