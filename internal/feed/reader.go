package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"modesfeed/internal/adsb"
	"modesfeed/internal/beast"
)

// Format selects how the source stream is framed
type Format string

const (
	// FormatRaw is one hex frame per line ("*8D...;", dump1090 port 30002)
	FormatRaw Format = "raw"
	// FormatBeast is the binary Beast protocol (dump1090 port 30005)
	FormatBeast Format = "beast"
)

// DefaultReconnectDelay is the pause between TCP reconnect attempts
const DefaultReconnectDelay = 5 * time.Second

// ParseFormat parses "raw" or "beast"
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatRaw, FormatBeast:
		return f, nil
	default:
		return "", fmt.Errorf("unknown feed format %q", s)
	}
}

// Frame is one unit of input for the decoder: a text line from a raw feed
// or the Mode S bytes of a Beast frame
type Frame struct {
	Line     string
	Data     []byte
	Received time.Time
}

// Config describes where frames come from
type Config struct {
	// Source is "tcp://host:port", a file path, or "-" for stdin
	Source         string
	Format         Format
	ReconnectDelay time.Duration
}

// Reader pulls frames from a source and hands them to a channel
type Reader struct {
	config Config
	logger *logrus.Logger
	now    func() time.Time

	received atomic.Uint64
}

// NewReader validates the configuration and creates a reader
func NewReader(config Config, logger *logrus.Logger) (*Reader, error) {
	if config.Source == "" {
		return nil, fmt.Errorf("feed source is required")
	}
	if _, err := ParseFormat(string(config.Format)); err != nil {
		return nil, err
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	return &Reader{
		config: config,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Received returns the number of frames delivered so far
func (r *Reader) Received() uint64 {
	return r.received.Load()
}

func (r *Reader) address() (string, bool) {
	if addr, ok := strings.CutPrefix(r.config.Source, "tcp://"); ok {
		return addr, true
	}
	return "", false
}

// Run reads until ctx is done. File sources return nil at end of input;
// TCP sources reconnect after ReconnectDelay whenever the connection drops.
func (r *Reader) Run(ctx context.Context, out chan<- Frame) error {
	addr, network := r.address()
	if !network {
		return r.runFile(ctx, out)
	}

	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.WithError(err).WithField("address", addr).Warn("Failed to connect to feed")
		} else {
			r.logger.WithField("address", addr).Info("Connected to feed")
			err = r.consume(ctx, conn, out)
			conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			r.logger.WithError(err).WithField("address", addr).Warn("Feed disconnected")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.config.ReconnectDelay):
		}
	}
}

func (r *Reader) runFile(ctx context.Context, out chan<- Frame) error {
	var src io.ReadCloser = os.Stdin
	if r.config.Source != "-" {
		f, err := os.Open(r.config.Source)
		if err != nil {
			return fmt.Errorf("failed to open feed file: %w", err)
		}
		src = f
	}
	defer src.Close()

	r.logger.WithField("source", r.config.Source).Info("Reading feed file")
	err := r.consume(ctx, src, out)
	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		return nil
	}
	return err
}

// consume reads src until it fails or ends. Closing src on cancellation
// unblocks a pending read.
func (r *Reader) consume(ctx context.Context, src io.ReadCloser, out chan<- Frame) error {
	stop := context.AfterFunc(ctx, func() { src.Close() })
	defer stop()

	if r.config.Format == FormatBeast {
		return r.consumeBeast(ctx, src, out)
	}
	return r.consumeLines(ctx, src, out)
}

func (r *Reader) consumeLines(ctx context.Context, src io.Reader, out chan<- Frame) error {
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !r.send(ctx, out, Frame{Line: line, Received: r.now()}) {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read feed: %w", err)
	}
	return io.EOF
}

func (r *Reader) consumeBeast(ctx context.Context, src io.Reader, out chan<- Frame) error {
	decoder := beast.NewDecoder(r.logger)
	buf := make([]byte, 4096)
	formats := make(map[adsb.DownlinkFormat]int)

	for {
		n, err := src.Read(buf)
		for _, msg := range decoder.Decode(buf[:n]) {
			if !msg.IsModeS() || !msg.IsValid() {
				continue
			}
			formats[msg.Format()]++
			if !r.send(ctx, out, Frame{Data: msg.Data, Received: msg.Received}) {
				return ctx.Err()
			}
		}
		if err != nil {
			frames, resyncs := decoder.Stats()
			r.logger.WithFields(logrus.Fields{
				"frames":  frames,
				"resyncs": resyncs,
				"formats": formats,
			}).Debug("Beast stream ended")
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("failed to read feed: %w", err)
		}
	}
}

func (r *Reader) send(ctx context.Context, out chan<- Frame, f Frame) bool {
	select {
	case out <- f:
		r.received.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}
