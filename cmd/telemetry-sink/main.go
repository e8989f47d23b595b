// Command telemetry-sink listens for sensor-stream datagrams, decodes them and
// logs what arrives. Useful for checking a phone is streaming before pointing
// it at the real consumer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jkaberg/sensor-stream/internal/codec"
)

func main() {
	listen := flag.String("listen", getEnv("TELEMETRY_SINK_LISTEN", ":9999"), "UDP address to listen on")
	verbose := flag.Bool("verbose", false, "Log every packet")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr, err := net.ResolveUDPAddr("udp4", *listen)
	if err != nil {
		logger.WithError(err).Fatal("Invalid listen address")
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		logger.WithError(err).Fatal("Failed to listen")
	}
	logger.WithField("addr", conn.LocalAddr().String()).Info("Telemetry sink listening")

	sink := NewSink(logger)
	if err := sink.Serve(ctx, conn, time.Second); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("Telemetry sink failed")
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Sink counts and decodes datagrams.
type Sink struct {
	logger *logrus.Logger

	packets atomic.Int64
	bytes   atomic.Int64
	invalid atomic.Int64
	last    atomic.Pointer[codec.Packet]
}

// NewSink returns an empty Sink.
func NewSink(logger *logrus.Logger) *Sink {
	return &Sink{logger: logger}
}

// Serve reads from conn until ctx is cancelled, closing conn on the way out,
// and logs a rate summary every interval.
func (s *Sink) Serve(ctx context.Context, conn net.PacketConn, interval time.Duration) error {
	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		<-ctx.Done()
		conn.Close()
		return ctx.Err()
	})

	grp.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				s.report(interval)
			}
		}
	})

	grp.Go(func() error {
		buf := make([]byte, 65536)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return ctx.Err()
				}
				s.logger.WithError(err).Warn("Read error")
				continue
			}
			s.Handle(buf[:n], from)
		}
	})

	return grp.Wait()
}

// Handle decodes one datagram.
func (s *Sink) Handle(b []byte, from net.Addr) {
	s.bytes.Add(int64(len(b)))

	p, err := codec.Decode(b)
	if err != nil {
		s.invalid.Add(1)
		s.logger.WithError(err).WithField("from", fmt.Sprint(from)).Warn("Invalid telemetry packet")
		return
	}
	s.packets.Add(1)
	s.last.Store(&p)

	s.logger.WithFields(logrus.Fields{
		"from":    fmt.Sprint(from),
		"yaw":     fmt.Sprintf("%.1f", p.Orientation.Yaw),
		"pitch":   fmt.Sprintf("%.1f", p.Orientation.Pitch),
		"roll":    fmt.Sprintf("%.1f", p.Orientation.Roll),
		"latency": time.Since(time.UnixMilli(p.Timestamp)).Round(time.Millisecond),
	}).Debug("Telemetry packet")
}

func (s *Sink) report(interval time.Duration) {
	packets := s.packets.Swap(0)
	bytes := s.bytes.Swap(0)
	invalid := s.invalid.Swap(0)
	if packets == 0 && invalid == 0 {
		return
	}

	fields := logrus.Fields{
		"packets_per_sec": float64(packets) / interval.Seconds(),
		"kb_per_sec":      fmt.Sprintf("%.1f", float64(bytes)/1024/interval.Seconds()),
		"invalid":         invalid,
	}
	if p := s.last.Load(); p != nil {
		fields["interval_ms"] = p.UpdateIntervalMS
		fields["logging"] = p.Logging
		fields["yaw"] = fmt.Sprintf("%.1f", p.Orientation.Yaw)
	}
	s.logger.WithFields(fields).Info("Receiving telemetry")
}
