package main

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/sensor-stream/internal/codec"
	"github.com/jkaberg/sensor-stream/internal/config"
	"github.com/jkaberg/sensor-stream/internal/domain"
)

func TestSink_ServeDecodesPackets(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	sink := NewSink(logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Serve(ctx, conn, time.Hour) }()

	out, err := net.Dial("udp4", conn.LocalAddr().String())
	require.NoError(t, err)
	defer out.Close()

	cfg := config.DefaultStreamConfig()
	cfg.IntervalMS = 25
	b, err := codec.Encode(domain.Snapshot{}, cfg, time.Now())
	require.NoError(t, err)

	_, err = out.Write(b)
	require.NoError(t, err)
	_, err = out.Write([]byte(`{"accelerometer":{}}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sink.packets.Load() == 1 && sink.invalid.Load() == 1
	}, 2*time.Second, time.Millisecond)
	require.NotNil(t, sink.last.Load())
	assert.Equal(t, 25, sink.last.Load().UpdateIntervalMS)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
