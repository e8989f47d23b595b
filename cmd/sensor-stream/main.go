package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/app"
	"github.com/jkaberg/sensor-stream/internal/bus"
	"github.com/jkaberg/sensor-stream/internal/config"
	"github.com/jkaberg/sensor-stream/internal/domain"
	"github.com/jkaberg/sensor-stream/internal/keepalive"
	"github.com/jkaberg/sensor-stream/internal/mqtt"
	"github.com/jkaberg/sensor-stream/internal/netutil"
	"github.com/jkaberg/sensor-stream/internal/notify"
	"github.com/jkaberg/sensor-stream/internal/sensors"
	"github.com/jkaberg/sensor-stream/internal/settings"
	"github.com/jkaberg/sensor-stream/internal/timeutil"
	"github.com/jkaberg/sensor-stream/internal/transmission"
	"github.com/jkaberg/sensor-stream/internal/wifi"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := setupLogger(cfg.Verbose)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("sensor-stream exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.DNSServer != "" {
		netutil.InstallResolver(cfg.DNSServer, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Persistent settings ----------------------------------------------------
	store, err := settings.OpenSQLite(cfg.SettingsPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	deviceID, err := resolveDeviceID(cfg.DeviceID, store)
	if err != nil {
		logger.WithError(err).Warn("Device id not persisted; a new one will be generated next run")
	}

	streamStore := config.NewStore(store, cfg.Stream, logger)
	current := streamStore.Current()

	logger.WithFields(logrus.Fields{
		"version":     version,
		"device_id":   deviceID,
		"target":      current.Addr(),
		"interval_ms": current.IntervalMS,
		"source":      cfg.Source,
	}).Info("Starting sensor-stream")

	// Engine -----------------------------------------------------------------
	clock := timeutil.RealClock{}
	snaps := domain.NewSnapshotStore()
	statusBus := bus.New()

	var prim keepalive.Primitive = keepalive.NoopPrimitive{}
	if cfg.WakeLock {
		prim = keepalive.NewTermuxWakeLock(config.KeepAliveTimeout, logger)
	}
	leases := keepalive.NewManager(prim, clock, logger)
	dialer := netutil.NewUDPDialer(logger)

	factory := func(sc config.StreamConfig) transmission.Transmitter {
		return transmission.New(sc, snaps, leases, dialer, clock, logger)
	}
	ctrl := app.NewController(streamStore, snaps, statusBus, factory, clock, logger)

	// Collaborators ----------------------------------------------------------
	var comps app.Components

	if cfg.HasMQTT() {
		client, err := mqtt.NewClient(cfg.MQTTUrl, deviceID, logger)
		if err != nil {
			return fmt.Errorf("failed to create MQTT client: %w", err)
		}
		defer client.Disconnect(250)

		topics := client.Topics()
		comps.Status = transmission.NewMQTTStatusPublisher(client, topics.Status, topics.Availability, logger)
		comps.Commands = client
		comps.CommandTopic = topics.ConfigSet
		if cfg.Source == "mqtt" {
			comps.Sources = append(comps.Sources, sensors.NewMQTTSource(client, topics.Readings, clock, logger))
		}
		logger.WithField("base_topic", topics.Base).Info("MQTT ready")
	}

	if cfg.Source == "mock" {
		comps.Sources = append(comps.Sources, sensors.NewMockSource(cfg.MockInterval, clock, logger))
	}
	if cfg.Notify {
		comps.Notifier = notify.NewTermuxNotifier(logger)
	}
	if cfg.WiFiWatchdog {
		comps.WiFi = wifi.NewWiFiManager(clock, logger)
	}

	if err := app.Run(ctx, ctrl, statusBus, comps, clock, logger); err != nil {
		return err
	}

	logger.Info("sensor-stream stopped")
	return nil
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

// parseFlags builds the configuration: defaults, then the optional YAML file,
// then environment variables and flags.
func parseFlags(args []string) (*config.Config, error) {
	cfg := config.GetDefaultConfig()

	if path := configPath(args); path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	fs := flag.NewFlagSet("sensor-stream", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "Show version and exit")
	fs.String("config", getEnv("SENSOR_STREAM_CONFIG", ""), "YAML configuration file")

	fs.StringVar(&cfg.Stream.Host, "target-ip", getEnv("SENSOR_STREAM_TARGET_IP", cfg.Stream.Host), "Default target IPv4 address")
	fs.IntVar(&cfg.Stream.Port, "target-port", getEnvInt("SENSOR_STREAM_TARGET_PORT", cfg.Stream.Port), "Default target UDP port")
	fs.IntVar(&cfg.Stream.IntervalMS, "interval-ms", getEnvInt("SENSOR_STREAM_INTERVAL_MS", cfg.Stream.IntervalMS), "Default send interval in milliseconds")
	fs.BoolVar(&cfg.Stream.Logging, "logging", getEnvBool("SENSOR_STREAM_LOGGING", cfg.Stream.Logging), "Log every packet at info level")

	fs.StringVar(&cfg.DeviceID, "device-id", getEnv("SENSOR_STREAM_DEVICE_ID", cfg.DeviceID), "Device identifier (generated when empty)")
	fs.BoolVar(&cfg.Verbose, "verbose", getEnvBool("SENSOR_STREAM_VERBOSE", cfg.Verbose), "Verbose logging")
	fs.StringVar(&cfg.SettingsPath, "settings-db", getEnv("SENSOR_STREAM_SETTINGS_DB", cfg.SettingsPath), "SQLite settings database (:memory: to disable)")
	fs.StringVar(&cfg.DNSServer, "dns-server", getEnv("SENSOR_STREAM_DNS_SERVER", cfg.DNSServer), "DNS resolver host:port (e.g. 1.1.1.1:53)")
	fs.StringVar(&cfg.Source, "source", getEnv("SENSOR_STREAM_SOURCE", cfg.Source), "Sensor source: mock or mqtt")
	fs.StringVar(&cfg.MQTTUrl, "mqtt-url", getEnv("SENSOR_STREAM_MQTT_URL", cfg.MQTTUrl), "MQTT URL")
	fs.BoolVar(&cfg.WakeLock, "wake-lock", getEnvBool("SENSOR_STREAM_WAKE_LOCK", cfg.WakeLock), "Hold a Termux wake lock while streaming")
	fs.BoolVar(&cfg.Notify, "notify", getEnvBool("SENSOR_STREAM_NOTIFY", cfg.Notify), "Show status via termux-notification")
	fs.BoolVar(&cfg.WiFiWatchdog, "wifi-watchdog", getEnvBool("SENSOR_STREAM_WIFI_WATCHDOG", cfg.WiFiWatchdog), "Re-enable Wi-Fi when switched off")

	mockIntervalStr := fs.String("mock-interval", getEnv("SENSOR_STREAM_MOCK_INTERVAL", ""), "Mock source sample period (e.g. 20ms)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *showVersion {
		fmt.Printf("sensor-stream %s\n", version)
		os.Exit(0)
	}

	if *mockIntervalStr != "" {
		d, ok := parseDuration(*mockIntervalStr, time.Millisecond)
		if !ok {
			return nil, fmt.Errorf("invalid mock interval %q", *mockIntervalStr)
		}
		cfg.MockInterval = d
	}

	return cfg, nil
}

// configPath finds --config ahead of the real parse so file values can seed
// flag defaults.
func configPath(args []string) string {
	for i, a := range args {
		a = strings.TrimLeft(a, "-")
		if a == "config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "config="); ok {
			return v
		}
	}
	return getEnv("SENSOR_STREAM_CONFIG", "")
}

// parseDuration accepts a Go duration or a bare positive number of unit.
func parseDuration(s string, unit time.Duration) (time.Duration, bool) {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return time.Duration(v) * unit, true
	}
	return 0, false
}

// resolveDeviceID returns id, else the persisted id, else a fresh one which
// is then persisted.
func resolveDeviceID(id string, store settings.Store) (string, error) {
	if id != "" {
		return id, nil
	}
	if saved := store.Get(config.KeyDeviceID, ""); saved != "" {
		return saved, nil
	}
	id = strings.SplitN(uuid.NewString(), "-", 2)[0]
	if err := store.Put(config.KeyDeviceID, id); err != nil {
		return id, err
	}
	return id, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return def
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
