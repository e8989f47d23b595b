package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration options for the sensor-stream daemon.
// The stream target itself lives in the Store; the fields under Stream only
// seed it on first run.
type Config struct {
	// Stream defaults for an empty settings store
	Stream StreamConfig `yaml:"stream"`

	// Device Configuration
	DeviceID string `yaml:"device_id"` // Unique device identifier; generated and persisted when empty

	// Application Configuration
	Verbose      bool   `yaml:"verbose"`       // Enable verbose logging
	SettingsPath string `yaml:"settings_path"` // SQLite settings database (":memory:" for none)
	DNSServer    string `yaml:"dns_server"`    // Optional resolver host:port for broker lookups

	// Sensor input
	Source       string        `yaml:"source"`        // "mock" or "mqtt"
	MockInterval time.Duration `yaml:"mock_interval"` // Sample period of the mock source

	// MQTT Configuration (readings bridge, remote config, status)
	MQTTUrl string `yaml:"mqtt_url"` // MQTT URL (supports both WebSocket and standard MQTT)

	// Android integrations
	WakeLock     bool `yaml:"wake_lock"`     // Hold a termux wake lock while streaming
	Notify       bool `yaml:"notify"`        // Post status via termux-notification
	WiFiWatchdog bool `yaml:"wifi_watchdog"` // Re-enable Wi-Fi if the radio was switched off
}

// GetDefaultConfig returns a configuration with sensible defaults
func GetDefaultConfig() *Config {
	return &Config{
		Stream:       DefaultStreamConfig(),
		DeviceID:     "", // Will be auto-generated
		Verbose:      false,
		SettingsPath: "sensor-stream.db",
		Source:       "mock",
		MockInterval: MockSampleInterval,
		WakeLock:     true,
		Notify:       true,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Stream.Validate(); err != nil {
		return err
	}

	switch c.Source {
	case "mock":
	case "mqtt":
		if c.MQTTUrl == "" {
			return fmt.Errorf("mqtt source requires an MQTT URL")
		}
	default:
		return fmt.Errorf("unknown sensor source %q (supported: mock, mqtt)", c.Source)
	}

	// MQTT validation - support both WebSocket and standard MQTT protocols
	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
	}

	if c.SettingsPath == "" {
		c.SettingsPath = ":memory:"
	}
	if c.MockInterval <= 0 {
		c.MockInterval = MockSampleInterval
	}

	return nil
}

// HasMQTT returns true if MQTT is configured
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != ""
}
