package config

import "time"

// Central place for all application-wide timing constants and other defaults.
// Changing a value here immediately affects all components that import
// github.com/jkaberg/sensor-stream/internal/config.

const (
	// Stream target used until the settings store holds something else.
	DefaultTargetIP         = "10.47.80.118"
	DefaultTargetPort       = 9999
	DefaultUpdateIntervalMS = 100

	// Accepted bounds for the send interval.
	MinUpdateIntervalMS = 1
	MaxUpdateIntervalMS = 10000

	// Keep-alive lease
	LeaseDuration      = 10 * time.Minute // requested hold time per acquire/renew
	LeaseRenewInterval = 5 * time.Minute  // must stay well below LeaseDuration

	// Operation time-outs (to avoid blocking goroutines)
	NotifyTimeout    = 1500 * time.Millisecond // termux-notification
	KeepAliveTimeout = 3 * time.Second         // termux-wake-lock / unlock
	MQTTTimeout      = 5 * time.Second         // MQTT publish / subscribe

	// Mock sensor source sample period
	MockSampleInterval = 20 * time.Millisecond

	// Wi-Fi watchdog check period
	WiFiCheckInterval = time.Minute

	// Periodic status refresh so counters reach MQTT between lifecycle changes
	StatusPublishInterval = 10 * time.Second

	// Config commands waiting to be applied; more are dropped
	CommandQueueSize = 8
)

// Settings store keys.
const (
	KeyTargetIP         = "target_ip"
	KeyTargetPort       = "target_port"
	KeyUpdateIntervalMS = "update_interval_ms"
	KeyLoggingEnabled   = "logging_enabled"
	KeyDeviceID         = "device_id"
)
