package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every StreamConfig validation failure.
var ErrInvalidConfig = errors.New("invalid stream config")

// StreamConfig is the target and cadence a single transmitter instance runs
// with. It is passed by value and never mutated once handed out.
type StreamConfig struct {
	Host       string `json:"target_ip" yaml:"target_ip"`
	Port       int    `json:"target_port" yaml:"target_port"`
	IntervalMS int    `json:"update_interval_ms" yaml:"update_interval_ms"`
	Logging    bool   `json:"logging" yaml:"logging"`
}

// DefaultStreamConfig returns the built-in target and cadence.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Host:       DefaultTargetIP,
		Port:       DefaultTargetPort,
		IntervalMS: DefaultUpdateIntervalMS,
	}
}

// Validate checks every field and reports the first problem found.
func (c StreamConfig) Validate() error {
	if !IsDottedQuad(c.Host) {
		return fmt.Errorf("%w: target_ip %q is not a dotted-quad IPv4 address", ErrInvalidConfig, c.Host)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: target_port %d out of range 1-65535", ErrInvalidConfig, c.Port)
	}
	if c.IntervalMS < MinUpdateIntervalMS || c.IntervalMS > MaxUpdateIntervalMS {
		return fmt.Errorf("%w: update_interval_ms %d out of range %d-%d",
			ErrInvalidConfig, c.IntervalMS, MinUpdateIntervalMS, MaxUpdateIntervalMS)
	}
	return nil
}

// Interval returns the send cadence as a duration.
func (c StreamConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Addr returns host:port.
func (c StreamConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsDottedQuad reports whether s is exactly four decimal octets 0-255
// separated by dots, without leading zeros.
func IsDottedQuad(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		if len(p) > 1 && p[0] == '0' {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
		if n, _ := strconv.Atoi(p); n > 255 {
			return false
		}
	}
	return true
}

// StreamPatch is a partial update; nil fields keep their current value.
type StreamPatch struct {
	Host       *string `json:"target_ip,omitempty" yaml:"target_ip"`
	Port       *int    `json:"target_port,omitempty" yaml:"target_port"`
	IntervalMS *int    `json:"update_interval_ms,omitempty" yaml:"update_interval_ms"`
	Logging    *bool   `json:"logging,omitempty" yaml:"logging"`
}

// Apply returns base with the patch's non-nil fields applied.
func (p StreamPatch) Apply(base StreamConfig) StreamConfig {
	if p.Host != nil {
		base.Host = strings.TrimSpace(*p.Host)
	}
	if p.Port != nil {
		base.Port = *p.Port
	}
	if p.IntervalMS != nil {
		base.IntervalMS = *p.IntervalMS
	}
	if p.Logging != nil {
		base.Logging = *p.Logging
	}
	return base
}

// Empty reports whether the patch changes nothing.
func (p StreamPatch) Empty() bool {
	return p.Host == nil && p.Port == nil && p.IntervalMS == nil && p.Logging == nil
}
