package config

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/settings"
)

// ErrPersist is wrapped when a validated config could not be written to the
// settings store. The config is still live when this is returned.
var ErrPersist = errors.New("persist stream config")

// Store holds the live StreamConfig and mirrors it into the settings store.
type Store struct {
	mu       sync.RWMutex
	current  StreamConfig
	settings settings.Store
	logger   *logrus.Logger
}

// NewStore loads the persisted config, falling back to defaults for any
// missing key. A persisted config that fails validation is discarded in
// favour of defaults so a bad write can never wedge the daemon.
func NewStore(s settings.Store, defaults StreamConfig, logger *logrus.Logger) *Store {
	st := &Store{settings: s, logger: logger}

	loaded := StreamConfig{
		Host:       s.Get(KeyTargetIP, defaults.Host),
		Port:       getInt(s, KeyTargetPort, defaults.Port),
		IntervalMS: getInt(s, KeyUpdateIntervalMS, defaults.IntervalMS),
		Logging:    getBool(s, KeyLoggingEnabled, defaults.Logging),
	}
	if err := loaded.Validate(); err != nil {
		logger.WithError(err).Warn("Persisted stream config invalid; using defaults")
		loaded = defaults
	}
	st.current = loaded

	logger.WithFields(logrus.Fields{
		"target":      loaded.Addr(),
		"interval_ms": loaded.IntervalMS,
		"logging":     loaded.Logging,
	}).Debug("Stream config loaded")
	return st
}

// Current returns the live config.
func (s *Store) Current() StreamConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates cfg, makes it the live config and persists it. Validation
// failures leave the live config untouched and wrap ErrInvalidConfig.
func (s *Store) Update(cfg StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()

	return s.persist(cfg)
}

// Patch applies p on top of the live config and calls Update.
func (s *Store) Patch(p StreamPatch) (StreamConfig, error) {
	next := p.Apply(s.Current())
	return next, s.Update(next)
}

func (s *Store) persist(cfg StreamConfig) error {
	pairs := []struct{ key, val string }{
		{KeyTargetIP, cfg.Host},
		{KeyTargetPort, strconv.Itoa(cfg.Port)},
		{KeyUpdateIntervalMS, strconv.Itoa(cfg.IntervalMS)},
		{KeyLoggingEnabled, strconv.FormatBool(cfg.Logging)},
	}
	for _, kv := range pairs {
		if err := s.settings.Put(kv.key, kv.val); err != nil {
			return fmt.Errorf("%w: %v", ErrPersist, err)
		}
	}
	return nil
}

func getInt(s settings.Store, key string, def int) int {
	raw := s.Get(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func getBool(s settings.Store, key string, def bool) bool {
	raw := s.Get(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
