package core

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	maxIPv4Payload = 65535 - ipv4MinHeaderLen - icmpHeaderLen
	maxIPv6Payload = 65535 - icmpHeaderLen
)

// ErrInvalidSettings is wrapped by every settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings contains all configurable properties of a ping session.
type Settings struct {
	// Count is the amount of echo requests sent before the session completes.
	Count int `yaml:"count"`

	// Continuous sends echo requests until the session is cancelled, ignoring Count.
	Continuous bool `yaml:"continuous"`

	// Size is the amount of payload bytes carried by each echo request.
	Size int `yaml:"size"`

	// Timeout is how long each echo request waits for its reply.
	Timeout time.Duration `yaml:"timeout"`

	// TTL is the IP time to live, or IPv6 hop limit, of the echo requests.
	TTL int `yaml:"ttl"`

	// Interval is the pause between the resolution of a probe and the next send.
	Interval time.Duration `yaml:"interval"`

	// Deadline ends the session after this long regardless of Count, 0 disables it.
	Deadline time.Duration `yaml:"deadline"`

	// Family forces an address family, FamilyAny accepts the one of the target.
	Family Family `yaml:"family"`

	// LoggingLevel is the level of the session logger.
	LoggingLevel log.Level `yaml:"log_level"`
}

// DefaultSettings returns the default settings for a ping session, change as you wish.
func DefaultSettings() *Settings {
	return &Settings{
		Count:        4,
		Continuous:   false,
		Size:         56,
		Timeout:      time.Second,
		TTL:          128,
		Interval:     time.Second,
		Deadline:     0,
		Family:       FamilyAny,
		LoggingLevel: log.WarnLevel,
	}
}

// LoadSettings reads a YAML settings file on top of the defaults.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	return ParseSettings(data)
}

// ParseSettings parses YAML settings on top of the defaults and validates them.
func ParseSettings(data []byte) (*Settings, error) {
	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	if err := settings.validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

// validate returns an error wrapping ErrInvalidSettings for the first invalid value.
func (s *Settings) validate() error {
	if s.TTL <= 0 || s.TTL > 255 {
		return fmt.Errorf("%w: ttl %d must be in the range 1-255", ErrInvalidSettings, s.TTL)
	}
	if !s.Continuous && s.Count <= 0 {
		return fmt.Errorf("%w: count %d must be positive", ErrInvalidSettings, s.Count)
	}
	if s.Size < 0 {
		return fmt.Errorf("%w: size %d must not be negative", ErrInvalidSettings, s.Size)
	}
	if s.Size > s.maxPayload(s.Family) {
		return fmt.Errorf("%w: size %d exceeds the maximum payload of %d bytes",
			ErrInvalidSettings, s.Size, s.maxPayload(s.Family))
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%w: timeout %s must be positive", ErrInvalidSettings, s.Timeout)
	}
	if s.Interval < 0 {
		return fmt.Errorf("%w: interval %s must not be negative", ErrInvalidSettings, s.Interval)
	}
	if s.Deadline < 0 {
		return fmt.Errorf("%w: deadline %s must not be negative", ErrInvalidSettings, s.Deadline)
	}
	switch s.Family {
	case FamilyAny, FamilyIPv4, FamilyIPv6:
	default:
		return fmt.Errorf("%w: unknown address family %d", ErrInvalidSettings, s.Family)
	}
	return nil
}

// maxPayload is the largest payload that fits a single datagram of family.
func (s *Settings) maxPayload(family Family) int {
	if family == FamilyIPv6 {
		return maxIPv6Payload
	}
	if family == FamilyIPv4 {
		return maxIPv4Payload
	}
	return maxIPv6Payload
}
