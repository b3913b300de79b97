// Package config loads and watches the bot configuration file.
//
// Files may be JSON or YAML; YAML is coerced to JSON so both formats go
// through the same strict decoder (DisallowUnknownFields).
package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Digest   *DigestConfig  `json:"digest,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// OperatorIDs is the fixed allow-list gating broadcast, stats and
	// cancellation actions.
	OperatorIDs []int64 `json:"operator_ids"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards WARN+ log records to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the SQLite database holding recipients, channels
// and broadcast reports.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// DigestConfig controls the optional scheduled statistics digest.
//
// Schedule is a standard 5-field cron expression, e.g. "0 9 * * *".
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	ChatID   int64  `json:"chat_id"`
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Telegram.OperatorIDs) == 0 {
		return errors.New("telegram.operator_ids must list at least one operator")
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if _, err := c.Telegram.PollDuration(); err != nil {
		return fmt.Errorf("telegram.poll_timeout: %w", err)
	}
	if _, err := c.Storage.BusyDuration(); err != nil {
		return fmt.Errorf("storage.busy_timeout: %w", err)
	}
	if c.Digest != nil && c.Digest.Enabled {
		if c.Digest.Schedule == "" {
			return errors.New("digest.schedule is required when digest is enabled")
		}
		if c.Digest.ChatID == 0 {
			return errors.New("digest.chat_id is required when digest is enabled")
		}
	}
	return nil
}

func (t TelegramConfig) PollDuration() (time.Duration, error) {
	return parseDuration(t.PollTimeout)
}

func (s StorageConfig) BusyDuration() (time.Duration, error) {
	return parseDuration(s.BusyTimeout)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
