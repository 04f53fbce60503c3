package config

import (
	"fmt"
	"slices"
	"time"
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) Valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

// Schedule holds the environment-sampled runtime settings: notification fire
// times, destination and admin allowlist. It is re-sampled periodically by the
// watcher so these can change without a restart.
type Schedule struct {
	Morning  Clock
	Evening  Clock
	Timezone string

	ChatID int64
	Admins []int64

	PollInterval time.Duration

	Reload     Clock
	ReloadHard bool
}

func (s Schedule) Equal(o Schedule) bool {
	return s.Morning == o.Morning &&
		s.Evening == o.Evening &&
		s.Timezone == o.Timezone &&
		s.ChatID == o.ChatID &&
		slices.Equal(s.Admins, o.Admins) &&
		s.PollInterval == o.PollInterval &&
		s.Reload == o.Reload &&
		s.ReloadHard == o.ReloadHard
}

// IsAdmin reports whether id is in the allowlist.
func (s Schedule) IsAdmin(id int64) bool {
	return slices.Contains(s.Admins, id)
}

// File holds the static settings read once from the optional YAML config file.
// Everything here survives until the next reload; secrets stay in the
// environment, never in this file.
type File struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram"`
	Sheet    SheetConfig    `json:"sheet"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type TelegramConfig struct {
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type SheetConfig struct {
	// Range is an A1 range fetched from the first worksheet.
	Range string `json:"range"`
}

// StorageConfig controls the optional token-cache store.
//
// Example:
//
//	storage: { driver: file, path: ./sheetbot_store }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

type DispatchConfig struct {
	// Templates are text/template bodies; see internal/dispatch for the
	// available fields. Empty means the built-in default.
	MorningTemplate string `json:"morning_template"`
	EveningTemplate string `json:"evening_template"`
	// RatePerSec caps outgoing sends.
	RatePerSec int `json:"rate_per_sec"`
}
