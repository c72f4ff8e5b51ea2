// Package config loads, validates, and watches the listwatch configuration.
//
// Config files are YAML (or JSON); YAML is coerced to JSON so one strict
// decoder (DisallowUnknownFields) covers both formats and typos fail loudly.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"

	"listwatch/internal/market"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram"`

	// DataDir holds the per-source persisted stores (and board snapshots).
	DataDir string `json:"data_dir"`

	// Storage selects the persistence driver. Omitted means the file
	// driver rooted at DataDir.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Timezone is the fixed display timezone for notification timestamps
	// and the digest schedule. Defaults to UTC.
	Timezone string `json:"timezone,omitempty"`

	// PollInterval and FetchTimeout are Go duration strings
	// (e.g. "2s", "1500ms").
	PollInterval string `json:"poll_interval,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`

	// StatusEvery is the number of poll cycles between info-level status
	// lines per source.
	StatusEvery int `json:"status_every,omitempty"`

	Sources []SourceConfig `json:"sources"`
	Boards  []BoardConfig  `json:"boards,omitempty"`
	Digest  DigestConfig   `json:"digest,omitempty"`
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
	Token string `json:"token"`
	// Recipients is the ordered chat-id list every notification goes to.
	Recipients []int64 `json:"recipients"`
	RatePerSec int     `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // sqlite database file
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SourceConfig struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type BoardConfig struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Interval string `json:"interval,omitempty"` // Go duration string
}

type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // standard cron spec
}

// Validate fails fast on anything that would otherwise only surface at first
// poll: unknown parser kinds, bad URLs, an unloadable timezone, a bad cron
// spec.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if len(c.Telegram.Recipients) == 0 {
		return fmt.Errorf("telegram.recipients must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if len(c.Sources) == 0 && len(c.Boards) == 0 {
		return fmt.Errorf("at least one source or board is required")
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if _, err := ParseDurationField("poll_interval", c.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("fetch_timeout", c.FetchTimeout); err != nil {
		return err
	}

	names := map[string]struct{}{}
	for i, s := range c.Sources {
		at := fmt.Sprintf("sources[%d]", i)
		if s.Name == "" {
			return fmt.Errorf("%s: name is required", at)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("%s: duplicate name %q", at, s.Name)
		}
		names[s.Name] = struct{}{}
		if !market.KnownKind(s.Kind) {
			return fmt.Errorf("%s: unknown kind %q (known: %v)", at, s.Kind, market.Kinds())
		}
		if err := validateURL(at, s.URL); err != nil {
			return err
		}
	}
	for i, b := range c.Boards {
		at := fmt.Sprintf("boards[%d]", i)
		if b.Name == "" {
			return fmt.Errorf("%s: name is required", at)
		}
		if _, dup := names[b.Name]; dup {
			return fmt.Errorf("%s: duplicate name %q", at, b.Name)
		}
		names[b.Name] = struct{}{}
		if err := validateURL(at, b.URL); err != nil {
			return err
		}
		if _, err := ParseDurationField(at+".interval", b.Interval); err != nil {
			return err
		}
	}

	if c.Storage != nil {
		switch c.Storage.Driver {
		case "", "file":
		case "sqlite", "sqlite3":
			if c.Storage.Path == "" {
				return fmt.Errorf("storage.path is required for sqlite driver")
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	if c.Digest.Enabled {
		spec := c.Digest.Schedule
		if spec == "" {
			return fmt.Errorf("digest.schedule is required when digest is enabled")
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("digest.schedule: %w", err)
		}
	}
	return nil
}

// Location resolves the configured timezone; call after Validate.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func validateURL(at, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid url: %w", at, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: url must be http(s), got %q", at, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: url has no host", at)
	}
	return nil
}
