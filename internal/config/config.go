package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"

	"shiftcal/internal/schedule"
)

// DefaultPath is used when neither --config nor SHIFTCAL_CONFIG is set.
const DefaultPath = "/etc/shiftcal/config.yaml"

var identifierRe = regexp.MustCompile(`^CHD\d{7}$`)

// SiteConfig holds the schedule site login and browser settings.
type SiteConfig struct {
	// URL is the login page of the schedule site.
	URL string `yaml:"url" json:"url"`
	// Identifier is the employee login, e.g. "CHD1234567".
	Identifier string `yaml:"identifier" json:"identifier"`
	Password   string `yaml:"password" json:"-"`
	// Profile is the user-settings profile suffix selected after login.
	Profile string `yaml:"profile" json:"profile"`
	// ResponseTimeout bounds the wait for one month's payload.
	ResponseTimeout time.Duration `yaml:"response_timeout" json:"response_timeout"`
	// SessionTimeout bounds a whole scraping session.
	SessionTimeout time.Duration `yaml:"session_timeout" json:"session_timeout"`
	// ChromePath overrides the Chromium binary; empty means auto-detect.
	ChromePath string `yaml:"chrome_path,omitempty" json:"chrome_path,omitempty"`
	// ShowBrowser runs Chromium with a visible window, for debugging.
	ShowBrowser bool `yaml:"show_browser,omitempty" json:"show_browser,omitempty"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, is.URL),
		validation.Field(&c.Identifier, validation.Required,
			validation.Match(identifierRe).Error("must look like CHD followed by 7 digits")),
		validation.Field(&c.Password, validation.Required),
		validation.Field(&c.ResponseTimeout, validation.Min(time.Second)),
		validation.Field(&c.SessionTimeout, validation.Min(time.Second)),
	)
}

// StoreConfig holds the SQLite database location.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// CalendarConfig holds the external calendar and its service account.
type CalendarConfig struct {
	// Name of the managed calendar.
	Name string `yaml:"name" json:"name"`
	// ShiftLabel is the summary of plain on-site shifts.
	ShiftLabel string `yaml:"shift_label" json:"shift_label"`
	// OwnerEmail is granted the owner role on the managed calendar.
	OwnerEmail string `yaml:"owner_email" json:"owner_email"`

	// CredentialsFile is a service account JSON key. When empty,
	// ServiceAccountEmail and PrivateKey are used instead.
	CredentialsFile     string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`
	ServiceAccountEmail string `yaml:"service_account_email,omitempty" json:"service_account_email,omitempty"`
	PrivateKey          string `yaml:"private_key,omitempty" json:"-"`
}

// Validate validates the calendar configuration.
func (c *CalendarConfig) Validate() error {
	keyed := c.CredentialsFile == ""
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.OwnerEmail, validation.Required, is.EmailFormat),
		validation.Field(&c.ServiceAccountEmail, validation.When(keyed, validation.Required, is.EmailFormat)),
		validation.Field(&c.PrivateKey, validation.When(keyed, validation.Required)),
	)
}

// ScheduleConfig holds the six-field cron specs of the periodic jobs.
type ScheduleConfig struct {
	Fetch string `yaml:"fetch" json:"fetch"`
	Sync  string `yaml:"sync" json:"sync"`
	// MonthsAhead is the number of months fetched after the current one.
	MonthsAhead int `yaml:"months_ahead" json:"months_ahead"`
}

// Validate validates the schedule configuration.
func (c *ScheduleConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Fetch, validation.Required, validation.By(cronSpec)),
		validation.Field(&c.Sync, validation.Required, validation.By(cronSpec)),
		validation.Field(&c.MonthsAhead, validation.Min(0), validation.Max(12)),
	)
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Validate validates the basic auth configuration.
func (c *BasicAuthConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Username, validation.Required),
		validation.Field(&c.Password, validation.Required),
	)
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the status API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone events are interpreted in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Site     SiteConfig     `yaml:"site" json:"site"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "Europe/Paris",
		LogLevel: "info",
		Site: SiteConfig{
			Profile:         "0002",
			ResponseTimeout: 30 * time.Second,
			SessionTimeout:  5 * time.Minute,
		},
		Store: StoreConfig{Path: "/var/lib/shiftcal/shiftcal.db"},
		Calendar: CalendarConfig{
			Name:       "Planning",
			ShiftLabel: "Chronodrive",
		},
		Schedule: ScheduleConfig{
			Fetch: "0 0 * * * *",
			Sync:  "0 30 * * * *",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = def.LogLevel
	}
	if c.Site.Profile == "" {
		c.Site.Profile = def.Site.Profile
	}
	if c.Site.ResponseTimeout <= 0 {
		c.Site.ResponseTimeout = def.Site.ResponseTimeout
	}
	if c.Site.SessionTimeout <= 0 {
		c.Site.SessionTimeout = def.Site.SessionTimeout
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Calendar.Name == "" {
		c.Calendar.Name = def.Calendar.Name
	}
	if c.Calendar.ShiftLabel == "" {
		c.Calendar.ShiftLabel = def.Calendar.ShiftLabel
	}
	if c.Schedule.Fetch == "" {
		c.Schedule.Fetch = def.Schedule.Fetch
	}
	if c.Schedule.Sync == "" {
		c.Schedule.Sync = def.Schedule.Sync
	}
	if c.Schedule.MonthsAhead < 0 {
		c.Schedule.MonthsAhead = 0
	}
}

// Validate validates the whole configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Timezone, validation.Required, validation.By(timezone)),
	); err != nil {
		return err
	}
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("site: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Calendar.Validate(); err != nil {
		return fmt.Errorf("calendar: %w", err)
	}
	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if c.BasicAuth != nil {
		if err := c.BasicAuth.Validate(); err != nil {
			return fmt.Errorf("basic_auth: %w", err)
		}
	}
	return nil
}

// Location loads the configured zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func timezone(value any) error {
	s, _ := value.(string)
	if _, err := time.LoadLocation(s); err != nil {
		return fmt.Errorf("unknown time zone %q", s)
	}
	return nil
}

func cronSpec(value any) error {
	s, _ := value.(string)
	if err := schedule.ValidateSpec(s); err != nil {
		return fmt.Errorf("invalid cron spec: %v", err)
	}
	return nil
}

// Load loads configuration from the given YAML path. ${VAR} references are
// expanded from the environment before parsing.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is parsed and normalized.
//
// Validation is left to the caller since some commands need only part of
// the configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".shiftcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
