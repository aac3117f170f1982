package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/autarcostatus/pkg/poller"
	"github.com/raterudder/autarcostatus/pkg/remote"
	"github.com/raterudder/autarcostatus/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	RemoteAutarco = "autarco"
	RemoteMock    = "mock"

	// DefaultTimeout bounds every request to the remote, including the login.
	DefaultTimeout = 30 * time.Second
)

// ErrInvalid is wrapped by every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved configuration of the poller.
type Config struct {
	Username     string
	Password     string
	SiteID       string
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
	Remote       string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		BaseURL:      remote.DefaultAutarcoBaseURL,
		PollInterval: poller.DefaultInterval,
		Timeout:      DefaultTimeout,
		Remote:       RemoteAutarco,
	}
}

// Credentials returns the account credentials.
func (c Config) Credentials() types.Credentials {
	return types.Credentials{Username: c.Username, Password: c.Password}
}

// LogValue hides the password.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("siteID", c.SiteID),
		slog.String("baseURL", c.BaseURL),
		slog.Duration("pollInterval", c.PollInterval),
		slog.Duration("timeout", c.Timeout),
		slog.String("remote", c.Remote),
	)
}

// Validate checks that the configuration can be used to start polling.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalid, c.PollInterval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalid, c.Timeout)
	}

	switch c.Remote {
	case RemoteMock:
		return nil
	case RemoteAutarco:
	default:
		return fmt.Errorf("%w: unknown remote %q (available: %s, %s)", ErrInvalid, c.Remote, RemoteAutarco, RemoteMock)
	}

	var missing []string
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if c.SiteID == "" {
		missing = append(missing, "site_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: base url: %w", ErrInvalid, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base url must be an absolute http(s) url, got %q", ErrInvalid, c.BaseURL)
	}
	return nil
}

// file is the YAML representation. Absent keys leave the current value alone.
type file struct {
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	SiteID              string `yaml:"site_id"`
	PollIntervalSeconds *int   `yaml:"poll_interval_seconds"`
	BaseURL             string `yaml:"base_url"`
}

// LoadFile merges the YAML file at path into c. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: failed to open config file: %w", ErrInvalid, err)
	}
	defer f.Close()
	return c.loadYAML(f)
}

func (c *Config) loadYAML(r io.Reader) error {
	var raw file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// empty file
			return nil
		}
		return fmt.Errorf("%w: failed to parse config file: %w", ErrInvalid, err)
	}

	setString(&c.Username, raw.Username)
	setString(&c.Password, raw.Password)
	setString(&c.SiteID, raw.SiteID)
	setString(&c.BaseURL, raw.BaseURL)
	if raw.PollIntervalSeconds != nil {
		d, err := secondsToDuration(*raw.PollIntervalSeconds)
		if err != nil {
			return fmt.Errorf("%w: poll_interval_seconds: %w", ErrInvalid, err)
		}
		c.PollInterval = d
	}
	return nil
}

// maxIntervalSeconds is the largest number of seconds a time.Duration holds.
const maxIntervalSeconds = math.MaxInt64 / int64(time.Second)

func secondsToDuration(secs int) (time.Duration, error) {
	if int64(secs) > maxIntervalSeconds || int64(secs) < -maxIntervalSeconds {
		return 0, fmt.Errorf("%d seconds is out of range", secs)
	}
	return time.Duration(secs) * time.Second, nil
}

// Environment variables read by LoadEnv.
const (
	EnvUsername            = "AUTARCO_USERNAME"
	EnvPassword            = "AUTARCO_PASSWORD"
	EnvSiteID              = "AUTARCO_SITE_ID"
	EnvPollIntervalSeconds = "AUTARCO_POLL_INTERVAL_SECONDS"
	EnvBaseURL             = "AUTARCO_BASE_URL"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// WithDotenv returns a LookupFunc that falls back to the variables in the
// dotenv file at path. Variables already set in lookup take precedence.
func WithDotenv(lookup LookupFunc, path string) (LookupFunc, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read env file: %w", ErrInvalid, err)
	}
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

// LoadEnv merges the AUTARCO_* variables into c. Empty variables are ignored.
func (c *Config) LoadEnv(lookup LookupFunc) error {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	setString(&c.Username, get(EnvUsername))
	setString(&c.Password, get(EnvPassword))
	setString(&c.SiteID, get(EnvSiteID))
	setString(&c.BaseURL, get(EnvBaseURL))
	if v := get(EnvPollIntervalSeconds); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, EnvPollIntervalSeconds, err)
		}
		d, err := secondsToDuration(secs)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, EnvPollIntervalSeconds, err)
		}
		c.PollInterval = d
	}
	return nil
}

// Overrides holds values set on the command line. Zero values are ignored.
type Overrides struct {
	Username     string
	Password     string
	SiteID       string
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
	Remote       string
}

// Apply merges the non-zero overrides into c.
func (c *Config) Apply(o Overrides) {
	setString(&c.Username, o.Username)
	setString(&c.Password, o.Password)
	setString(&c.SiteID, o.SiteID)
	setString(&c.BaseURL, o.BaseURL)
	setString(&c.Remote, o.Remote)
	if o.PollInterval != 0 {
		c.PollInterval = o.PollInterval
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
}

// Sources lists where the configuration is read from, lowest precedence
// first.
type Sources struct {
	ConfigFile string
	EnvFile    string
	Lookup     LookupFunc
	Overrides  Overrides
}

// Load builds a validated Config from the defaults, the config file, the
// environment and the overrides, in that order.
func Load(src Sources) (Config, error) {
	cfg := Default()

	if src.ConfigFile != "" {
		if err := cfg.LoadFile(src.ConfigFile); err != nil {
			return Config{}, err
		}
	}

	lookup := src.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if src.EnvFile != "" {
		var err error
		lookup, err = WithDotenv(lookup, src.EnvFile)
		if err != nil {
			return Config{}, err
		}
	}
	if err := cfg.LoadEnv(lookup); err != nil {
		return Config{}, err
	}

	cfg.Apply(src.Overrides)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Configured registers the configuration flags. The returned Config is
// filled in once lflag.Configure has run. A configuration error exits the
// process.
func Configured() *Config {
	cfg := new(Config)

	configFile := lflag.String("config-file", "", "Path to a YAML config file")
	envFile := lflag.String("env-file", "", "Path to a dotenv file with AUTARCO_* variables")
	username := lflag.String("autarco-username", "", "Autarco account username (overrides "+EnvUsername+")")
	password := lflag.String("autarco-password", "", "Autarco account password (overrides "+EnvPassword+")")
	siteID := lflag.String("autarco-site-id", "", "Autarco site id (overrides "+EnvSiteID+")")
	baseURL := lflag.String("autarco-base-url", "", "Base URL of the Autarco API (overrides "+EnvBaseURL+")")
	timeout := lflag.Duration("autarco-timeout", DefaultTimeout, "Timeout for each request to the Autarco API")
	interval := lflag.Duration("poll-interval", 0, "How often to fetch the status (default 300s)")
	remoteName := lflag.String("remote", RemoteAutarco, "Remote to poll (available: autarco, mock)")

	lflag.Do(func() {
		loaded, err := Load(Sources{
			ConfigFile: *configFile,
			EnvFile:    *envFile,
			Overrides: Overrides{
				Username:     *username,
				Password:     *password,
				SiteID:       *siteID,
				BaseURL:      *baseURL,
				PollInterval: *interval,
				Timeout:      *timeout,
				Remote:       *remoteName,
			},
		})
		if err != nil {
			slog.Error("failed to load configuration", slog.Any("error", err))
			os.Exit(1)
		}
		*cfg = loaded
	})

	return cfg
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
