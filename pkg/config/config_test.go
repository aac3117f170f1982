package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raterudder/autarcostatus/pkg/remote"
	"github.com/raterudder/autarcostatus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 300*time.Second, cfg.PollInterval)
	assert.Equal(t, remote.DefaultAutarcoBaseURL, cfg.BaseURL)
	assert.Equal(t, RemoteAutarco, cfg.Remote)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
}

func TestLoad(t *testing.T) {
	empty := mapLookup(nil)

	t.Run("File Only", func(t *testing.T) {
		path := writeFile(t, "config.yaml", `
username: user@example.com
password: secret
site_id: abc123
poll_interval_seconds: 60
`)
		cfg, err := Load(Sources{ConfigFile: path, Lookup: empty})
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", cfg.Username)
		assert.Equal(t, "secret", cfg.Password)
		assert.Equal(t, "abc123", cfg.SiteID)
		assert.Equal(t, time.Minute, cfg.PollInterval)
		assert.Equal(t, remote.DefaultAutarcoBaseURL, cfg.BaseURL)
		assert.Equal(t, types.Credentials{Username: "user@example.com", Password: "secret"}, cfg.Credentials())
	})

	t.Run("Interval Defaults When Absent", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "username: u\npassword: p\nsite_id: s\n")
		cfg, err := Load(Sources{ConfigFile: path, Lookup: empty})
		require.NoError(t, err)
		assert.Equal(t, 300*time.Second, cfg.PollInterval)
	})

	t.Run("Env Overrides File", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "username: u\npassword: p\nsite_id: s\npoll_interval_seconds: 60\n")
		cfg, err := Load(Sources{
			ConfigFile: path,
			Lookup: mapLookup(map[string]string{
				EnvPassword:            "from-env",
				EnvPollIntervalSeconds: "120",
				EnvSiteID:              "",
			}),
		})
		require.NoError(t, err)
		assert.Equal(t, "u", cfg.Username)
		assert.Equal(t, "from-env", cfg.Password)
		assert.Equal(t, "s", cfg.SiteID, "empty env var is ignored")
		assert.Equal(t, 2*time.Minute, cfg.PollInterval)
	})

	t.Run("Flags Override Env", func(t *testing.T) {
		cfg, err := Load(Sources{
			Lookup: mapLookup(map[string]string{
				EnvUsername: "env-user",
				EnvPassword: "env-pass",
				EnvSiteID:   "env-site",
			}),
			Overrides: Overrides{
				Username:     "flag-user",
				PollInterval: 30 * time.Second,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "flag-user", cfg.Username)
		assert.Equal(t, "env-pass", cfg.Password)
		assert.Equal(t, "env-site", cfg.SiteID)
		assert.Equal(t, 30*time.Second, cfg.PollInterval)
	})

	t.Run("Dotenv File", func(t *testing.T) {
		envPath := writeFile(t, ".env", "AUTARCO_USERNAME=dot-user\nAUTARCO_PASSWORD=dot-pass\nAUTARCO_SITE_ID=dot-site\n")
		cfg, err := Load(Sources{
			EnvFile: envPath,
			Lookup:  mapLookup(map[string]string{EnvUsername: "real-env-user"}),
		})
		require.NoError(t, err)
		assert.Equal(t, "real-env-user", cfg.Username, "process env wins over dotenv")
		assert.Equal(t, "dot-pass", cfg.Password)
		assert.Equal(t, "dot-site", cfg.SiteID)
	})

	t.Run("Missing Dotenv File", func(t *testing.T) {
		_, err := Load(Sources{EnvFile: filepath.Join(t.TempDir(), "missing.env"), Lookup: empty})
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("Missing Config File", func(t *testing.T) {
		_, err := Load(Sources{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml"), Lookup: empty})
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("Malformed YAML", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "username: [unterminated\n")
		_, err := Load(Sources{ConfigFile: path, Lookup: empty})
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("Unknown Key", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "username: u\npasword: typo\n")
		_, err := Load(Sources{ConfigFile: path, Lookup: empty})
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("Bad Interval Type", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "poll_interval_seconds: soon\n")
		_, err := Load(Sources{ConfigFile: path, Lookup: empty})
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("Bad Env Interval", func(t *testing.T) {
		_, err := Load(Sources{Lookup: mapLookup(map[string]string{EnvPollIntervalSeconds: "5m"})})
		assert.ErrorIs(t, err, ErrInvalid)
		assert.ErrorContains(t, err, EnvPollIntervalSeconds)
	})

	t.Run("Interval Overflow", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "username: u\npassword: p\nsite_id: s\npoll_interval_seconds: 9300000000000\n")
		_, err := Load(Sources{ConfigFile: path, Lookup: empty})
		require.ErrorIs(t, err, ErrInvalid)
		assert.ErrorContains(t, err, "out of range")

		_, err = Load(Sources{Lookup: mapLookup(map[string]string{
			EnvUsername:            "u",
			EnvPassword:            "p",
			EnvSiteID:              "s",
			EnvPollIntervalSeconds: "9300000000000",
		})})
		require.ErrorIs(t, err, ErrInvalid)
		assert.ErrorContains(t, err, "out of range")
	})

	t.Run("Largest Interval", func(t *testing.T) {
		cfg, err := Load(Sources{Lookup: mapLookup(map[string]string{
			EnvUsername:            "u",
			EnvPassword:            "p",
			EnvSiteID:              "s",
			EnvPollIntervalSeconds: "9223372036",
		})})
		require.NoError(t, err)
		assert.Equal(t, 9223372036*time.Second, cfg.PollInterval)
	})

	t.Run("Missing Credentials", func(t *testing.T) {
		_, err := Load(Sources{Lookup: empty})
		require.ErrorIs(t, err, ErrInvalid)
		assert.ErrorContains(t, err, "username, password, site_id")
	})

	t.Run("Mock Needs No Credentials", func(t *testing.T) {
		cfg, err := Load(Sources{Lookup: empty, Overrides: Overrides{Remote: RemoteMock}})
		require.NoError(t, err)
		assert.Equal(t, RemoteMock, cfg.Remote)
	})

	t.Run("Empty File", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "")
		cfg, err := Load(Sources{ConfigFile: path, Lookup: empty, Overrides: Overrides{Remote: RemoteMock}})
		require.NoError(t, err)
		assert.Equal(t, 300*time.Second, cfg.PollInterval)
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Username = "u"
		cfg.Password = "p"
		cfg.SiteID = "s"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"Zero Interval", func(c *Config) { c.PollInterval = 0 }, "poll interval"},
		{"Negative Interval", func(c *Config) { c.PollInterval = -time.Second }, "poll interval"},
		{"Zero Timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"Unknown Remote", func(c *Config) { c.Remote = "ftp" }, "unknown remote"},
		{"Missing Site", func(c *Config) { c.SiteID = "" }, "missing site_id"},
		{"Relative Base URL", func(c *Config) { c.BaseURL = "my.autarco.com" }, "base url"},
		{"Bad Scheme", func(c *Config) { c.BaseURL = "ftp://my.autarco.com" }, "base url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLogValueHidesPassword(t *testing.T) {
	cfg := Default()
	cfg.Username = "user"
	cfg.Password = "hunter2"
	assert.False(t, strings.Contains(cfg.LogValue().String(), "hunter2"))
	assert.Contains(t, cfg.LogValue().String(), "user")
}
