package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/satwork/satwork/build"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultFull()
	require.NotEmpty(t, cfg.Relays.URLs)
	require.Equal(t, build.BulkQueryTimeout, time.Duration(cfg.Load.BulkQueryTimeout))
	require.Equal(t, build.LoadRetryAttempts, cfg.Load.RetryAttempts)
}

func TestFromReader(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`
[Relays]
URLs = ["wss://relay.one", "wss://relay.two"]

[System]
SignerPubKey = "aabbcc"

[Load]
BulkQueryTimeout = "10s"
RetryAttempts = 7
RetryMin = "250ms"
RetryMax = "30s"

[Journal]
Path = "/var/lib/satwork"
DisabledEvents = "workflow:applied"
`))
	require.NoError(t, err)
	require.Equal(t, []string{"wss://relay.one", "wss://relay.two"}, cfg.Relays.URLs)
	require.Equal(t, "aabbcc", cfg.System.SignerPubKey)
	require.Equal(t, 10*time.Second, time.Duration(cfg.Load.BulkQueryTimeout))
	require.Equal(t, 7, cfg.Load.RetryAttempts)
	require.Equal(t, 250*time.Millisecond, time.Duration(cfg.Load.RetryMin))
	require.Equal(t, 30*time.Second, time.Duration(cfg.Load.RetryMax))
	require.Equal(t, "/var/lib/satwork", cfg.Journal.Path)

	// unset sections keep their defaults
	require.Equal(t, DefaultFull().Payments.WebhookListenAddress, cfg.Payments.WebhookListenAddress)
}

func TestFromReaderRejectsUnknownKeys(t *testing.T) {
	_, err := FromReader(strings.NewReader(`
[Relays]
URLs = []
Typo = true
`))
	require.ErrorContains(t, err, "unknown config key")
}

func TestFromReaderRejectsBadDuration(t *testing.T) {
	_, err := FromReader(strings.NewReader(`
[Load]
BulkQueryTimeout = "not a duration"
`))
	require.Error(t, err)
}

func TestFromFileMissingYieldsDefaults(t *testing.T) {
	cfg, err := FromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultFull(), cfg)
}

func TestWriteFileRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "satwork.toml")

	want := DefaultFull()
	want.System.SignerPubKey = "ddeeff"
	want.Load.BulkQueryTimeout = Duration(3 * time.Second)
	require.NoError(t, WriteFile(path, want))

	got, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
