package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikaelmello/ringo/core"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parse parses args as the root command flags without running anything
func parse(t *testing.T, args ...string) (*core.Settings, error) {
	t.Helper()

	opts := &options{}
	flags := pflag.NewFlagSet("ringo", pflag.ContinueOnError)
	opts.bind(flags)
	require.NoError(t, flags.Parse(args))

	return opts.settings(flags)
}

func TestSettingsDefaults(t *testing.T) {
	settings, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultSettings(), settings)
}

func TestSettingsFlags(t *testing.T) {
	settings, err := parse(t, "-c", "10", "-s", "100", "-w", "250", "--ttl", "32",
		"-i", "0.2", "-d", "5", "-6", "-v")
	require.NoError(t, err)

	assert.Equal(t, 10, settings.Count)
	assert.Equal(t, 100, settings.Size)
	assert.Equal(t, 250*time.Millisecond, settings.Timeout)
	assert.Equal(t, 32, settings.TTL)
	assert.Equal(t, 200*time.Millisecond, settings.Interval)
	assert.Equal(t, 5*time.Second, settings.Deadline)
	assert.Equal(t, core.FamilyIPv6, settings.Family)
	assert.Equal(t, log.DebugLevel, settings.LoggingLevel)
}

func TestSettingsFlood(t *testing.T) {
	settings, err := parse(t, "-f", "-t")
	require.NoError(t, err)

	assert.Zero(t, settings.Interval)
	assert.True(t, settings.Continuous)
}

func TestSettingsBothFamilies(t *testing.T) {
	_, err := parse(t, "-4", "-6")
	assert.ErrorIs(t, err, errUsage)
}

func TestSettingsLogLevel(t *testing.T) {
	settings, err := parse(t, "--log-level", "info")
	require.NoError(t, err)
	assert.Equal(t, log.InfoLevel, settings.LoggingLevel)

	_, err = parse(t, "--log-level", "loud")
	assert.ErrorIs(t, err, errUsage)
}

// TestSettingsConfigFile verifies flags override only the values they set
func TestSettingsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("count: 7\nsize: 32\ntimeout: 2s\nfamily: ipv4\n"), 0o600))

	settings, err := parse(t, "--config", path, "-s", "64")
	require.NoError(t, err)

	assert.Equal(t, 7, settings.Count)
	assert.Equal(t, 64, settings.Size)
	assert.Equal(t, 2*time.Second, settings.Timeout)
	assert.Equal(t, core.FamilyIPv4, settings.Family)
}

func TestSettingsMissingConfigFile(t *testing.T) {
	_, err := parse(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestRootCommandInvalidSize runs the whole command with settings that fail validation
func TestRootCommandInvalidSize(t *testing.T) {
	code := exitOK
	cmd := newRootCmd(&code, &bytes.Buffer{})
	cmd.SetArgs([]string{"-s", "70000", "127.0.0.1"})

	err := cmd.Execute()
	assert.ErrorIs(t, err, core.ErrInvalidSettings)
	assert.Equal(t, exitFatal, code)
}

func TestRootCommandArgs(t *testing.T) {
	code := exitOK
	cmd := newRootCmd(&code, &bytes.Buffer{})
	cmd.SetArgs([]string{})

	assert.Error(t, cmd.Execute())
}

// TestRootCommandSingleDashTTL verifies the -ttl spelling gets a hint towards --ttl
func TestRootCommandSingleDashTTL(t *testing.T) {
	code := exitOK
	cmd := newRootCmd(&code, &bytes.Buffer{})
	cmd.SetArgs([]string{"-ttl", "5", "127.0.0.1"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, err.Error(), "use --ttl")
}

func TestRootCommandUnknownFlag(t *testing.T) {
	code := exitOK
	cmd := newRootCmd(&code, &bytes.Buffer{})
	cmd.SetArgs([]string{"--bogus", "127.0.0.1"})

	err := cmd.Execute()
	assert.ErrorIs(t, err, errUsage)
	assert.NotContains(t, err.Error(), "--ttl")
}
