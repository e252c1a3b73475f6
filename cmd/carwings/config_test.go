package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	carwings "github.com/opencarwings/carwings-go"
)

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, setConfigValue(cfg, "default.server", "https://cw.example"))
	require.NoError(t, setConfigValue(cfg, "default.locale", "fi-FI"))
	require.NoError(t, setConfigValue(cfg, "default.vin", "V1"))
	require.NoError(t, setConfigValue(cfg, "auth.username", "me"))
	assert.Equal(t, ConfigDefault{Server: "https://cw.example", Locale: "fi-FI", VIN: "V1"}, cfg.Default)
	assert.Equal(t, "me", cfg.Auth.Username)

	for _, key := range []string{"server", "default.nope", "auth.nope", "other.server"} {
		assert.Error(t, setConfigValue(cfg, key, "x"), key)
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := readConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{}, *cfg)

	cfg.Default.Server = "https://cw.example"
	cfg.Auth.AccessToken = "a1"
	require.NoError(t, writeConfig(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[default]")
	assert.Contains(t, string(data), "server = 'https://cw.example'")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	back, err := readConfig(path)
	require.NoError(t, err)
	assert.Equal(t, *cfg, *back)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, writeConfig(path, &Config{Default: ConfigDefault{VIN: "V1"}}))

	s, err := openFileStore(path)
	require.NoError(t, err)
	assert.True(t, s.Credential().Empty())

	require.NoError(t, s.SetCredential(carwings.Credential{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, s.SetAccessToken("a2"))

	// A second process sees the write.
	other, err := openFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, carwings.Credential{AccessToken: "a2", RefreshToken: "r1"}, other.Credential())
	assert.Equal(t, "V1", other.Config().Default.VIN)

	require.NoError(t, s.Clear())
	reread, err := readConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ConfigAuth{}, reread.Auth)
	assert.Equal(t, "V1", reread.Default.VIN)
}

func TestFileStoreClearWriteFailure(t *testing.T) {
	// A directory cannot be written as a file.
	s := &fileStore{path: t.TempDir(), cfg: &Config{
		Default: ConfigDefault{VIN: "V1"},
		Auth:    ConfigAuth{Username: "me", AccessToken: "a1", RefreshToken: "r1"},
	}}

	require.Error(t, s.SetAccessToken("a2"))
	assert.Equal(t, "a1", s.Credential().AccessToken)

	require.Error(t, s.Clear())
	assert.True(t, s.Credential().Empty())
	assert.Equal(t, "V1", s.Config().Default.VIN)
}

func TestResolveSettings(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "x"}
		cmd.Flags().String("server", "", "")
		cmd.Flags().String("locale", "", "")
		cmd.Flags().String("vin", "", "")
		cmd.Flags().Bool("verbose", false, "")
		return cmd
	}
	cfg := &Config{Default: ConfigDefault{Server: "https://file.example", Locale: "fi-FI", VIN: "FILEVIN"}}

	t.Run("config file over defaults", func(t *testing.T) {
		var s settings
		require.NoError(t, resolveSettings(viper.New(), newCmd(), cfg, &s))
		assert.Equal(t, "https://file.example", s.Server)
		assert.Equal(t, "fi-FI", s.Locale)
		assert.Equal(t, "FILEVIN", s.VIN)
		assert.False(t, s.Verbose)
	})

	t.Run("defaults", func(t *testing.T) {
		var s settings
		require.NoError(t, resolveSettings(viper.New(), newCmd(), &Config{}, &s))
		assert.Equal(t, carwings.DefaultBaseURL, s.Server)
		assert.Equal(t, carwings.DefaultLocale, s.Locale)
	})

	t.Run("env over config file", func(t *testing.T) {
		t.Setenv("CARWINGS_VIN", "ENVVIN")
		t.Setenv("CARWINGS_VERBOSE", "true")
		var s settings
		require.NoError(t, resolveSettings(viper.New(), newCmd(), cfg, &s))
		assert.Equal(t, "ENVVIN", s.VIN)
		assert.True(t, s.Verbose)
	})

	t.Run("flag over env", func(t *testing.T) {
		t.Setenv("CARWINGS_SERVER", "https://env.example")
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("server", "https://flag.example"))
		var s settings
		require.NoError(t, resolveSettings(viper.New(), cmd, cfg, &s))
		assert.Equal(t, "https://flag.example", s.Server)
	})
}

func TestBuildTimer(t *testing.T) {
	helsinki := time.FixedZone("EET", 2*60*60)

	tm, err := buildTimer("07:30", carwings.CommandClimateOn, "mon,fri", helsinki)
	require.NoError(t, err)
	assert.Equal(t, "05:30", tm.Time)
	assert.Equal(t, carwings.TimerWeekly, tm.TimerType)
	assert.Equal(t, carwings.CommandClimateOn, tm.CommandType)
	assert.True(t, tm.WeekdayMon)
	assert.True(t, tm.WeekdayFri)
	assert.False(t, tm.WeekdaySun)

	tm, err = buildTimer("1:05", carwings.CommandCharge, "sun", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "01:05", tm.Time)

	for _, tc := range []struct{ at, days string }{
		{"25:00", "mon"},
		{"0730", "mon"},
		{"07:30", "someday"},
		{"07:30", ""},
	} {
		_, err := buildTimer(tc.at, carwings.CommandCharge, tc.days, time.UTC)
		assert.Error(t, err, "%s %s", tc.at, tc.days)
	}
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "***", maskToken("short"))
	assert.Equal(t, "eyJhbG...Qssw5c", maskToken("eyJhbGciOiJIUzI1NiJ9.payload.SflKxwRJSMeKKF2QT4fwpMeJf36POk6yJV_adQssw5c"))
}

func TestPrintSink(t *testing.T) {
	var out, errOut bytes.Buffer
	stopped := false
	p := &printSink{out: &out, errOut: &errOut, logger: zaptest.NewLogger(t), done: func() { stopped = true }}

	soc := 80.0
	p.Event(carwings.Connected{Silent: true})
	p.Event(carwings.Reconnecting{})
	p.Event(carwings.Connected{Silent: false})
	p.Event(carwings.VehicleUpdated{Car: carwings.Car{VIN: "V1", EVInfo: carwings.EVInfo{SOC: &soc, Charging: true}}})
	p.Event(carwings.AlertReceived{Alert: carwings.Alert{TypeDisplay: "Charge finished"}})
	p.Event(carwings.ClientError{Message: "decode frame: bad"})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Connection lost, reconnecting...", lines[0])
	assert.Equal(t, "Connected.", lines[1])
	assert.Contains(t, lines[2], "V1  80.0%")
	assert.Contains(t, lines[2], "charging")
	assert.Equal(t, "alert: Charge finished", lines[3])
	assert.Contains(t, errOut.String(), "decode frame: bad")
	assert.False(t, stopped)

	p.Failure(&carwings.Failure{Message: "Server error 500", Status: 500})
	assert.False(t, stopped)
	p.ForcedLogout()
	assert.True(t, stopped)
	assert.ErrorIs(t, p.err(), carwings.ErrForcedLogout)
}

func TestPrintSinkJSON(t *testing.T) {
	var out bytes.Buffer
	p := &printSink{out: &out, errOut: &bytes.Buffer{}, json: true, logger: zaptest.NewLogger(t)}

	p.Event(carwings.AlertReceived{Alert: carwings.Alert{ID: 4}})
	p.Snapshot(carwings.Snapshot{Car: carwings.Car{VIN: "V1"}})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"kind":"alert"`)
	assert.Contains(t, lines[0], `"id":4`)
	assert.Contains(t, lines[1], `"kind":"snapshot"`)
}
