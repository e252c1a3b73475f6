package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	carwings "github.com/opencarwings/carwings-go"
)

// settings is the effective configuration: flags over CARWINGS_* variables
// over the config file over built-in defaults.
type settings struct {
	Server  string
	Locale  string
	VIN     string
	Verbose bool
}

var (
	layered = viper.New()
	current settings
)

// bindSettings layers flags, environment and the config file into current.
func bindSettings(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return resolveSettings(layered, cmd, cfg, &current)
}

func resolveSettings(v *viper.Viper, cmd *cobra.Command, cfg *Config, out *settings) error {
	v.SetEnvPrefix("CARWINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server", carwings.DefaultBaseURL)
	v.SetDefault("locale", carwings.DefaultLocale)
	if cfg.Default.Server != "" {
		v.SetDefault("server", cfg.Default.Server)
	}
	if cfg.Default.Locale != "" {
		v.SetDefault("locale", cfg.Default.Locale)
	}
	v.SetDefault("vin", cfg.Default.VIN)

	for _, name := range []string{"server", "locale", "vin", "verbose"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(name, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	*out = settings{
		Server:  v.GetString("server"),
		Locale:  v.GetString("locale"),
		VIN:     v.GetString("vin"),
		Verbose: v.GetBool("verbose"),
	}
	return nil
}

// newLogger returns a development logger when verbose, otherwise a
// warn-level production logger on stderr.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
