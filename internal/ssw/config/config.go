// Package config loads ssw settings from defaults, an optional YAML file and
// SSW_ environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/OpenGG/session-switch/internal/ssw/detect"
	"github.com/OpenGG/session-switch/internal/ssw/host"
	"github.com/OpenGG/session-switch/internal/ssw/paths"
	"github.com/OpenGG/session-switch/internal/ssw/profile"
	"github.com/OpenGG/session-switch/internal/ssw/switcher"
)

// EnvPrefix is prepended to every environment variable, e.g. SSW_MAX_PROFILES.
const EnvPrefix = "SSW"

// Keys.
const (
	KeyHome             = "home"
	KeyMaxProfiles      = "max_profiles"
	KeyCooldownWindow   = "cooldown_window"
	KeyLogPollInterval  = "log_poll_interval"
	KeyProcessStopGrace = "process_stop_grace"
	KeyIOTimeout        = "io_timeout"
	KeyPointerPolicy    = "pointer_policy"
	KeyHostExecutable   = "host.executable"
	KeyHostCommand      = "host.command"
	KeyHostProcessName  = "host.process_name"
	KeyWatchMode        = "detector.watch_mode"
	KeyResyncOnShrink   = "detector.resync_on_shrink"
	KeyExtraPatterns    = "detector.extra_patterns"
	KeyLogFile          = "log_file"
	KeyLogMaxSizeMB     = "log_max_size_mb"
	KeyLogMaxBackups    = "log_max_backups"
	KeyVerbose          = "verbose"
)

// Config is the resolved configuration.
type Config struct {
	Home string
	// File is the config file that was read, or "" when none was found.
	File string

	MaxProfiles      int
	CooldownWindow   time.Duration
	LogPollInterval  time.Duration
	ProcessStopGrace time.Duration
	IOTimeout        time.Duration
	PointerPolicy    string

	Host     HostConfig
	Detector DetectorConfig

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	Verbose       bool
}

// HostConfig locates the managed application.
type HostConfig struct {
	Executable  string
	Command     string
	ProcessName string
}

// DetectorConfig tunes rate-limit detection.
type DetectorConfig struct {
	WatchMode      string
	ResyncOnShrink bool
	ExtraPatterns  []string
}

// LoadOptions carries command-line overrides. Zero values mean "not set".
type LoadOptions struct {
	ConfigFile string
	Home       string
	LogFile    string
	Verbose    bool
	// Fs is where the config file is read from. Defaults to the OS filesystem.
	Fs afero.Fs
}

// Load resolves the configuration.
//
// The home directory comes from the flag, then SSW_HOME, then the platform's
// config directory. Without an explicit file, home/config.yaml is read if it exists.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	if opts.Fs != nil {
		v.SetFs(opts.Fs)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if opts.Home != "" {
		v.Set(KeyHome, opts.Home)
	}
	home := v.GetString(KeyHome)
	if home == "" {
		dir, err := DefaultHome()
		if err != nil {
			return nil, err
		}
		home = dir
		v.SetDefault(KeyHome, home)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigFile(paths.New(home).ConfigPath())
		if err := v.ReadInConfig(); err != nil && !isMissing(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if opts.LogFile != "" {
		v.Set(KeyLogFile, opts.LogFile)
	}
	if opts.Verbose {
		v.Set(KeyVerbose, true)
	}

	cfg := &Config{
		Home:             v.GetString(KeyHome),
		File:             v.ConfigFileUsed(),
		MaxProfiles:      v.GetInt(KeyMaxProfiles),
		CooldownWindow:   v.GetDuration(KeyCooldownWindow),
		LogPollInterval:  v.GetDuration(KeyLogPollInterval),
		ProcessStopGrace: v.GetDuration(KeyProcessStopGrace),
		IOTimeout:        v.GetDuration(KeyIOTimeout),
		PointerPolicy:    v.GetString(KeyPointerPolicy),
		Host: HostConfig{
			Executable:  v.GetString(KeyHostExecutable),
			Command:     v.GetString(KeyHostCommand),
			ProcessName: v.GetString(KeyHostProcessName),
		},
		Detector: DetectorConfig{
			WatchMode:      v.GetString(KeyWatchMode),
			ResyncOnShrink: v.GetBool(KeyResyncOnShrink),
			ExtraPatterns:  v.GetStringSlice(KeyExtraPatterns),
		},
		LogFile:       v.GetString(KeyLogFile),
		LogMaxSizeMB:  v.GetInt(KeyLogMaxSizeMB),
		LogMaxBackups: v.GetInt(KeyLogMaxBackups),
		Verbose:       v.GetBool(KeyVerbose),
	}
	if !fileExists(v, opts) {
		cfg.File = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Home == "" {
		errs = append(errs, errors.New("home must not be empty"))
	}
	if c.MaxProfiles < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", KeyMaxProfiles, c.MaxProfiles))
	}
	for key, d := range map[string]time.Duration{
		KeyCooldownWindow:  c.CooldownWindow,
		KeyLogPollInterval: c.LogPollInterval,
		KeyIOTimeout:       c.IOTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	if c.ProcessStopGrace < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyProcessStopGrace))
	}
	return errors.Join(errs...)
}

// DefaultHome returns the application's data directory for this platform.
func DefaultHome() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine application data directory, set %s_HOME: %w", EnvPrefix, err)
	}
	return filepath.Join(dir, paths.DefaultAppDirectory), nil
}

func setDefaults(v *viper.Viper) {
	hostDefaults := host.DefaultOptions()

	v.SetDefault(KeyHome, "")
	v.SetDefault(KeyMaxProfiles, profile.DefaultMaxProfiles)
	v.SetDefault(KeyCooldownWindow, detect.DefaultCooldown)
	v.SetDefault(KeyLogPollInterval, detect.DefaultPollInterval)
	v.SetDefault(KeyProcessStopGrace, switcher.DefaultStopGrace)
	v.SetDefault(KeyIOTimeout, 2*time.Minute)
	v.SetDefault(KeyPointerPolicy, string(switcher.PointerOptimistic))
	v.SetDefault(KeyHostExecutable, hostDefaults.Executable)
	v.SetDefault(KeyHostCommand, hostDefaults.Command)
	v.SetDefault(KeyHostProcessName, hostDefaults.ProcessName)
	v.SetDefault(KeyWatchMode, string(detect.WatchPoll))
	v.SetDefault(KeyResyncOnShrink, false)
	v.SetDefault(KeyExtraPatterns, []string{})
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyVerbose, false)
}

func isMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

// fileExists reports whether ConfigFileUsed points at a file that was actually read.
func fileExists(v *viper.Viper, opts LoadOptions) bool {
	if opts.ConfigFile != "" {
		return true
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	ok, err := afero.Exists(fs, v.ConfigFileUsed())
	return err == nil && ok
}
