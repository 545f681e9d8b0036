// Package config resolves sigtool settings from flags, SIGTOOL_* environment
// variables, an optional YAML file and built-in defaults, in that order of
// precedence.
//
// Example config.yaml:
//
//	keystore: ~/keys/work
//	lock_timeout: 10s
//	log_level: info
//	log_format: json
package config

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"sigtool.dev/sigtool/keys"
	"sigtool.dev/sigtool/sigerr"
)

const (
	EnvPrefix       = "SIGTOOL"
	DefaultFileName = "config.yaml"

	keyKeystore    = "keystore"
	keyLockTimeout = "lock_timeout"
	keyLogLevel    = "log_level"
	keyLogFormat   = "log_format"

	FlagConfig      = "config"
	FlagKeystore    = "keystore"
	FlagLockTimeout = "lock-timeout"
	FlagLogLevel    = "log-level"
	FlagLogFormat   = "log-format"
)

type Config struct {
	Keystore    string        `mapstructure:"keystore"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
}

// AddFlags registers the global flags Load understands.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(FlagConfig, "", "config file (default <keystore>/"+DefaultFileName+" if present)")
	fs.String(FlagKeystore, "", "key store directory (default ~/.sig-tool)")
	fs.Duration(FlagLockTimeout, 0, "how long keygen waits for the key store lock (default 5s)")
	fs.String(FlagLogLevel, "", "log level: trace, debug, info, warn, error (default warn)")
	fs.String(FlagLogFormat, "", "log format: console or json (default console)")
}

// Load resolves the configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault(keyKeystore, "")
	v.SetDefault(keyLockTimeout, keys.DefaultLockTimeout)
	v.SetDefault(keyLogLevel, zerolog.WarnLevel.String())
	v.SetDefault(keyLogFormat, "console")

	var explicitFile string
	if flags != nil {
		for key, name := range map[string]string{
			keyKeystore:    FlagKeystore,
			keyLockTimeout: FlagLockTimeout,
			keyLogLevel:    FlagLogLevel,
			keyLogFormat:   FlagLogFormat,
		} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, sigerr.Wrap(sigerr.KindUsage, err, "bind flag --%s", name)
				}
			}
		}
		if f := flags.Lookup(FlagConfig); f != nil {
			explicitFile = f.Value.String()
		}
	}
	if explicitFile == "" {
		explicitFile = os.Getenv(EnvPrefix + "_CONFIG")
	}

	file := explicitFile
	if file == "" {
		dir, err := keystoreDir(v.GetString(keyKeystore))
		if err != nil {
			return Config{}, err
		}
		file = filepath.Join(dir, DefaultFileName)
	}
	file, err := expandHome(file)
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if explicitFile != "" || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, sigerr.Wrap(sigerr.KindUsage, err, "read config %s", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, sigerr.Wrap(sigerr.KindUsage, err, "decode config")
	}
	if cfg.Keystore, err = keystoreDir(cfg.Keystore); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Keystore == "" {
		return sigerr.New(sigerr.KindUsage, "config: keystore directory is required")
	}
	if c.LockTimeout <= 0 {
		return sigerr.New(sigerr.KindUsage, "config: lock_timeout must be positive, got %s", c.LockTimeout)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil || c.LogLevel == "" {
		return sigerr.New(sigerr.KindUsage, "config: invalid log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
		return nil
	default:
		return sigerr.New(sigerr.KindUsage, "config: invalid log_format %q", c.LogFormat)
	}
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		level = zerolog.WarnLevel
	}
	if c.LogFormat != "json" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func keystoreDir(dir string) (string, error) {
	if dir == "" {
		return keys.DefaultDirectory()
	}
	return expandHome(dir)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", sigerr.Wrap(sigerr.KindUsage, err, "expand %s", path)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
