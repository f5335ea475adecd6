// Package config loads node configuration from flags, environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. BNMS_LOG_LEVEL.
const EnvPrefix = "BNMS"

type Config struct {
	Name        string        `mapstructure:"name"`
	DataDir     string        `mapstructure:"data_dir"`
	KeyFile     string        `mapstructure:"key_file"`
	ListenAddrs []string      `mapstructure:"listen_addrs"`
	Peers       []string      `mapstructure:"peers"`
	Notary      NotaryConfig  `mapstructure:"notary"`
	Store       StoreConfig   `mapstructure:"store"`
	Log         LogConfig     `mapstructure:"log"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

type NotaryConfig struct {
	// Peer is the multiaddr of the notary, including its /p2p/ component.
	// The notary signs with its host key. Left empty when the node serves
	// the notary itself.
	Peer  string `mapstructure:"peer"`
	Serve bool   `mapstructure:"serve"`
}

type StoreConfig struct {
	InMemory bool `mapstructure:"in_memory"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	// Addr is the HTTP listen address of the metrics endpoint. Empty
	// disables it.
	Addr string `mapstructure:"addr"`
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bnms"
	}
	return filepath.Join(home, ".bnms")
}

// setDefaults registers every key so that environment variables are seen
// by Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "")
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("key_file", "node.key")
	v.SetDefault("listen_addrs", []string{"/ip4/0.0.0.0/tcp/7400"})
	v.SetDefault("peers", []string{})
	v.SetDefault("notary.peer", "")
	v.SetDefault("notary.serve", false)
	v.SetDefault("store.in_memory", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.addr", ":9400")
}

// BindFlags registers the start command's flags and binds them to v.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("name", "", "party name of this node")
	f.String("data-dir", "", "data directory (default ~/.bnms)")
	f.String("key-file", "", "private key file, relative to the data directory")
	f.StringSlice("listen", nil, "libp2p listen multiaddrs")
	f.StringSlice("peer", nil, "name=multiaddr of a known party")
	f.String("notary", "", "notary multiaddr")
	f.Bool("serve-notary", false, "run the notary service on this node")
	f.Bool("in-memory", false, "keep the vault in memory")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (console, json)")
	f.String("metrics-addr", "", "metrics HTTP listen address")

	_ = v.BindPFlag("name", f.Lookup("name"))
	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("key_file", f.Lookup("key-file"))
	_ = v.BindPFlag("listen_addrs", f.Lookup("listen"))
	_ = v.BindPFlag("peers", f.Lookup("peer"))
	_ = v.BindPFlag("notary.peer", f.Lookup("notary"))
	_ = v.BindPFlag("notary.serve", f.Lookup("serve-notary"))
	_ = v.BindPFlag("store.in_memory", f.Lookup("in-memory"))
	_ = v.BindPFlag("log.level", f.Lookup("log-level"))
	_ = v.BindPFlag("log.format", f.Lookup("log-format"))
	_ = v.BindPFlag("metrics.addr", f.Lookup("metrics-addr"))
}

// Load merges defaults, environment, the config file and bound flags. A
// missing config file is only an error if it was named explicitly.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("bnms")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("name must be set")
	}
	if c.Notary.Peer == "" && !c.Notary.Serve {
		return errors.New("either a notary peer or serve-notary must be configured")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	for _, p := range c.Peers {
		if _, _, ok := strings.Cut(p, "="); !ok {
			return fmt.Errorf("peer %q must have the form name=multiaddr", p)
		}
	}
	return nil
}

// KeyPath resolves the key file against the data directory.
func (c Config) KeyPath() string {
	if filepath.IsAbs(c.KeyFile) {
		return c.KeyFile
	}
	return filepath.Join(c.DataDir, c.KeyFile)
}

// Logger builds the node logger.
func (c Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if c.Log.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Str("node", c.Name).Logger()
}
