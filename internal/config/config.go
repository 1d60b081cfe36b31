package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luhtfiimanal/irrigo-bridge/serial"
	"github.com/luhtfiimanal/irrigo-bridge/store"
)

// Config holds all configuration for the bridge.
type Config struct {
	Serial struct {
		Device      string        `mapstructure:"device"`
		Baud        int           `mapstructure:"baud"`
		Delimiter   string        `mapstructure:"delimiter"`
		PollTimeout time.Duration `mapstructure:"poll_timeout"`
	} `mapstructure:"serial"`

	Store struct {
		Driver      string        `mapstructure:"driver"`
		Host        string        `mapstructure:"host"`
		Port        int           `mapstructure:"port"`
		User        string        `mapstructure:"user"`
		Password    string        `mapstructure:"password"`
		Database    string        `mapstructure:"database"`
		Table       string        `mapstructure:"table"`
		CreateTable bool          `mapstructure:"create_table"`
		Timeout     time.Duration `mapstructure:"timeout"`
		URL         string        `mapstructure:"url"`
		Token       string        `mapstructure:"token"`
		Org         string        `mapstructure:"org"`
	} `mapstructure:"store"`

	Supervisor struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
		RetryDelay   time.Duration `mapstructure:"retry_delay"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"supervisor"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"device":         "serial.device",
	"baud":           "serial.baud",
	"store-driver":   "store.driver",
	"store-host":     "store.host",
	"store-port":     "store.port",
	"store-user":     "store.user",
	"store-password": "store.password",
	"store-database": "store.database",
	"store-table":    "store.table",
	"create-table":   "store.create_table",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"metrics-addr":   "metrics.addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", serial.AutoDevice)
	v.SetDefault("serial.baud", 9600)
	v.SetDefault("serial.delimiter", "\n")
	v.SetDefault("serial.poll_timeout", 100*time.Millisecond)

	v.SetDefault("store.driver", store.DriverMySQL)
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 3306)
	v.SetDefault("store.user", "root")
	v.SetDefault("store.password", "")
	v.SetDefault("store.database", "irrigo_db")
	v.SetDefault("store.table", "metingen")
	v.SetDefault("store.create_table", false)
	v.SetDefault("store.timeout", 5*time.Second)
	v.SetDefault("store.url", "")
	v.SetDefault("store.token", "")
	v.SetDefault("store.org", "")

	v.SetDefault("supervisor.poll_interval", 100*time.Millisecond)
	v.SetDefault("supervisor.retry_delay", 2*time.Second)
	v.SetDefault("supervisor.write_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.addr", ":9100")
}

// Load reads defaults, then the YAML file named by --config (a missing file is
// fine), then IRRIGO_* environment variables, then flags.
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("irrigo-bridge", pflag.ContinueOnError)
	flags.String("config", "irrigo-bridge.yaml", "Path to config file")
	flags.String("device", serial.AutoDevice, "Serial device path, or 'auto' to detect")
	flags.Int("baud", 9600, "Serial baud rate")
	flags.String("store-driver", store.DriverMySQL, "Store driver (mysql, sqlite3, influxdb)")
	flags.String("store-host", "localhost", "Store host")
	flags.Int("store-port", 3306, "Store port")
	flags.String("store-user", "root", "Store user")
	flags.String("store-password", "", "Store password")
	flags.String("store-database", "irrigo_db", "Database name, SQLite file or InfluxDB bucket")
	flags.String("store-table", "metingen", "Table or measurement name")
	flags.Bool("create-table", false, "Create the table if it does not exist")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console, json)")
	flags.String("metrics-addr", ":9100", "Listen address for /metrics and /healthz; empty disables")
	// pflag.ErrHelp is returned as is so callers can exit cleanly on --help.
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	configFile, _ := flags.GetString("config")
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		// It's okay if the config file doesn't exist, we can rely on flags/env.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix("IRRIGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Only flags given on the command line override file and environment.
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Validate rejects configuration the bridge can never run with.
func (c *Config) Validate() error {
	if !serial.SupportedBaud(c.Serial.Baud) {
		return fmt.Errorf("serial: unsupported baud rate %d", c.Serial.Baud)
	}
	if c.Serial.Device == "" {
		return errors.New("serial: device is required")
	}
	for name, d := range map[string]time.Duration{
		"serial.poll_timeout":      c.Serial.PollTimeout,
		"supervisor.poll_interval": c.Supervisor.PollInterval,
		"supervisor.retry_delay":   c.Supervisor.RetryDelay,
		"supervisor.write_timeout": c.Supervisor.WriteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	return c.StoreConfig().Validate()
}

// SerialConfig converts to the serial package's Config.
func (c *Config) SerialConfig() serial.Config {
	return serial.Config{
		Device:    c.Serial.Device,
		BaudRate:  c.Serial.Baud,
		Delimiter: c.Serial.Delimiter,
	}
}

// StoreConfig converts to the store package's Config.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:      c.Store.Driver,
		Host:        c.Store.Host,
		Port:        c.Store.Port,
		User:        c.Store.User,
		Password:    c.Store.Password,
		Database:    c.Store.Database,
		Table:       c.Store.Table,
		CreateTable: c.Store.CreateTable,
		Timeout:     c.Store.Timeout,
		URL:         c.Store.URL,
		Token:       c.Store.Token,
		Org:         c.Store.Org,
	}
}
