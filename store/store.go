// Package store persists Readings, one atomic write per reading.
//
// Three backends share the Store contract: MySQL (the layout existing
// dashboards read), SQLite for single-board setups, and InfluxDB. Column and
// field names are vochtigheid, waterniveau and pomp_status in every backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/luhtfiimanal/irrigo-bridge/frame"
)

// Persisted field names. Existing consumers of the store query these.
const (
	ColumnMoisture   = "vochtigheid"
	ColumnWaterLevel = "waterniveau"
	ColumnPumpStatus = "pomp_status"
)

// Supported drivers.
const (
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
	DriverInfluxDB = "influxdb"
)

// ErrUnknownDriver is a configuration error; retrying cannot fix it.
var ErrUnknownDriver = errors.New("unknown store driver")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is an open connection to the durable sink. It has a single owner.
type Store interface {
	// Write commits r as one unit or fails with *WriteError.
	Write(ctx context.Context, r frame.Reading) error
	// IsAlive is a cheap liveness probe.
	IsAlive(ctx context.Context) bool
	// Close releases the connection. It is idempotent.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	// Database is the schema name for MySQL, the file path for SQLite and the
	// bucket for InfluxDB.
	Database string
	// Table is the table, or the measurement for InfluxDB.
	Table       string
	CreateTable bool
	Timeout     time.Duration

	// InfluxDB only.
	URL   string
	Token string
	Org   string
}

// Validate reports configuration that no amount of retrying would fix.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMySQL:
		if c.Host == "" {
			return errors.New("store: host is required")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("store: invalid port %d", c.Port)
		}
	case DriverSQLite:
	case DriverInfluxDB:
		if c.URL == "" || c.Org == "" {
			return errors.New("store: influxdb needs url and org")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownDriver, c.Driver)
	}
	if c.Database == "" {
		return errors.New("store: database is required")
	}
	if !identRe.MatchString(c.Table) {
		return fmt.Errorf("store: invalid table name %q", c.Table)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("store: timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// Open connects to the configured backend. Configuration mistakes are returned
// as-is; anything else that keeps the store from accepting writes (auth,
// unreachable host, missing table or bucket) is *UnavailableError.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case DriverInfluxDB:
		return OpenInflux(ctx, cfg)
	default:
		return OpenSQL(ctx, cfg)
	}
}
