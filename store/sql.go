package store

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/go-sql-driver/mysql"

	"github.com/luhtfiimanal/irrigo-bridge/frame"
)

const mysqlDDL = "CREATE TABLE IF NOT EXISTS `%s` (" +
	"id INT PRIMARY KEY AUTO_INCREMENT," +
	"vochtigheid INT NOT NULL," +
	"waterniveau INT NOT NULL," +
	"pomp_status INT NOT NULL," +
	"tijdstip TIMESTAMP DEFAULT CURRENT_TIMESTAMP," +
	"INDEX idx_tijdstip (tijdstip))"

const sqliteDDL = "CREATE TABLE IF NOT EXISTS `%s` (" +
	"id INTEGER PRIMARY KEY AUTOINCREMENT," +
	"vochtigheid INTEGER NOT NULL," +
	"waterniveau INTEGER NOT NULL," +
	"pomp_status INTEGER NOT NULL," +
	"tijdstip DATETIME DEFAULT CURRENT_TIMESTAMP);" +
	"CREATE INDEX IF NOT EXISTS `idx_%[1]s_tijdstip` ON `%[1]s`(tijdstip);"

// SQLStore writes readings into a relational table.
type SQLStore struct {
	db        *sql.DB
	driver    string
	insertSQL string
	closeOnce sync.Once
}

// OpenSQL opens a MySQL or SQLite store and checks that the target table
// accepts the three columns.
func OpenSQL(ctx context.Context, cfg Config) (*SQLStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Driver != DriverMySQL && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("%w %q for SQL store", ErrUnknownDriver, cfg.Driver)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, &UnavailableError{Backend: cfg.Driver, Err: err}
	}
	// One connection, one owner.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLStore{
		db:     db,
		driver: cfg.Driver,
		insertSQL: fmt.Sprintf("INSERT INTO `%s` (%s, %s, %s) VALUES (?, ?, ?)",
			cfg.Table, ColumnMoisture, ColumnWaterLevel, ColumnPumpStatus),
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &UnavailableError{Backend: cfg.Driver, Err: fmt.Errorf("connect: %w", err)}
	}
	if cfg.CreateTable {
		ddl := mysqlDDL
		if cfg.Driver == DriverSQLite {
			ddl = sqliteDDL
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(ddl, cfg.Table)); err != nil {
			db.Close()
			return nil, &UnavailableError{Backend: cfg.Driver, Err: fmt.Errorf("create table %s: %w", cfg.Table, err)}
		}
	}
	probe := fmt.Sprintf("SELECT %s, %s, %s FROM `%s` WHERE 1 = 0",
		ColumnMoisture, ColumnWaterLevel, ColumnPumpStatus, cfg.Table)
	rows, err := db.QueryContext(ctx, probe)
	if err != nil {
		db.Close()
		return nil, &UnavailableError{Backend: cfg.Driver, Err: fmt.Errorf("table %s: %w", cfg.Table, err)}
	}
	rows.Close()

	return s, nil
}

func openDB(cfg Config) (*sql.DB, error) {
	if cfg.Driver == DriverSQLite {
		return sql.Open(DriverSQLite, cfg.Database)
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.Timeout = cfg.Timeout
	mc.ReadTimeout = cfg.Timeout
	mc.WriteTimeout = cfg.Timeout
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

// Write inserts r in its own transaction.
func (s *SQLStore) Write(ctx context.Context, r frame.Reading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Kind: classifySQL(err), Err: fmt.Errorf("begin: %w", err)}
	}
	if _, err := tx.ExecContext(ctx, s.insertSQL, r.Moisture, r.WaterLevel, r.PumpStatus); err != nil {
		tx.Rollback()
		return &WriteError{Kind: classifySQL(err), Err: fmt.Errorf("insert: %w", err)}
	}
	if err := tx.Commit(); err != nil {
		return &WriteError{Kind: classifySQL(err), Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// IsAlive pings the server over the store's connection.
func (s *SQLStore) IsAlive(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Close closes the database handle. Safe to call multiple times.
func (s *SQLStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}
