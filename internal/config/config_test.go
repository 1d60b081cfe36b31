package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/irrigo-bridge/store"
)

func missingFile(t *testing.T) string {
	t.Helper()
	return "--config=" + filepath.Join(t.TempDir(), "absent.yaml")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]string{missingFile(t)})
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Serial.Device)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.Equal(t, "\n", cfg.Serial.Delimiter)
	assert.Equal(t, 100*time.Millisecond, cfg.Serial.PollTimeout)
	assert.Equal(t, store.DriverMySQL, cfg.Store.Driver)
	assert.Equal(t, "localhost", cfg.Store.Host)
	assert.Equal(t, 3306, cfg.Store.Port)
	assert.Equal(t, "root", cfg.Store.User)
	assert.Equal(t, "irrigo_db", cfg.Store.Database)
	assert.Equal(t, "metingen", cfg.Store.Table)
	assert.Equal(t, 2*time.Second, cfg.Supervisor.RetryDelay)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serial:
  device: /dev/ttyACM0
  baud: 115200
store:
  driver: sqlite3
  database: /var/lib/irrigo/irrigo.db
  create_table: true
supervisor:
  retry_delay: 500ms
`), 0o644))

	t.Setenv("IRRIGO_STORE_TABLE", "readings")
	t.Setenv("IRRIGO_SUPERVISOR_POLL_INTERVAL", "250ms")

	cfg, err := Load([]string{"--config", path, "--baud", "57600"})
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Device)
	assert.Equal(t, 57600, cfg.Serial.Baud, "flag beats file")
	assert.Equal(t, store.DriverSQLite, cfg.Store.Driver)
	assert.True(t, cfg.Store.CreateTable)
	assert.Equal(t, "readings", cfg.Store.Table, "env beats default")
	assert.Equal(t, 250*time.Millisecond, cfg.Supervisor.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Supervisor.RetryDelay)

	sc := cfg.StoreConfig()
	assert.Equal(t, "/var/lib/irrigo/irrigo.db", sc.Database)
	assert.Equal(t, "/dev/ttyACM0", cfg.SerialConfig().Device)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load([]string{missingFile(t), "--baud", "12345"})
	require.ErrorContains(t, err, "unsupported baud rate")

	_, err = Load([]string{missingFile(t), "--store-driver", "postgres"})
	require.ErrorIs(t, err, store.ErrUnknownDriver)

	_, err = Load([]string{missingFile(t), "--log-format", "xml"})
	require.ErrorContains(t, err, "unknown format")

	t.Setenv("IRRIGO_SUPERVISOR_RETRY_DELAY", "0s")
	_, err = Load([]string{missingFile(t)})
	require.ErrorContains(t, err, "supervisor.retry_delay")
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial: [unterminated"), 0o644))

	_, err := Load([]string{"--config", path})
	require.ErrorContains(t, err, "read config")
}

func TestLoad_Help(t *testing.T) {
	_, err := Load([]string{"--help"})
	require.ErrorIs(t, err, pflag.ErrHelp)
}
