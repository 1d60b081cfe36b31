package bridge

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/irrigo-bridge/serial"
	"github.com/luhtfiimanal/irrigo-bridge/store"
)

// TestSupervisor_PTYToSQLite drives the real serial reader through a
// pseudo-terminal and persists into a temporary SQLite database.
func TestSupervisor_PTYToSQLite(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	dbPath := filepath.Join(t.TempDir(), "irrigo.db")
	storeCfg := store.Config{
		Driver:      store.DriverSQLite,
		Database:    dbPath,
		Table:       "metingen",
		CreateTable: true,
		Timeout:     2 * time.Second,
	}

	sup := New(Options{
		OpenLink: func(ctx context.Context) (Link, error) {
			return serial.Open(serial.Config{Device: slave.Name(), BaudRate: 9600})
		},
		OpenStore: func(ctx context.Context) (store.Store, error) {
			return store.Open(ctx, storeCfg)
		},
		PollTimeout:  20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		RetryDelay:   10 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return sup.State() == Running }, 2*time.Second, time.Millisecond)

	_, err = master.Write([]byte("System booting...\r\n" +
		"Moisture: 1023 | Float: 0 | Pump: 0\r\n" +
		"Moisture: abc | Float: 0 | Pump: 0\r\n" +
		"Moisture: 300 | Float: 1 | Pump: 1\r\n"))
	require.NoError(t, err)

	db, err := sql.Open(store.DriverSQLite, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.Eventually(t, func() bool {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM metingen").Scan(&n); err != nil {
			return false
		}
		return n == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	rows, err := db.Query("SELECT vochtigheid, waterniveau, pomp_status FROM metingen ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()
	var got [][3]int
	for rows.Next() {
		var v [3]int
		require.NoError(t, rows.Scan(&v[0], &v[1], &v[2]))
		got = append(got, v)
	}
	require.Equal(t, [][3]int{{1023, 0, 0}, {300, 1, 1}}, got)
}
