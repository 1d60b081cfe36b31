package store

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/http"

	"github.com/luhtfiimanal/irrigo-bridge/frame"
)

// InfluxStore writes each reading as one point. Bucket comes from
// Config.Database and measurement from Config.Table.
type InfluxStore struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	closeOnce   sync.Once
	now         func() time.Time
}

// OpenInflux connects to InfluxDB and checks that the bucket exists.
func OpenInflux(ctx context.Context, cfg Config) (*InfluxStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Driver != DriverInfluxDB {
		return nil, fmt.Errorf("%w %q for influx store", ErrUnknownDriver, cfg.Driver)
	}

	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(max(uint(cfg.Timeout/time.Second), 1))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		if err == nil {
			err = errors.New("ping failed")
		}
		return nil, &UnavailableError{Backend: DriverInfluxDB, Err: fmt.Errorf("connect %s: %w", cfg.URL, err)}
	}
	if _, err := client.BucketsAPI().FindBucketByName(ctx, cfg.Database); err != nil {
		client.Close()
		return nil, &UnavailableError{Backend: DriverInfluxDB, Err: fmt.Errorf("bucket %s: %w", cfg.Database, err)}
	}

	return &InfluxStore{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Database),
		measurement: cfg.Table,
		now:         time.Now,
	}, nil
}

// Write sends one point. A single line-protocol request is all-or-nothing.
func (s *InfluxStore) Write(ctx context.Context, r frame.Reading) error {
	fields := map[string]interface{}{
		ColumnMoisture:   r.Moisture,
		ColumnWaterLevel: r.WaterLevel,
		ColumnPumpStatus: r.PumpStatus,
	}
	point := influxdb2.NewPoint(s.measurement, nil, fields, s.now())
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return &WriteError{Kind: classifyInflux(err), Err: err}
	}
	return nil
}

// IsAlive pings the server.
func (s *InfluxStore) IsAlive(ctx context.Context) bool {
	ok, err := s.client.Ping(ctx)
	return err == nil && ok
}

// Close releases the client. Safe to call multiple times.
func (s *InfluxStore) Close() error {
	s.closeOnce.Do(s.client.Close)
	return nil
}

// classifyInflux treats rejected payloads as permanent. Throttling, server
// errors, auth changes and transport failures (status 0) are transient.
func classifyInflux(err error) Kind {
	var he *http.Error
	if !errors.As(err, &he) {
		return Transient
	}
	switch {
	case he.StatusCode == 0,
		he.StatusCode == nethttp.StatusTooManyRequests,
		he.StatusCode == nethttp.StatusUnauthorized,
		he.StatusCode == nethttp.StatusForbidden,
		he.StatusCode >= 500:
		return Transient
	case he.StatusCode >= 400:
		return Permanent
	}
	return Transient
}
