// Package store keeps the latest known state of every aircraft seen on the
// feed, keyed by ICAO address, plus per downlink format message counts.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"modesfeed/internal/adsb"
)

// Backends
const (
	KindNone     = "none"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Recorder persists decoded records
type Recorder interface {
	Record(ctx context.Context, rec adsb.Record) error
	Close() error
}

// Aircraft is the stored state of one address. Fields stay at their last
// decoded value; nil means never decoded.
type Aircraft struct {
	ICAO      string
	Callsign  *string
	Latitude  *float64
	Longitude *float64
	Altitude  *int
	Speed     *float64
	Heading   *float64
	Squawk    *string
	FirstSeen time.Time
	LastSeen  time.Time
	Messages  int64
}

// Config selects and locates the backend
type Config struct {
	Kind        string
	SQLitePath  string
	PostgresURL string
}

// Open creates the recorder described by config. KindNone (or an empty
// kind) yields a recorder that discards everything.
func Open(ctx context.Context, config Config, logger *logrus.Logger) (Recorder, error) {
	switch config.Kind {
	case "", KindNone:
		return nopRecorder{}, nil

	case KindSQLite:
		s, err := OpenSQLite(config.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.WithField("path", config.SQLitePath).Info("Opened SQLite store")
		return s, nil

	case KindPostgres:
		p, err := OpenPostgres(ctx, config.PostgresURL)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to PostgreSQL store")
		return p, nil

	default:
		return nil, fmt.Errorf("unknown store kind %q", config.Kind)
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, adsb.Record) error { return nil }
func (nopRecorder) Close() error                              { return nil }
