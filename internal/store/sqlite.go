package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"modesfeed/internal/adsb"
)

// ErrNotFound is returned when an address has no stored state
var ErrNotFound = errors.New("aircraft not found")

// SQLite is an embedded store backed by modernc.org/sqlite
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS aircraft (
	icao       TEXT PRIMARY KEY,
	callsign   TEXT,
	latitude   REAL,
	longitude  REAL,
	altitude   INTEGER,
	speed      REAL,
	heading    REAL,
	squawk     TEXT,
	first_seen TEXT NOT NULL,
	last_seen  TEXT NOT NULL,
	messages   INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_aircraft_last_seen ON aircraft(last_seen);

CREATE TABLE IF NOT EXISTS format_counts (
	icao  TEXT NOT NULL,
	df    INTEGER NOT NULL,
	count INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (icao, df)
);
`

// Record upserts the aircraft row and bumps the format counter
func (s *SQLite) Record(ctx context.Context, rec adsb.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := rec.Timestamp.UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO aircraft (icao, callsign, latitude, longitude, altitude, speed, heading, squawk, first_seen, last_seen, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (icao) DO UPDATE SET
			callsign = COALESCE(excluded.callsign, aircraft.callsign),
			latitude = COALESCE(excluded.latitude, aircraft.latitude),
			longitude = COALESCE(excluded.longitude, aircraft.longitude),
			altitude = COALESCE(excluded.altitude, aircraft.altitude),
			speed = COALESCE(excluded.speed, aircraft.speed),
			heading = COALESCE(excluded.heading, aircraft.heading),
			squawk = COALESCE(excluded.squawk, aircraft.squawk),
			last_seen = excluded.last_seen,
			messages = aircraft.messages + 1
	`, rec.ICAO, rec.Callsign, rec.Latitude, rec.Longitude, rec.Altitude, rec.Speed, rec.Heading, rec.Squawk, ts, ts)
	if err != nil {
		return fmt.Errorf("upsert aircraft: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO format_counts (icao, df, count) VALUES (?, ?, 1)
		ON CONFLICT (icao, df) DO UPDATE SET count = format_counts.count + 1
	`, rec.ICAO, int(rec.Format))
	if err != nil {
		return fmt.Errorf("upsert format count: %w", err)
	}

	return tx.Commit()
}

// Aircraft returns the stored state of icao (six hex digits)
func (s *SQLite) Aircraft(ctx context.Context, icao string) (*Aircraft, error) {
	var a Aircraft
	var firstSeen, lastSeen string

	err := s.db.QueryRowContext(ctx, `
		SELECT icao, callsign, latitude, longitude, altitude, speed, heading, squawk, first_seen, last_seen, messages
		FROM aircraft WHERE icao = ?
	`, icao).Scan(&a.ICAO, &a.Callsign, &a.Latitude, &a.Longitude, &a.Altitude, &a.Speed, &a.Heading, &a.Squawk,
		&firstSeen, &lastSeen, &a.Messages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query aircraft: %w", err)
	}

	if a.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("parse first_seen: %w", err)
	}
	if a.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	return &a, nil
}

// FormatCounts returns how many messages of each downlink format were
// recorded for icao
func (s *SQLite) FormatCounts(ctx context.Context, icao string) (map[adsb.DownlinkFormat]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT df, count FROM format_counts WHERE icao = ?`, icao)
	if err != nil {
		return nil, fmt.Errorf("query format counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[adsb.DownlinkFormat]int64)
	for rows.Next() {
		var df int
		var n int64
		if err := rows.Scan(&df, &n); err != nil {
			return nil, fmt.Errorf("scan format count: %w", err)
		}
		counts[adsb.DownlinkFormat(df)] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}
