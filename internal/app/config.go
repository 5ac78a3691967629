package app

import (
	"fmt"
	"time"

	"github.com/skypies/geo"

	"modesfeed/internal/adsb"
	"modesfeed/internal/feed"
	"modesfeed/internal/publish"
	"modesfeed/internal/store"
)

// Default configuration constants
const (
	DefaultSource        = "tcp://127.0.0.1:30002" // dump1090 raw output port
	DefaultFormat        = string(feed.FormatRaw)
	DefaultStore         = store.KindNone
	DefaultSQLitePath    = "modesfeed.db"
	DefaultNATSSubject   = publish.DefaultSubject
	DefaultTwoBit        = "off"
	DefaultStatsInterval = 30 * time.Second
	DefaultPruneInterval = time.Minute
	DefaultSBSPrefix     = "adsb"

	// Aircraft silent for this long lose their CPR history
	DefaultHistoryRetention = 5 * time.Minute
)

// Config holds application configuration
type Config struct {
	Source string
	Format string

	Store       string
	SQLitePath  string
	PostgresURL string

	NATSURL     string
	NATSSubject string

	// SBS output is disabled when SBSDir is empty
	SBSDir           string
	SBSRotateUTC     bool
	SBSRetentionDays int
	SBSStdout        bool

	// Stats endpoint is disabled when HTTPAddr is empty
	HTTPAddr string

	// Receiver location; 0,0 means unknown
	ReceiverLat float64
	ReceiverLon float64

	PairWindow    time.Duration
	ICAOTTL       time.Duration
	ICAOCacheSize int
	FixErrors     bool
	TwoBit        string

	StatsInterval time.Duration
	Verbose       bool
	ShowVersion   bool
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		Source:        DefaultSource,
		Format:        DefaultFormat,
		Store:         DefaultStore,
		SQLitePath:    DefaultSQLitePath,
		NATSSubject:   DefaultNATSSubject,
		SBSRotateUTC:  true,
		PairWindow:    adsb.DefaultCPRPairWindow,
		ICAOTTL:       adsb.DefaultICAOCacheTTL,
		ICAOCacheSize: adsb.DefaultICAOCacheSize,
		FixErrors:     true,
		TwoBit:        DefaultTwoBit,
		StatsInterval: DefaultStatsInterval,
	}
}

// Validate checks the configuration before any component is started
func (c Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	if _, err := feed.ParseFormat(c.Format); err != nil {
		return err
	}

	switch c.Store {
	case "", store.KindNone:
	case store.KindSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite store requires a database path")
		}
	case store.KindPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres store requires a connection URL")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if _, err := adsb.ParseTwoBitMode(c.TwoBit); err != nil {
		return err
	}
	if c.PairWindow <= 0 {
		return fmt.Errorf("pair window must be positive, got %v", c.PairWindow)
	}
	if c.ICAOTTL <= 0 {
		return fmt.Errorf("ICAO cache TTL must be positive, got %v", c.ICAOTTL)
	}
	if c.ICAOCacheSize <= 0 {
		return fmt.Errorf("ICAO cache size must be positive, got %d", c.ICAOCacheSize)
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("stats interval must be positive, got %v", c.StatsInterval)
	}
	if c.SBSRetentionDays < 0 {
		return fmt.Errorf("SBS retention must not be negative, got %d", c.SBSRetentionDays)
	}
	if c.ReceiverLat < -90 || c.ReceiverLat > 90 {
		return fmt.Errorf("receiver latitude %v out of range", c.ReceiverLat)
	}
	if c.ReceiverLon < -180 || c.ReceiverLon > 180 {
		return fmt.Errorf("receiver longitude %v out of range", c.ReceiverLon)
	}
	return nil
}

// Receiver returns the antenna location, or nil when it is not configured
func (c Config) Receiver() *geo.Latlong {
	if c.ReceiverLat == 0 && c.ReceiverLon == 0 {
		return nil
	}
	return &geo.Latlong{Lat: c.ReceiverLat, Long: c.ReceiverLon}
}

// DecoderConfig maps the application settings onto the decoder
func (c Config) DecoderConfig() (adsb.DecoderConfig, error) {
	twoBit, err := adsb.ParseTwoBitMode(c.TwoBit)
	if err != nil {
		return adsb.DecoderConfig{}, err
	}
	return adsb.DecoderConfig{
		ICAOCacheSize: c.ICAOCacheSize,
		ICAOCacheTTL:  c.ICAOTTL,
		PairWindow:    c.PairWindow,
		Correction: adsb.CorrectionPolicy{
			FixErrors: c.FixErrors,
			TwoBit:    twoBit,
		},
		Receiver: c.Receiver(),
	}, nil
}

// StoreConfig selects the record store
func (c Config) StoreConfig() store.Config {
	return store.Config{
		Kind:        c.Store,
		SQLitePath:  c.SQLitePath,
		PostgresURL: c.PostgresURL,
	}
}

// FeedConfig describes the input source
func (c Config) FeedConfig() (feed.Config, error) {
	format, err := feed.ParseFormat(c.Format)
	if err != nil {
		return feed.Config{}, err
	}
	return feed.Config{Source: c.Source, Format: format}, nil
}
