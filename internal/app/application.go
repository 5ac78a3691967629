package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"modesfeed/internal/adsb"
	"modesfeed/internal/basestation"
	"modesfeed/internal/feed"
	"modesfeed/internal/logging"
	"modesfeed/internal/publish"
	"modesfeed/internal/stats"
	"modesfeed/internal/store"
)

const (
	defaultSinkTimeout     = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// namedSink is a record consumer with a name for log fields
type namedSink struct {
	name     string
	recorder store.Recorder
}

// Application represents the main application
type Application struct {
	config      Config
	logger      *logrus.Logger
	decoder     *adsb.Decoder
	reader      *feed.Reader
	sinks       []namedSink
	baseStation *basestation.Writer
	logRotator  *logging.Rotator
	server      *stats.Server
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// outputMutex serialises dispatch against closeResources; once
	// outputsClosed is set, decoded messages are no longer written
	outputMutex   sync.Mutex
	outputsClosed bool

	sinkTimeout     time.Duration
	shutdownTimeout time.Duration

	// closed once the feed is exhausted and every frame has been decoded
	feedDone   chan struct{}
	sinkErrors atomic.Uint64
}

// NewApplication creates a new application instance
func NewApplication(config Config) *Application {
	ctx, cancel := context.WithCancel(context.Background())

	logger := logrus.New()
	if config.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Application{
		config:          config,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		sinkTimeout:     defaultSinkTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		feedDone:        make(chan struct{}),
	}
}

// Start runs the pipeline until a shutdown signal arrives or a file feed
// is exhausted
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	}).Info("Starting modesfeed")

	if err := app.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.closeResources()
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	app.run()

	select {
	case <-sigChan:
		app.logger.Info("Received shutdown signal")
	case <-app.feedDone:
		app.logger.Info("Feed exhausted")
	}
	app.shutdown()

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	decoderConfig, err := app.config.DecoderConfig()
	if err != nil {
		return err
	}
	app.decoder = adsb.NewDecoder(decoderConfig, app.logger)

	feedConfig, err := app.config.FeedConfig()
	if err != nil {
		return err
	}
	app.reader, err = feed.NewReader(feedConfig, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create feed reader: %w", err)
	}

	if app.config.Store != "" && app.config.Store != store.KindNone {
		recorder, err := store.Open(app.ctx, app.config.StoreConfig(), app.logger)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		app.sinks = append(app.sinks, namedSink{name: app.config.Store, recorder: recorder})
	}

	if app.config.NATSURL != "" {
		publisher, err := publish.Connect(app.config.NATSURL, app.config.NATSSubject, app.logger)
		if err != nil {
			return err
		}
		app.sinks = append(app.sinks, namedSink{name: "nats", recorder: publisher})
	}

	if app.config.SBSDir != "" {
		app.logRotator, err = logging.NewRotator(app.config.SBSDir, DefaultSBSPrefix, app.config.SBSRotateUTC, app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize log rotator: %w", err)
		}
		var out io.Writer = app.logRotator
		if app.config.SBSStdout {
			out = io.MultiWriter(app.logRotator, os.Stdout)
		}
		app.baseStation = basestation.NewWriter(out, app.logger)
	}

	if app.config.HTTPAddr != "" {
		app.server = stats.NewServer(app.config.HTTPAddr, app.decoder.Stats(), app.decoder.CPR(), app.logger)
	}

	return nil
}

// run starts every pipeline goroutine
func (app *Application) run() {
	app.logger.WithFields(logrus.Fields{
		"source": app.config.Source,
		"format": app.config.Format,
	}).Info("Starting feed decoding")

	frames := make(chan feed.Frame, 256)

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		defer close(frames)
		if err := app.reader.Run(app.ctx, frames); err != nil {
			app.logger.WithError(err).Error("Feed reader failed")
		}
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		defer close(app.feedDone)
		app.processFrames(frames)
	}()

	if app.logRotator != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.logRotator.Start(app.ctx)
		}()

		if app.config.SBSRetentionDays > 0 {
			app.wg.Add(1)
			go func() {
				defer app.wg.Done()
				app.cleanupLogs()
			}()
		}
	}

	if app.server != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.server.Run(app.ctx); err != nil {
				app.logger.WithError(err).Error("Stats server failed")
			}
		}()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.pruneHistory()
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.reportStatistics()
	}()

	app.logger.Info("All components started successfully")
}

// processFrames decodes frames until the channel is closed
func (app *Application) processFrames(frames <-chan feed.Frame) {
	for frame := range frames {
		var msg *adsb.Message
		var err error
		if frame.Data != nil {
			msg, err = app.decoder.DecodeFrame(frame.Data, frame.Received)
		} else {
			msg, err = app.decoder.DecodeAt(frame.Line, frame.Received)
		}

		if err != nil {
			app.logger.WithError(err).Debug("Dropped frame")
			continue
		}
		app.dispatch(msg)
	}
	app.logger.Debug("Frame processing stopped")
}

// dispatch hands a decoded message to every configured output. Output
// failures are logged and never stop decoding. Messages decoded after the
// outputs were closed are dropped.
func (app *Application) dispatch(msg *adsb.Message) {
	app.outputMutex.Lock()
	defer app.outputMutex.Unlock()

	if app.outputsClosed {
		return
	}

	if len(app.sinks) > 0 {
		rec := msg.Record()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(app.ctx), app.sinkTimeout)
		for _, sink := range app.sinks {
			if err := sink.recorder.Record(ctx, rec); err != nil {
				app.sinkErrors.Add(1)
				app.logger.WithError(err).WithFields(logrus.Fields{
					"sink": sink.name,
					"icao": rec.ICAO,
				}).Warn("Failed to record message")
			}
		}
		cancel()
	}

	if app.baseStation != nil {
		if err := app.baseStation.WriteMessage(msg); err != nil {
			app.sinkErrors.Add(1)
			app.logger.WithError(err).Warn("Failed to write SBS message")
		}
	}
}

// pruneHistory drops CPR history of aircraft that went silent
func (app *Application) pruneHistory() {
	ticker := time.NewTicker(DefaultPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case now := <-ticker.C:
			if removed := app.decoder.CPR().Prune(now.Add(-DefaultHistoryRetention)); removed > 0 {
				app.logger.WithField("removed", removed).Debug("Pruned CPR history")
			}
		}
	}
}

// cleanupLogs removes expired SBS logs at startup and then daily
func (app *Application) cleanupLogs() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		removed, err := app.logRotator.Cleanup(app.config.SBSRetentionDays)
		if err != nil {
			app.logger.WithError(err).Warn("Failed to clean up SBS logs")
		} else if removed > 0 {
			app.logger.WithField("removed", removed).Info("Removed expired SBS logs")
		}

		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reportStatistics reports processing statistics periodically
func (app *Application) reportStatistics() {
	ticker := time.NewTicker(app.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			app.logStatistics("Decoding statistics")
		}
	}
}

func (app *Application) logStatistics(msg string) {
	snap := app.decoder.Stats().Snapshot()

	successRate := 0.0
	if snap.Lines > 0 {
		successRate = float64(snap.Messages) / float64(snap.Lines) * 100
	}

	fields := logrus.Fields{
		"received":            app.reader.Received(),
		"lines":               snap.Lines,
		"messages":            snap.Messages,
		"unique_addresses":    snap.UniqueAddresses,
		"single_bit_fixes":    snap.SingleBitFixes,
		"two_bit_fixes":       snap.TwoBitFixes,
		"positions":           snap.Positions,
		"cpr_unresolved":      snap.CPRUnresolved,
		"malformed":           snap.Malformed,
		"checksum_failed":     snap.ChecksumFailed,
		"address_unconfirmed": snap.AddressUnconfirmed,
		"max_distance_km":     fmt.Sprintf("%.1f", snap.MaxDistanceKM),
		"tracked_aircraft":    app.decoder.CPR().Len(),
		"sink_errors":         app.sinkErrors.Load(),
		"success_rate":        fmt.Sprintf("%.2f%%", successRate),
	}
	if app.baseStation != nil {
		fields["sbs_written"] = app.baseStation.Written()
	}
	app.logger.WithFields(fields).Info(msg)
}

// shutdown gracefully shuts down the application
func (app *Application) shutdown() {
	app.logger.Info("Shutting down application")
	app.cancel()

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		app.logger.Info("All goroutines finished")
	case <-time.After(app.shutdownTimeout):
		app.logger.Warn("Shutdown timeout, forcing exit")
	}

	app.logStatistics("Final statistics")
	app.closeResources()

	app.logger.Info("Shutdown completed")
}

// closeResources closes every output that was opened. It waits for an
// in-flight dispatch to finish.
func (app *Application) closeResources() {
	app.outputMutex.Lock()
	defer app.outputMutex.Unlock()

	app.outputsClosed = true
	for _, sink := range app.sinks {
		if err := sink.recorder.Close(); err != nil {
			app.logger.WithError(err).WithField("sink", sink.name).Warn("Failed to close sink")
		}
	}
	app.sinks = nil

	if app.logRotator != nil {
		if err := app.logRotator.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close log rotator")
		}
	}
}
