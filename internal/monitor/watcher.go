package monitor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/woozymasta/gtpulse/internal/logger"
	"github.com/woozymasta/gtpulse/internal/reliability"
	"github.com/woozymasta/gtpulse/internal/storage"
)

// DefaultInterval between checks.
const DefaultInterval = time.Minute

// Reader provides combined player data.
type Reader interface {
	GetCombinedPlayerData(ctx context.Context) reliability.PlayerData
}

// Notifier delivers events, e.g. to a chat webhook.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Store persists samples and events.
type Store interface {
	InsertSample(ctx context.Context, s storage.Sample) error
	InsertEvent(ctx context.Context, e storage.Event) error
}

// Status is the watcher state shown to operators.
type Status struct {
	LastCheck   time.Time `json:"last_check"`
	Players     int       `json:"players"`
	BanRate     float64   `json:"ban_rate"`
	Checks      int64     `json:"checks"`
	Maintenance bool      `json:"maintenance"`
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithNotifier adds an event notifier.
func WithNotifier(n Notifier) Option {
	return func(w *Watcher) { w.notifiers = append(w.notifiers, n) }
}

// WithStore persists samples and events.
func WithStore(s Store) Option {
	return func(w *Watcher) { w.store = s }
}

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// WithSampleHook registers a callback for every reading.
func WithSampleHook(fn func(reliability.PlayerData)) Option {
	return func(w *Watcher) { w.onSample = fn }
}

// Watcher periodically reads the combined player data and publishes events.
type Watcher struct {
	reader    Reader
	store     Store
	det       *Detector
	now       func() time.Time
	onSample  func(reliability.PlayerData)
	log       zerolog.Logger
	notifiers []Notifier
	status    Status
	interval  time.Duration
	lastPrint uint64
	mu        sync.Mutex
}

// NewWatcher creates a watcher polling reader every interval.
func NewWatcher(reader Reader, interval time.Duration, cfg Config, opts ...Option) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}

	w := &Watcher{
		reader:   reader,
		det:      NewDetector(cfg),
		now:      time.Now,
		log:      logger.For("monitor"),
		interval: interval,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Run checks immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Info().
		Dur("interval", w.interval).
		Int("maintenance_threshold", w.det.cfg.MaintenanceThreshold).
		Int("banwave_limit", w.det.cfg.BanwaveLimit).
		Msg("Online monitor started")

	w.Check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Online monitor stopped")
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check performs one reading, delivers the resulting events and persists
// the sample when it differs from the previous one.
func (w *Watcher) Check(ctx context.Context) []Event {
	pd := w.reader.GetCombinedPlayerData(ctx)
	at := w.now().UTC()

	w.mu.Lock()
	events := w.det.Observe(at, pd)
	w.status = Status{
		LastCheck:   at,
		Players:     pd.OnlineUser,
		BanRate:     pd.BanRate,
		Checks:      w.status.Checks + 1,
		Maintenance: w.det.Maintenance(),
	}
	fp := fingerprint(pd)
	changed := fp != w.lastPrint
	w.lastPrint = fp
	w.mu.Unlock()

	if w.onSample != nil {
		w.onSample(pd)
	}

	if changed && w.store != nil {
		if err := w.store.InsertSample(ctx, storage.Sample{
			TakenAt:         at,
			Players:         pd.OnlineUser,
			BanRate:         pd.BanRate,
			PlayerSource:    pd.Sources.PlayerCount,
			BanSource:       pd.Sources.BanRate,
			UpstreamUpdated: pd.LastUpdated,
		}); err != nil {
			w.log.Error().Err(err).Msg("Failed to store sample")
		}
	}

	for _, ev := range events {
		w.publish(ctx, ev)
	}

	return events
}

// Status returns the state after the last check.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.status
}

func (w *Watcher) publish(ctx context.Context, ev Event) {
	if w.store != nil {
		if err := w.store.InsertEvent(ctx, storage.Event{
			Kind:       string(ev.Kind),
			OccurredAt: ev.At,
			Players:    ev.Players,
			Delta:      ev.Delta,
			BanRate:    ev.BanRate,
			Message:    ev.Text(),
		}); err != nil {
			w.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("Failed to store event")
		}
	}

	for _, n := range w.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			w.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("Failed to deliver event")
		}
	}
}

// fingerprint identifies a reading so unchanged upstream data is stored once.
func fingerprint(pd reliability.PlayerData) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.Itoa(pd.OnlineUser))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatFloat(pd.BanRate, 'f', -1, 64))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(pd.Sources.PlayerCount)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(pd.Sources.BanRate)

	return d.Sum64()
}

// LogNotifier writes events to the log.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a notifier logging under the "events" component.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.For("events")}
}

// Notify logs alerts at warn level and updates at info level.
func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	e := n.log.Info()
	if ev.Kind != Update && ev.Kind != Started {
		e = n.log.Warn()
	}

	e.Str("kind", string(ev.Kind)).
		Int("players", ev.Players).
		Int("delta", ev.Delta).
		Float64("ban_rate", ev.BanRate).
		Msg(ev.Text())

	return nil
}
