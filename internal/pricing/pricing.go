// Package pricing derives Diamond Lock and Blue Gem Lock prices in IDR, USD
// and EUR from the diamondLock and exchangeRate endpoints.
package pricing

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/woozymasta/gtpulse/internal/logger"
	"github.com/woozymasta/gtpulse/internal/registry"
	"github.com/woozymasta/gtpulse/internal/reliability"
)

// Defaults used until the exchange endpoint answers.
const (
	DefaultIDR = 16500
	DefaultEUR = 0.85

	// BGLFactor is how many Diamond Locks make one Blue Gem Lock.
	BGLFactor = 100
)

// Reader is the data source the service polls.
type Reader interface {
	GetData(ctx context.Context, name string, opts reliability.Options) *reliability.Data
}

// Rates are the values of one USD.
type Rates struct {
	IDR float64 `json:"IDR"`
	EUR float64 `json:"EUR"`
}

// Price is one lock price rendered for display.
type Price struct {
	Rp  string `json:"rp"`
	USD string `json:"usd"`
	EUR string `json:"eur"`
}

// Snapshot is the current pricing state.
type Snapshot struct {
	UpdatedAt time.Time `json:"updated_at"`
	DL        Price     `json:"dl"`
	BGL       Price     `json:"bgl"`
	Rates     Rates     `json:"exchange_rates"`
}

// Config controls the refresh loops.
type Config struct {
	ExchangeInterval time.Duration
	PriceInterval    time.Duration
	Defaults         Rates
}

// Service keeps prices current and notifies subscribers on change.
type Service struct {
	reader  Reader
	subs    map[int]func(Snapshot)
	cancel  context.CancelFunc
	log     zerolog.Logger
	current Snapshot
	cfg     Config
	wg      sync.WaitGroup
	nextID  int
	mu      sync.Mutex
}

// New creates a service starting from the default rates.
func New(reader Reader, cfg Config) *Service {
	if cfg.Defaults.IDR <= 0 {
		cfg.Defaults.IDR = DefaultIDR
	}
	if cfg.Defaults.EUR <= 0 {
		cfg.Defaults.EUR = DefaultEUR
	}
	if cfg.ExchangeInterval <= 0 {
		cfg.ExchangeInterval = time.Hour
	}
	if cfg.PriceInterval <= 0 {
		cfg.PriceInterval = 30 * time.Second
	}

	zero := Price{Rp: "0", USD: "0.00", EUR: "0.00"}

	return &Service{
		reader:  reader,
		subs:    make(map[int]func(Snapshot)),
		log:     logger.For("pricing"),
		cfg:     cfg,
		current: Snapshot{DL: zero, BGL: zero, Rates: cfg.Defaults},
	}
}

// Start performs an initial update of both values and launches the refresh
// loops. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.UpdateRates(ctx)
	s.UpdatePrice(ctx)

	s.loop(loopCtx, s.cfg.ExchangeInterval, s.UpdateRates)
	s.loop(loopCtx, s.cfg.PriceInterval, s.UpdatePrice)

	s.log.Info().
		Dur("exchange_interval", s.cfg.ExchangeInterval).
		Dur("price_interval", s.cfg.PriceInterval).
		Msg("Pricing service started")
}

// Stop cancels the refresh loops, waits for them and drops all subscribers.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	clear(s.subs)
	s.mu.Unlock()

	s.log.Info().Msg("Pricing service stopped")
}

func (s *Service) loop(ctx context.Context, every time.Duration, fn func(context.Context) bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Subscribe registers fn for change notifications and returns a function
// removing it.
func (s *Service) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Current returns the latest snapshot.
func (s *Service) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current
}

// UpdateRates refreshes the exchange rates. Missing currencies keep their
// defaults. It reports whether subscribers were notified.
func (s *Service) UpdateRates(ctx context.Context) bool {
	d := s.reader.GetData(ctx, registry.ExchangeRate, reliability.Options{})
	if d == nil {
		s.log.Warn().Msg("Using default exchange rates, endpoint unavailable")
		return false
	}

	data, ok := d.Payload.Object("data")
	if !ok {
		s.log.Error().Interface("payload", d.Payload).Msg("Exchange endpoint returned an unexpected format")
		return false
	}

	rates := s.cfg.Defaults
	if v, ok := data.Float("IDR"); ok && v > 0 {
		rates.IDR = v
	}
	if v, ok := data.Float("EUR"); ok && v > 0 {
		rates.EUR = v
	}

	s.mu.Lock()
	s.current.Rates = rates
	snap := s.current
	s.mu.Unlock()

	s.log.Debug().Float64("idr", rates.IDR).Float64("eur", rates.EUR).Msg("Exchange rates updated")
	s.notify(snap)

	return true
}

// UpdatePrice refreshes the Diamond Lock price and notifies subscribers
// when the rupiah price changed. It reports whether it did.
func (s *Service) UpdatePrice(ctx context.Context) bool {
	d := s.reader.GetData(ctx, registry.DiamondLock, reliability.Options{})
	if d == nil {
		return false
	}

	idr, ok := d.Payload.Float("prices")
	if !ok {
		return false
	}

	s.mu.Lock()
	dl := Convert(int64(idr), s.current.Rates)
	if dl.Rp == s.current.DL.Rp {
		s.mu.Unlock()
		return false
	}
	s.current.DL = dl
	s.current.BGL = BlueGemLock(dl)
	s.current.UpdatedAt = time.Now().UTC()
	snap := s.current
	s.mu.Unlock()

	s.log.Info().Str("rp", dl.Rp).Str("usd", dl.USD).Str("eur", dl.EUR).Msg("Diamond Lock price updated")
	s.notify(snap)

	return true
}

func (s *Service) notify(snap Snapshot) {
	s.mu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// Convert renders a rupiah price with its USD and EUR equivalents.
func Convert(idr int64, r Rates) Price {
	usd := float64(idr) / r.IDR
	return Price{
		Rp:  humanize.Comma(idr),
		USD: strconv.FormatFloat(usd, 'f', 3, 64),
		EUR: strconv.FormatFloat(usd*r.EUR, 'f', 3, 64),
	}
}

// BlueGemLock derives the BGL price from a rendered DL price.
func BlueGemLock(dl Price) Price {
	idr, _ := strconv.ParseInt(strings.ReplaceAll(dl.Rp, ",", ""), 10, 64)
	usd, _ := strconv.ParseFloat(dl.USD, 64)
	eur, _ := strconv.ParseFloat(dl.EUR, 64)

	return Price{
		Rp:  humanize.Comma(idr * BGLFactor),
		USD: strconv.FormatFloat(math.Round(usd*BGLFactor*100)/100, 'f', 2, 64),
		EUR: strconv.FormatFloat(math.Round(eur*BGLFactor*100)/100, 'f', 2, 64),
	}
}
