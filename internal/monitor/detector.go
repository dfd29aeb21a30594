// Package monitor watches the combined player data and turns count changes
// into update, player drop, banwave and maintenance events.
package monitor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/woozymasta/gtpulse/internal/reliability"
)

// Kind of a monitor event.
type Kind string

// Event kinds.
const (
	Started          Kind = "started"
	Update           Kind = "update"
	PlayerDrop       Kind = "player_drop"
	Banwave          Kind = "banwave"
	MaintenanceStart Kind = "maintenance_start"
	MaintenanceEnd   Kind = "maintenance_end"
)

// Defaults for detection thresholds.
const (
	DefaultMaintenanceThreshold = 1000
	DefaultBanwaveLimit         = 2000
	DefaultMajorBanRate         = 1.0
)

// Event is one detected change.
type Event struct {
	At      time.Time                 `json:"at"`
	Kind    Kind                      `json:"kind"`
	Sources reliability.PlayerSources `json:"sources"`
	Players int                       `json:"players"`
	Delta   int                       `json:"delta"`
	Percent float64                   `json:"percent"`
	BanRate float64                   `json:"ban_rate"`
	Major   bool                      `json:"major,omitempty"`
}

// Text renders the event as a one-line chat message.
func (e Event) Text() string {
	var b strings.Builder

	switch e.Kind {
	case Started:
		fmt.Fprintf(&b, "**%s** Online Players | Monitor Started", humanize.Comma(int64(e.Players)))
	case Update:
		if e.Delta == 0 {
			fmt.Fprintf(&b, "**%s** Online Players", humanize.Comma(int64(e.Players)))
		} else {
			sign := ""
			if e.Delta > 0 {
				sign = "+"
			}
			fmt.Fprintf(&b, "**%s (%s%s | %s%.2f%%)** Online Players",
				humanize.Comma(int64(e.Players)), sign, humanize.Comma(int64(e.Delta)), signPrefix(e.Delta), e.Percent)
		}
	case PlayerDrop:
		fmt.Fprintf(&b, "**PLAYER DROP DETECTED** %s (-%s | -%.2f%%)",
			humanize.Comma(int64(e.Players)), humanize.Comma(int64(abs(e.Delta))), e.Percent)
	case Banwave:
		severity := "MINOR"
		if e.Major {
			severity = "MAJOR"
		}
		fmt.Fprintf(&b, "**%s BANWAVE DETECTED** %s (-%s | -%.2f%%)",
			severity, humanize.Comma(int64(e.Players)), humanize.Comma(int64(abs(e.Delta))), e.Percent)
	case MaintenanceStart:
		fmt.Fprintf(&b, "**SERVER MAINTENANCE DETECTED** %s (-%s) Online Players",
			humanize.Comma(int64(e.Players)), humanize.Comma(int64(abs(e.Delta))))
	case MaintenanceEnd:
		fmt.Fprintf(&b, "**SERVER MAINTENANCE ENDED** %s Online Players | Server Back Online",
			humanize.Comma(int64(e.Players)))
	}

	if e.BanRate > 0 && e.Kind != MaintenanceStart && e.Kind != MaintenanceEnd {
		fmt.Fprintf(&b, " | Ban Rate: %.2f%%", e.BanRate)
	}

	return b.String()
}

// Config holds detection thresholds.
type Config struct {
	// MaintenanceThreshold is the player count under which the game is
	// considered down for maintenance.
	MaintenanceThreshold int

	// BanwaveLimit is the minimum drop between two checks that counts as a
	// player drop or banwave.
	BanwaveLimit int

	// MajorBanRate separates major from minor banwaves.
	MajorBanRate float64
}

// Detector is the per-check state machine. It is not safe for concurrent use.
type Detector struct {
	prev        *int
	cfg         Config
	maintenance bool
}

// NewDetector creates a detector; zero thresholds take the defaults.
func NewDetector(cfg Config) *Detector {
	if cfg.MaintenanceThreshold <= 0 {
		cfg.MaintenanceThreshold = DefaultMaintenanceThreshold
	}
	if cfg.BanwaveLimit <= 0 {
		cfg.BanwaveLimit = DefaultBanwaveLimit
	}
	if cfg.MajorBanRate <= 0 {
		cfg.MajorBanRate = DefaultMajorBanRate
	}

	return &Detector{cfg: cfg}
}

// Maintenance reports whether the detector is in maintenance state.
func (d *Detector) Maintenance() bool {
	return d.maintenance
}

// Observe feeds one combined reading and returns the resulting events.
//
// The first reading only emits Started. Afterwards a count under the
// maintenance threshold opens maintenance once, the first count above it
// closes it, and any other reading emits Update followed by PlayerDrop
// (no ban rate) or Banwave (ban rate above zero) when the count fell by at
// least the banwave limit.
func (d *Detector) Observe(at time.Time, pd reliability.PlayerData) []Event {
	count := pd.OnlineUser
	base := Event{At: at, Players: count, BanRate: pd.BanRate, Sources: pd.Sources}

	if d.prev == nil {
		d.prev = &count
		base.Kind = Started
		return []Event{base}
	}

	prev := *d.prev
	*d.prev = count

	base.Delta = count - prev
	if prev > 0 {
		base.Percent = math.Round(float64(abs(base.Delta))/float64(prev)*10000) / 100
	}

	switch {
	case count < d.cfg.MaintenanceThreshold:
		if d.maintenance {
			return nil
		}
		d.maintenance = true
		base.Kind = MaintenanceStart
		return []Event{base}

	case d.maintenance:
		d.maintenance = false
		base.Kind = MaintenanceEnd
		return []Event{base}
	}

	update := base
	update.Kind = Update
	events := []Event{update}

	if base.Delta < 0 && abs(base.Delta) >= d.cfg.BanwaveLimit {
		alert := base
		if pd.BanRate > 0 {
			alert.Kind = Banwave
			alert.Major = pd.BanRate >= d.cfg.MajorBanRate
		} else {
			alert.Kind = PlayerDrop
		}
		events = append(events, alert)
	}

	return events
}

func abs(n int) int {
	if n < 0 {
		return -n
	}

	return n
}

func signPrefix(n int) string {
	if n > 0 {
		return "+"
	}

	return "-"
}
