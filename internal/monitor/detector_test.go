package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/gtpulse/internal/reliability"
)

func reading(players int, banRate float64) reliability.PlayerData {
	return reliability.PlayerData{OnlineUser: players, BanRate: banRate}
}

func kinds(events []Event) []Kind {
	var out []Kind
	for _, e := range events {
		out = append(out, e.Kind)
	}

	return out
}

func TestDetectorSequence(t *testing.T) {
	d := NewDetector(Config{})
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	steps := []struct {
		in   reliability.PlayerData
		want []Kind
	}{
		{reading(50000, 0), []Kind{Started}},
		{reading(50100, 0), []Kind{Update}},
		{reading(47000, 0), []Kind{Update, PlayerDrop}},
		{reading(44000, 2.5), []Kind{Update, Banwave}},
		{reading(43000, 0), []Kind{Update}},
		{reading(500, 0), []Kind{MaintenanceStart}},
		{reading(20, 0), nil},
		{reading(30000, 0), []Kind{MaintenanceEnd}},
		{reading(30000, 0), []Kind{Update}},
	}

	for i, s := range steps {
		got := d.Observe(at.Add(time.Duration(i)*time.Minute), s.in)
		assert.Equal(t, s.want, kinds(got), "step %d", i)
	}
}

func TestDetectorDelta(t *testing.T) {
	d := NewDetector(Config{BanwaveLimit: 100, MajorBanRate: 3})
	at := time.Now()

	d.Observe(at, reading(10000, 0))
	events := d.Observe(at, reading(9000, 1.5))

	require.Len(t, events, 2)
	assert.Equal(t, -1000, events[0].Delta)
	assert.InDelta(t, 10.0, events[0].Percent, 1e-9)
	assert.Equal(t, Banwave, events[1].Kind)
	assert.False(t, events[1].Major)

	events = d.Observe(at, reading(8000, 3))
	require.Len(t, events, 2)
	assert.True(t, events[1].Major)
}

func TestEventText(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Kind: Started, Players: 54321}, "**54,321** Online Players | Monitor Started"},
		{Event{Kind: Update, Players: 54321}, "**54,321** Online Players"},
		{Event{Kind: Update, Players: 54321, Delta: 1200, Percent: 2.26}, "**54,321 (+1,200 | +2.26%)** Online Players"},
		{Event{Kind: Update, Players: 50000, Delta: -4321, Percent: 7.95, BanRate: 1.5}, "**50,000 (-4,321 | -7.95%)** Online Players | Ban Rate: 1.50%"},
		{Event{Kind: PlayerDrop, Players: 50000, Delta: -4321, Percent: 7.95}, "**PLAYER DROP DETECTED** 50,000 (-4,321 | -7.95%)"},
		{Event{Kind: Banwave, Players: 50000, Delta: -4321, Percent: 7.95, BanRate: 2, Major: true}, "**MAJOR BANWAVE DETECTED** 50,000 (-4,321 | -7.95%) | Ban Rate: 2.00%"},
		{Event{Kind: MaintenanceStart, Players: 12, Delta: -40000}, "**SERVER MAINTENANCE DETECTED** 12 (-40,000) Online Players"},
		{Event{Kind: MaintenanceEnd, Players: 30000, BanRate: 1}, "**SERVER MAINTENANCE ENDED** 30,000 Online Players | Server Back Online"},
	}

	for _, tt := range tests {
		t.Run(string(tt.ev.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.Text())
		})
	}
}
