package reliability

import (
	"context"

	"github.com/woozymasta/gtpulse/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Labels used in PlayerSources when no live source answered.
const (
	LabelCached      = "Cached Data"
	LabelUnavailable = "Not Available"
)

// isoMillis matches the timestamp layout the ban-data sources publish.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// PlayerSources names where each half of PlayerData came from.
type PlayerSources struct {
	PlayerCount string `json:"playerCount"`
	BanRate     string `json:"banRate"`
}

// PlayerData combines the official player count with third-party ban data.
type PlayerData struct {
	LastUpdated string        `json:"lastUpdated"`
	Sources     PlayerSources `json:"sources"`
	OnlineUser  int           `json:"online_user"`
	BanRate     float64       `json:"ban_rate"`
}

// GetCombinedPlayerData refreshes onlinePlayers and banData concurrently.
// Each half independently falls back to its cached value; missing values
// are zero and labeled as unavailable.
func (l *Layer) GetCombinedPlayerData(ctx context.Context) PlayerData {
	var players, bans *Data

	var g errgroup.Group
	g.Go(func() error {
		players = l.GetData(ctx, registry.OnlinePlayers, Options{ForceRefresh: true})
		return nil
	})
	g.Go(func() error {
		bans = l.GetData(ctx, registry.BanData, Options{ForceRefresh: true})
		return nil
	})
	_ = g.Wait()

	out := PlayerData{
		LastUpdated: l.now().UTC().Format(isoMillis),
		Sources: PlayerSources{
			PlayerCount: label(players),
			BanRate:     label(bans),
		},
	}

	if players != nil {
		out.OnlineUser, _ = players.Payload.Int("online_user")
	}
	if bans != nil {
		out.BanRate, _ = bans.Payload.Float("ban_rate")
		if !bans.Stale {
			if ts, ok := bans.Payload.String("lastUpdated"); ok && ts != "" {
				out.LastUpdated = ts
			}
		}
	}

	l.log.Debug().
		Int("online_user", out.OnlineUser).
		Float64("ban_rate", out.BanRate).
		Str("player_source", out.Sources.PlayerCount).
		Str("ban_source", out.Sources.BanRate).
		Msg("Combined player data")

	return out
}

func label(d *Data) string {
	switch {
	case d == nil:
		return LabelUnavailable
	case d.Stale:
		return LabelCached
	}

	return registry.Source{Name: d.Source}.Label()
}
