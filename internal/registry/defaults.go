package registry

import (
	"net/url"
	"time"
)

// Defaults holds the values the built-in registry depends on.
type Defaults struct {
	CurrencyAPIKey string
	Fast           time.Duration
	Slow           time.Duration
	BanWindow      time.Duration
}

// Default returns the built-in registry of Growtopia data sources.
func Default(d Defaults) *Registry {
	reg, err := New(d.Fast,
		Endpoint{
			Name:     ExchangeRate,
			Interval: d.Slow,
			Sources: []Source{{
				Name: "FreeCurrency",
				URL:  "https://api.freecurrencyapi.com/v1/latest?apikey=" + url.QueryEscape(d.CurrencyAPIKey),
			}},
			Params: map[string]string{"base_currency": "USD", "currencies": "IDR,EUR"},
		},
		Endpoint{
			Name:    DiamondLock,
			Sources: []Source{{Name: "GTID", URL: "https://gtid.dev/get-latest-pricedl"}},
		},
		Endpoint{
			Name:       OnlinePlayers,
			Sources:    []Source{{Name: "Official Growtopia", URL: "https://www.growtopiagame.com/detail"}},
			SalvageKey: "online_user",
		},
		Endpoint{
			Name: BanData,
			Sources: []Source{
				{Name: "GTID", URL: "https://gtid.dev/get-latest-online"},
				{Name: "Noire", URL: "https://api.noire.my.id/api/player"},
			},
			Affinity: &Affinity{Prefer: "GTID"},
			Reconcile: Reconcile{
				Mode:           ReconcileTimestamp,
				Primary:        "GTID",
				Window:         d.BanWindow,
				TimestampField: "lastUpdated",
			},
		},
		Endpoint{
			Name: Mods,
			Sources: []Source{
				{Name: "Noire", URL: "https://api.noire.my.id/api/mods"},
				{Name: "GTID", URL: "https://gtid.dev/get-mods"},
			},
			Affinity:  &Affinity{Prefer: "Noire", SecondChance: true},
			Reconcile: Reconcile{Mode: ReconcileRoster, Primary: "Noire"},
		},
	)
	if err != nil {
		// static table, validated by tests
		panic(err)
	}

	return reg
}
