// Package registry describes the logical endpoints the bot polls and the
// ordered candidate sources able to answer each of them.
package registry

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Names of the built-in endpoints.
const (
	ExchangeRate  = "exchangeRate"
	DiamondLock   = "diamondLock"
	OnlinePlayers = "onlinePlayers"
	BanData       = "banData"
	Mods          = "mods"
)

// Reconciliation modes used when several sources answered the same endpoint.
const (
	ReconcileFirst     = ""
	ReconcileTimestamp = "timestamp"
	ReconcileRoster    = "roster"
)

// DefaultReconcileWindow applies to timestamp rules that set no window.
const DefaultReconcileWindow = 2 * time.Minute

// ErrUnknownEndpoint is returned for endpoint names missing from the registry.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Source is one concrete URL able to answer an endpoint.
type Source struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Label returns the display label used in combined data, e.g. "GTID API".
func (s Source) Label() string {
	return s.Name + " API"
}

// Affinity prefers one source over the others whenever it is healthy.
// With SecondChance set, an unhealthy preferred source is retried first
// once SwitchBack has elapsed since its last failure.
type Affinity struct {
	Prefer       string        `yaml:"prefer" json:"prefer"`
	SecondChance bool          `yaml:"second_chance" json:"second_chance"`
	SwitchBack   time.Duration `yaml:"switch_back" json:"switch_back,omitempty"`
}

// Reconcile selects between disagreeing results of several sources.
type Reconcile struct {
	Mode           string        `yaml:"mode" json:"mode"`
	Primary        string        `yaml:"primary" json:"primary"`
	Window         time.Duration `yaml:"window" json:"window,omitempty"`
	TimestampField string        `yaml:"timestamp_field" json:"timestamp_field,omitempty"`
}

// Endpoint is a logical data need served by one or more sources.
type Endpoint struct {
	// betteralign:ignore

	Name       string            `yaml:"name" json:"name"`
	Sources    []Source          `yaml:"sources" json:"sources"`
	Interval   time.Duration     `yaml:"interval" json:"interval"`
	Affinity   *Affinity         `yaml:"affinity" json:"affinity,omitempty"`
	Reconcile  Reconcile         `yaml:"reconcile" json:"reconcile"`
	Params     map[string]string `yaml:"params" json:"-"`
	Headers    map[string]string `yaml:"headers" json:"-"`
	SalvageKey string            `yaml:"salvage_key" json:"salvage_key,omitempty"`
}

// Redundant reports whether the endpoint has more than one candidate source.
func (e *Endpoint) Redundant() bool {
	return len(e.Sources) > 1
}

// Source looks up a source by its display name.
func (e *Endpoint) Source(name string) (Source, bool) {
	for _, s := range e.Sources {
		if s.Name == name {
			return s, true
		}
	}

	return Source{}, false
}

// IsPrimary reports whether url is the first configured source of the endpoint.
func (e *Endpoint) IsPrimary(url string) bool {
	return len(e.Sources) > 0 && e.Sources[0].URL == url
}

// URLs returns the candidate URLs in configured order.
func (e *Endpoint) URLs() []string {
	urls := make([]string, len(e.Sources))
	for i, s := range e.Sources {
		urls[i] = s.URL
	}

	return urls
}

func (e *Endpoint) validate() error {
	if e.Name == "" {
		return errors.New("endpoint without name")
	}
	if len(e.Sources) == 0 {
		return fmt.Errorf("endpoint %s: no sources", e.Name)
	}

	seen := make(map[string]struct{}, len(e.Sources))
	for i := range e.Sources {
		src := &e.Sources[i]
		if src.URL == "" {
			return fmt.Errorf("endpoint %s: source %d without url", e.Name, i)
		}
		if src.Name == "" {
			src.Name = fmt.Sprintf("source-%d", i+1)
		}
		if _, dup := seen[src.URL]; dup {
			return fmt.Errorf("endpoint %s: duplicate source %s", e.Name, src.URL)
		}
		seen[src.URL] = struct{}{}
	}

	if e.Affinity != nil {
		if _, ok := e.Source(e.Affinity.Prefer); !ok {
			return fmt.Errorf("endpoint %s: affinity prefers unknown source %q", e.Name, e.Affinity.Prefer)
		}
	}

	switch e.Reconcile.Mode {
	case ReconcileFirst:
	case ReconcileTimestamp, ReconcileRoster:
		if _, ok := e.Source(e.Reconcile.Primary); !ok {
			return fmt.Errorf("endpoint %s: reconcile primary %q is not a source", e.Name, e.Reconcile.Primary)
		}
		if e.Reconcile.Mode == ReconcileTimestamp && e.Reconcile.Window <= 0 {
			e.Reconcile.Window = DefaultReconcileWindow
		}
	default:
		return fmt.Errorf("endpoint %s: unknown reconcile mode %q", e.Name, e.Reconcile.Mode)
	}

	return nil
}

// Registry is the fixed set of endpoints known to the process.
// It is immutable once built.
type Registry struct {
	endpoints map[string]*Endpoint
	order     []string
}

// New validates the endpoints and builds a registry preserving their order.
// Endpoints without an interval get fallbackInterval.
func New(fallbackInterval time.Duration, endpoints ...Endpoint) (*Registry, error) {
	r := &Registry{endpoints: make(map[string]*Endpoint, len(endpoints))}

	for i := range endpoints {
		ep := endpoints[i]
		ep.Sources = append([]Source(nil), ep.Sources...)
		if err := ep.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.endpoints[ep.Name]; dup {
			return nil, fmt.Errorf("duplicate endpoint %s", ep.Name)
		}
		if ep.Interval <= 0 {
			ep.Interval = fallbackInterval
		}

		r.endpoints[ep.Name] = &ep
		r.order = append(r.order, ep.Name)
	}

	return r, nil
}

// Get returns the endpoint with the given name.
func (r *Registry) Get(name string) (*Endpoint, error) {
	ep, ok := r.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}

	return ep, nil
}

// Names returns endpoint names in configured order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Endpoints returns all endpoints in configured order.
func (r *Registry) Endpoints() []*Endpoint {
	out := make([]*Endpoint, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.endpoints[name])
	}

	return out
}

type file struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// Load reads a YAML registry file. Environment variables referenced as
// ${NAME} are expanded before parsing so API keys stay out of the file.
func Load(path string, fallbackInterval time.Duration) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &f); err != nil {
		return nil, fmt.Errorf("failed to parse sources file %s: %w", path, err)
	}
	if len(f.Endpoints) == 0 {
		return nil, fmt.Errorf("sources file %s defines no endpoints", path)
	}

	return New(fallbackInterval, f.Endpoints...)
}
