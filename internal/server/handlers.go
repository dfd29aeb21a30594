package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/woozymasta/gtpulse/internal/registry"
	"github.com/woozymasta/gtpulse/internal/reliability"
	"github.com/woozymasta/gtpulse/internal/storage"
	"github.com/woozymasta/gtpulse/internal/vars"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultLimit = 100
	maxLimit     = 1000
	defaultSince = 24 * time.Hour
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns the raw health records of every source.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Reliability.HealthStatus())
}

// handleHealthSummary returns per endpoint health counts and the last time
// the primary source answered.
func (s *Server) handleHealthSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Reliability.HealthSummary())
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Reliability.CacheStatus())
}

// handleClearCache drops cached entries.
// Query params: ?endpoint=banData,mods (all endpoints when omitted)
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	var names []string
	for _, v := range r.URL.Query()["endpoint"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}

	if err := s.deps.Reliability.ClearCache(names...); err != nil {
		if errors.Is(err, registry.ErrUnknownEndpoint) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if len(names) == 0 {
		names = s.deps.Reliability.Registry().Names()
	}
	s.log.Info().Strs("endpoints", names).Msg("Cache cleared manually")

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleared": names})
}

// handleData serves one endpoint through the cache.
// Query params: ?refresh=1 forces an upstream fetch.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("endpoint")
	if _, err := s.deps.Reliability.Registry().Get(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	data := s.deps.Reliability.GetData(r.Context(), name, reliability.Options{ForceRefresh: force})
	if data == nil {
		writeError(w, http.StatusServiceUnavailable, "no data available for "+name)
		return
	}

	writeJSON(w, http.StatusOK, data)
}

// handleCompare queries every source of an endpoint side by side.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	cmp, err := s.deps.Reliability.CompareSources(r.Context(), r.PathValue("endpoint"))
	if err != nil {
		if errors.Is(err, registry.ErrUnknownEndpoint) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Reliability.GetCombinedPlayerData(r.Context()))
}

// handleSamples lists stored player samples.
// Query params: ?since=6h&limit=100
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "storage disabled")
		return
	}

	since := defaultSince
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = d
	}

	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	samples, err := s.deps.History.RecentSamples(r.Context(), s.now().Add(-since), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to fetch samples")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if samples == nil {
		samples = []storage.Sample{}
	}

	writeJSON(w, http.StatusOK, samples)
}

// handleEvents lists stored monitor events.
// Query params: ?kind=banwave&limit=100
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "storage disabled")
		return
	}

	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	events, err := s.deps.History.RecentEvents(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to fetch events")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if events == nil {
		events = []storage.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMonitor(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Monitor == nil {
		writeError(w, http.StatusNotFound, "monitor disabled")
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Monitor.Status())
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Prices == nil {
		writeError(w, http.StatusNotFound, "pricing disabled")
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Prices.Current())
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vars.Info())
}

func parseLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, true
	}

	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}

	return min(n, maxLimit), true
}
