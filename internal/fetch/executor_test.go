package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExecutor(cfg Config) *Executor {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return NewExecutor(cfg)
}

func TestFetchSuccess(t *testing.T) {
	var gotQuery, gotUA, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Custom")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"IDR":16000}}`))
	}))
	defer srv.Close()

	e := testExecutor(Config{})
	p, err := e.Fetch(context.Background(), srv.URL+"/latest?apikey=k", "exchangeRate", Request{
		Params:  map[string]string{"currencies": "IDR"},
		Headers: map[string]string{"X-Custom": "1"},
	}, 0)
	require.NoError(t, err)

	obj, ok := p.Object("data")
	require.True(t, ok)
	idr, _ := obj.Float("IDR")
	assert.InDelta(t, 16000, idr, 1e-9)

	assert.Contains(t, gotQuery, "apikey=k")
	assert.Contains(t, gotQuery, "currencies=IDR")
	assert.Equal(t, DefaultHeaders["User-Agent"], gotUA)
	assert.Equal(t, "1", gotCustom)
}

func TestFetchAuthErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testExecutor(Config{}).Fetch(context.Background(), srv.URL, "exchangeRate", Request{}, 3)

	var auth *AuthError
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, "exchangeRate", auth.Endpoint)
	assert.Equal(t, int32(1), hits.Load())
	assert.False(t, Retryable(err))
}

func TestFetchRateLimitThenSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p, err := testExecutor(Config{RetryDelay: time.Hour}).Fetch(context.Background(), srv.URL, "mods", Request{}, 3)
	require.NoError(t, err)
	assert.Equal(t, true, p["ok"])
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchHTTPErrorExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := testExecutor(Config{}).Fetch(context.Background(), srv.URL, "mods", Request{}, 3)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.Status)
	assert.Equal(t, "upstream down", httpErr.Body)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchRetryDelayIsConstant(t *testing.T) {
	var (
		mu   sync.Mutex
		hits []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	delay := 100 * time.Millisecond
	_, err := testExecutor(Config{RetryDelay: delay}).Fetch(context.Background(), srv.URL, "banData", Request{}, 3)
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 3)
	for i := 1; i < len(hits); i++ {
		gap := hits[i].Sub(hits[i-1])
		assert.GreaterOrEqual(t, gap, delay, "gap %d", i)
		assert.Less(t, gap, 2*delay-10*time.Millisecond, "gap %d grows", i)
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := testExecutor(Config{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL, "mods", Request{}, 1)

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 50*time.Millisecond, timeout.Timeout)
}

func TestRetryAfterParsing(t *testing.T) {
	e := testExecutor(Config{RateLimitDelay: 7 * time.Second})

	assert.Equal(t, 7*time.Second, e.retryAfter(""))
	assert.Equal(t, 7*time.Second, e.retryAfter("soon"))
	assert.Equal(t, 3*time.Second, e.retryAfter("3"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d := e.retryAfter(future)
	assert.Greater(t, d, 50*time.Second)
}

func TestConcurrencyGate(t *testing.T) {
	var (
		hits, cur, peak atomic.Int32
		release         = make(chan struct{})
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		cur.Add(-1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	defer close(release)

	e := testExecutor(Config{MaxConcurrent: 2})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Fetch(context.Background(), srv.URL, "mods", Request{}, 1)
		}()
	}

	require.Eventually(t, func() bool { return hits.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), hits.Load(), "third request must wait for a free slot")
	assert.Equal(t, 2, e.InFlight())

	release <- struct{}{}
	require.Eventually(t, func() bool { return hits.Load() == 3 }, time.Second, 5*time.Millisecond)

	release <- struct{}{}
	release <- struct{}{}
	wg.Wait()

	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, 0, e.InFlight())
}

func TestFetchCancelledWhileWaitingForGate(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := testExecutor(Config{MaxConcurrent: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Fetch(context.Background(), srv.URL, "mods", Request{}, 1)
	}()
	require.Eventually(t, func() bool { return e.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := e.Fetch(ctx, srv.URL, "mods", Request{}, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	<-done
}
