package pricing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/gtpulse/internal/fetch"
	"github.com/woozymasta/gtpulse/internal/registry"
	"github.com/woozymasta/gtpulse/internal/reliability"
)

type fakeReader struct {
	data  map[string]*reliability.Data
	calls atomic.Int32
	mu    sync.Mutex
}

func (f *fakeReader) GetData(_ context.Context, name string, _ reliability.Options) *reliability.Data {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[name]
}

func (f *fakeReader) set(name string, p fetch.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[name] = &reliability.Data{Payload: p}
}

func TestConvert(t *testing.T) {
	dl := Convert(16500, Rates{IDR: DefaultIDR, EUR: DefaultEUR})
	assert.Equal(t, Price{Rp: "16,500", USD: "1.000", EUR: "0.850"}, dl)

	bgl := BlueGemLock(dl)
	assert.Equal(t, Price{Rp: "1,650,000", USD: "100.00", EUR: "85.00"}, bgl)
}

func TestUpdatePriceNotifiesOnChange(t *testing.T) {
	r := &fakeReader{data: map[string]*reliability.Data{}}
	s := New(r, Config{})

	var got []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) { got = append(got, snap) })

	assert.False(t, s.UpdatePrice(context.Background()), "no data")

	r.set(registry.DiamondLock, fetch.Payload{"prices": "3,300"})
	assert.True(t, s.UpdatePrice(context.Background()))
	assert.False(t, s.UpdatePrice(context.Background()), "unchanged price")

	require.Len(t, got, 1)
	assert.Equal(t, "3,300", got[0].DL.Rp)
	assert.Equal(t, "0.200", got[0].DL.USD)
	assert.Equal(t, "330,000", got[0].BGL.Rp)

	unsubscribe()
	r.set(registry.DiamondLock, fetch.Payload{"prices": 4950.0})
	assert.True(t, s.UpdatePrice(context.Background()))
	assert.Len(t, got, 1, "unsubscribed")
	assert.Equal(t, "4,950", s.Current().DL.Rp)
}

func TestUpdateRates(t *testing.T) {
	r := &fakeReader{data: map[string]*reliability.Data{}}
	s := New(r, Config{})

	assert.False(t, s.UpdateRates(context.Background()))
	assert.Equal(t, Rates{IDR: DefaultIDR, EUR: DefaultEUR}, s.Current().Rates)

	r.set(registry.ExchangeRate, fetch.Payload{"message": "quota"})
	assert.False(t, s.UpdateRates(context.Background()))

	r.set(registry.ExchangeRate, fetch.Payload{"data": map[string]any{"IDR": 16000.0}})
	assert.True(t, s.UpdateRates(context.Background()))
	assert.Equal(t, Rates{IDR: 16000, EUR: DefaultEUR}, s.Current().Rates)

	r.set(registry.DiamondLock, fetch.Payload{"prices": "3,200"})
	s.UpdatePrice(context.Background())
	assert.Equal(t, "0.200", s.Current().DL.USD)
	assert.Equal(t, "0.170", s.Current().DL.EUR)
}

func TestStartStop(t *testing.T) {
	r := &fakeReader{data: map[string]*reliability.Data{}}
	r.set(registry.DiamondLock, fetch.Payload{"prices": "3,300"})

	s := New(r, Config{ExchangeInterval: 5 * time.Millisecond, PriceInterval: 5 * time.Millisecond})
	s.Start(context.Background())
	s.Start(context.Background())

	assert.Equal(t, "3,300", s.Current().DL.Rp)
	require.Eventually(t, func() bool { return r.calls.Load() > 6 }, time.Second, 5*time.Millisecond)

	s.Stop()
	calls := r.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, r.calls.Load(), "loops stopped")
	s.Stop()
}
