package monitoring

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProber(observer ProbeObserver) Prober {
	return NewHTTPProber(HTTPProberOptions{Observer: observer}, logging.Nop())
}

func TestProbe_FirstSuccessWins(t *testing.T) {
	var secondHits int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondHits, 1)
	}))
	defer second.Close()

	result := newTestProber(nil).Probe(context.Background(), []Check{
		{URL: first.URL, Timeout: time.Second},
		{URL: second.URL, Timeout: time.Second},
	})

	assert.True(t, result.Healthy)
	assert.Equal(t, first.URL, result.URL)
	assert.Equal(t, int32(0), atomic.LoadInt32(&secondHits))
}

func TestProbe_TimeoutThenSuccess(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	result := newTestProber(nil).Probe(context.Background(), []Check{
		{URL: slow.URL, Timeout: time.Second},
		{URL: fast.URL, Timeout: time.Second},
	})

	assert.True(t, result.Healthy)
	assert.Equal(t, fast.URL, result.URL)
	assert.GreaterOrEqual(t, result.Elapsed, 900*time.Millisecond)
	assert.Less(t, result.Elapsed, 1900*time.Millisecond)
}

func TestProbe_NonSuccessStatusesFallThrough(t *testing.T) {
	var observed []bool
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	result := newTestProber(func(url string, healthy bool, elapsed time.Duration) {
		observed = append(observed, healthy)
	}).Probe(context.Background(), []Check{
		{URL: notFound.URL, Timeout: time.Second},
		{URL: broken.URL, Timeout: time.Second},
	})

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "HTTP 500")
	assert.Equal(t, []bool{false, false}, observed)
}

func TestProbe_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + listener.Addr().String() + "/health"
	listener.Close()

	result := newTestProber(nil).Probe(context.Background(), []Check{{URL: url, Timeout: time.Second}})
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, url)
}

func TestProbe_NoChecks(t *testing.T) {
	result := newTestProber(nil).Probe(context.Background(), nil)
	assert.False(t, result.Healthy)
	assert.Equal(t, "no health checks", result.Message)
}

func TestProbe_CallerContextBoundsTotal(t *testing.T) {
	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer hang.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := newTestProber(nil).Probe(ctx, []Check{
		{URL: hang.URL, Timeout: 10 * time.Second},
		{URL: hang.URL, Timeout: 10 * time.Second},
	})
	assert.False(t, result.Healthy)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTCPReachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	assert.True(t, TCPReachable(context.Background(), "127.0.0.1", port, time.Second))

	listener.Close()
	assert.False(t, TCPReachable(context.Background(), "127.0.0.1", port, 200*time.Millisecond))
}
