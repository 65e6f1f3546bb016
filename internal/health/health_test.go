package health

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hit struct {
	method string
	path   string
	body   string
}

func recordingServer(t *testing.T, status func(n int) int) (*httptest.Server, func() []hit) {
	t.Helper()
	var mu sync.Mutex
	var hits []hit
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		hits = append(hits, hit{method: r.Method, path: r.URL.Path, body: string(body)})
		n := len(hits)
		mu.Unlock()
		w.WriteHeader(status(n))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []hit {
		mu.Lock()
		defer mu.Unlock()
		return append([]hit(nil), hits...)
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestPingURL(t *testing.T) {
	base := "https://hc-ping.com/abc"
	assert.Equal(t, base+"/start", PingURL(base, Start))
	assert.Equal(t, base, PingURL(base, Success))
	assert.Equal(t, base+"/fail", PingURL(base+"/", Fail))
}

func TestHTTPPinger_PostsSignalsWithBody(t *testing.T) {
	srv, hits := recordingServer(t, func(int) int { return http.StatusOK })
	p := NewHTTPPinger(time.Second, 0)

	require.NoError(t, p.Ping(context.Background(), srv.URL+"/check", Start, ""))
	require.NoError(t, p.Ping(context.Background(), srv.URL+"/check", Fail, "[duplicacy backup] 1 error(s)"))

	got := hits()
	require.Len(t, got, 2)
	assert.Equal(t, hit{method: http.MethodPost, path: "/check/start", body: ""}, got[0])
	assert.Equal(t, hit{method: http.MethodPost, path: "/check/fail", body: "[duplicacy backup] 1 error(s)"}, got[1])
}

func TestHTTPPinger_RetriesServerErrors(t *testing.T) {
	srv, hits := recordingServer(t, func(n int) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	p := NewHTTPPinger(time.Second, 5)
	p.Sleep = noSleep

	require.NoError(t, p.Ping(context.Background(), srv.URL, Success, "ok"))
	assert.Len(t, hits(), 3)
}

func TestHTTPPinger_GivesUpAfterRetries(t *testing.T) {
	srv, hits := recordingServer(t, func(int) int { return http.StatusBadGateway })
	p := NewHTTPPinger(time.Second, 2)
	p.Sleep = noSleep

	err := p.Ping(context.Background(), srv.URL, Success, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.Len(t, hits(), 3)
}

func TestHTTPPinger_NoRetryOnClientError(t *testing.T) {
	srv, hits := recordingServer(t, func(int) int { return http.StatusNotFound })
	p := NewHTTPPinger(time.Second, 5)
	p.Sleep = noSleep

	require.Error(t, p.Ping(context.Background(), srv.URL, Success, ""))
	assert.Len(t, hits(), 1)
}

func TestHTTPPinger_UnreachableEndpoint(t *testing.T) {
	srv, _ := recordingServer(t, func(int) int { return http.StatusOK })
	url := srv.URL
	srv.Close()

	p := NewHTTPPinger(200*time.Millisecond, 1)
	p.Sleep = noSleep

	assert.Error(t, p.Ping(context.Background(), url, Start, ""))
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, calculateBackoff(0))
	assert.Equal(t, time.Second, calculateBackoff(1))
	assert.Equal(t, maxBackoff, calculateBackoff(10))
}

type failingPinger struct{ calls int }

func (f *failingPinger) Ping(context.Context, string, Signal, string) error {
	f.calls++
	return io.ErrUnexpectedEOF
}

func TestSend(t *testing.T) {
	p := &failingPinger{}

	Send(context.Background(), p, nil, "", Start, "")
	assert.Equal(t, 0, p.calls, "no URL configured means no ping")

	assert.NotPanics(t, func() {
		Send(context.Background(), p, nil, "https://hc-ping.com/x", Start, "")
	})
	assert.Equal(t, 1, p.calls)
}
