package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget(t *testing.T) {
	tests := []struct {
		name    string
		connect time.Duration
		read    time.Duration
		want    time.Duration
	}{
		{name: "given defaults, then 70s plus buffer", connect: 10 * time.Second, read: 60 * time.Second, want: 70*time.Second + 10*time.Millisecond},
		{name: "given short timeouts, then sum plus buffer", connect: time.Millisecond, read: time.Millisecond, want: 12 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, budget(tt.connect, tt.read))
		})
	}
}

func TestReadWatchdog(t *testing.T) {
	t.Run("given no arm, then never fires", func(t *testing.T) {
		var fired atomic.Bool
		wd := newReadWatchdog(5*time.Millisecond, func() { fired.Store(true) })
		time.Sleep(20 * time.Millisecond)
		wd.stop()
		assert.False(t, fired.Load())
	})

	t.Run("given armed and idle, then fires", func(t *testing.T) {
		fired := make(chan struct{})
		wd := newReadWatchdog(5*time.Millisecond, func() { close(fired) })
		defer wd.stop()

		wd.arm()
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("watchdog did not fire")
		}
	})

	t.Run("given re-armed before expiry, then idle period restarts", func(t *testing.T) {
		var fired atomic.Bool
		wd := newReadWatchdog(40*time.Millisecond, func() { fired.Store(true) })
		defer wd.stop()

		wd.arm()
		for range 5 {
			time.Sleep(15 * time.Millisecond)
			wd.arm()
		}
		assert.False(t, fired.Load())
	})

	t.Run("given stopped, then arm is ignored", func(t *testing.T) {
		var fired atomic.Bool
		wd := newReadWatchdog(5*time.Millisecond, func() { fired.Store(true) })
		wd.stop()
		wd.arm()
		time.Sleep(20 * time.Millisecond)
		assert.False(t, fired.Load())
	})
}

func TestWatchedReader(t *testing.T) {
	var fired atomic.Bool
	wd := newReadWatchdog(time.Hour, func() { fired.Store(true) })
	defer wd.stop()

	data, err := io.ReadAll(&watchedReader{r: strings.NewReader("hello"), w: wd})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	wd.mu.Lock()
	armed := wd.timer != nil
	wd.mu.Unlock()
	assert.True(t, armed, "reads must arm the watchdog")
	assert.False(t, fired.Load())
}

func TestTimeout_CallerDeadlineWins(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newServerClient(t, server.URL, WithReadTimeout(2*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.NewRequest("GetData", "Data", "/data").Get(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout, "caller deadlines are not call timeouts")
}

func TestTimeout_FastServerSucceeds(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newServerClient(t, server.URL)

	resp, err := client.NewRequest("GetData", "Data", "/data").Get(context.Background())

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, resp.RawBody)
}
