package httpclient

import (
	"errors"
	"io"
	"sync"
	"time"
)

// BudgetBuffer is added to connect + read timeout to form a call's total
// budget, so the network timeouts always fire before the budget does.
const BudgetBuffer = 10 * time.Millisecond

// Cancellation causes used to tell the deadlines apart after the fact.
var (
	errReadTimeout    = errors.New("read idle timeout")
	errBudgetExceeded = errors.New("call budget exceeded")
)

// budget returns the total time a single attempt may take.
func budget(connect, read time.Duration) time.Duration {
	return connect + read + BudgetBuffer
}

// readWatchdog fires onExpire when no progress was made for timeout.
// Every arm restarts the idle period.
type readWatchdog struct {
	timeout  time.Duration
	onExpire func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newReadWatchdog(timeout time.Duration, onExpire func()) *readWatchdog {
	return &readWatchdog{timeout: timeout, onExpire: onExpire}
}

func (w *readWatchdog) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.timeout, w.onExpire)
		return
	}
	w.timer.Reset(w.timeout)
}

func (w *readWatchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// watchedReader re-arms the watchdog on every read.
type watchedReader struct {
	r io.Reader
	w *readWatchdog
}

func (wr *watchedReader) Read(p []byte) (int, error) {
	n, err := wr.r.Read(p)
	if n > 0 {
		wr.w.arm()
	}
	return n, err
}
