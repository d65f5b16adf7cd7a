package reactive

import (
	"log/slog"
	"sync"
	"time"
)

// flusher coalesces projection writes to the persistent cache. A burst of
// mutations produces one write after the debounce window; correctness does
// not depend on the flush because the in-memory projection is authoritative.
type flusher struct {
	p        Persister
	key      string
	debounce time.Duration
	marshal  func() ([]byte, error)
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func newFlusher(p Persister, key string, debounce time.Duration, marshal func() ([]byte, error), logger *slog.Logger) *flusher {
	return &flusher{p: p, key: key, debounce: debounce, marshal: marshal, logger: logger}
}

// dirty schedules a flush, resetting the window if one is already pending.
func (f *flusher) dirty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Reset(f.debounce)
		return
	}
	f.timer = time.AfterFunc(f.debounce, f.flushNow)
}

func (f *flusher) flushNow() {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()

	data, err := f.marshal()
	if err != nil {
		f.logger.Error("marshal projection", "error", err)
		return
	}
	if err := f.p.Set(f.key, data); err != nil {
		f.logger.Warn("flush projection", "error", err)
	}
}

func (f *flusher) load() ([]byte, bool, error) {
	return f.p.Get(f.key)
}
