package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"streamkeeper/internal/logging"
)

const recorderBuffer = 256

// Recorder appends entries from a background goroutine so callers never
// block on disk. Entries are dropped when the buffer is full.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	queue  chan Entry
	done   chan struct{}
	once   sync.Once
}

// NewRecorder starts a recorder writing into store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	r := &Recorder{
		store:  store,
		logger: logging.NewComponentLogger(logger, "journal"),
		queue:  make(chan Entry, recorderBuffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues an entry. It never blocks and must not be called after
// Close.
func (r *Recorder) Record(e Entry) {
	if r == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Debug("journal buffer full; event dropped",
			logging.String("kind", e.Kind),
			logging.Stream(e.Stream),
		)
	}
}

// Close drains queued entries and stops the writer. The store stays open.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := r.store.Append(ctx, e); err != nil {
			r.logger.Warn("journal append failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "journal_append_failed"),
				logging.String(logging.FieldErrorHint, "check "+r.store.Path()),
				logging.String(logging.FieldImpact, "event history is incomplete"),
			)
		}
		cancel()
	}
}
