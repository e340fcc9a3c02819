package docstore

import (
	"log/slog"
	"sync"
)

const defaultRecorderSize = 50

// Reporter receives every failed write, separately from the error returned to
// the caller.
type Reporter interface {
	Report(err *WriteError)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(*WriteError)

func (f ReporterFunc) Report(err *WriteError) { f(err) }

// NopReporter drops reports.
type NopReporter struct{}

func (NopReporter) Report(*WriteError) {}

// Recorder logs failed writes, keeps the most recent ones and fans them out
// to subscribers.
type Recorder struct {
	mu          sync.Mutex
	size        int
	errs        []*WriteError
	subscribers map[int]func(*WriteError)
	nextSub     int
}

// NewRecorder creates a Recorder keeping up to size errors (50 if size <= 0).
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = defaultRecorderSize
	}
	return &Recorder{
		size:        size,
		subscribers: make(map[int]func(*WriteError)),
	}
}

func (r *Recorder) Report(err *WriteError) {
	if err == nil {
		return
	}
	slog.Warn("document write failed",
		"op", err.Op,
		"collection", err.Collection,
		"id", err.ID,
		"permission_denied", IsPermissionDenied(err),
		"error", err.Err,
	)

	r.mu.Lock()
	r.errs = append(r.errs, err)
	if len(r.errs) > r.size {
		r.errs = r.errs[len(r.errs)-r.size:]
	}
	subs := make([]func(*WriteError), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(err)
	}
}

// Recent returns the retained errors, oldest first.
func (r *Recorder) Recent() []*WriteError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*WriteError(nil), r.errs...)
}

// Subscribe registers fn for future reports and returns a function that
// removes it.
func (r *Recorder) Subscribe(fn func(*WriteError)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}
