package services

import (
	"sync"
	"time"
)

// RefreshProgress is a snapshot of the full-roster refresh state.
type RefreshProgress struct {
	InProgress   bool       `json:"in_progress"`
	Total        int        `json:"total"`
	Processed    int        `json:"processed"`
	MembersFound int        `json:"members_found"`
	Errors       int        `json:"errors"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// RefreshTracker is the process-wide holder of full-roster refresh progress.
// main builds one and hands it to every BulkRefresher so that the request
// that starts a refresh and the requests that poll it see the same state.
// At most one refresh may be in progress at a time.
type RefreshTracker struct {
	mu  sync.Mutex
	p   RefreshProgress
	now func() time.Time
}

// NewRefreshTracker returns an idle tracker.
func NewRefreshTracker() *RefreshTracker {
	return &RefreshTracker{now: func() time.Time { return time.Now().UTC() }}
}

// Begin marks a refresh as started. It fails with ErrRefreshInProgress when
// one is already running. Counters from the previous run are reset.
func (t *RefreshTracker) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.p.InProgress {
		return ErrRefreshInProgress
	}
	now := t.now()
	t.p = RefreshProgress{InProgress: true, StartedAt: &now}
	t.publish()
	return nil
}

// SetTotal records the roster size once enumeration is done.
func (t *RefreshTracker) SetTotal(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Total = total
	t.p.MembersFound = total
	t.publish()
}

// Advance records cumulative processed and error counts.
func (t *RefreshTracker) Advance(processed, errs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Processed = processed
	t.p.Errors = errs
	t.publish()
}

// Finish clears the in-progress flag, recording err when non-nil.
func (t *RefreshTracker) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.p.InProgress = false
	t.p.FinishedAt = &now
	if err != nil {
		t.p.LastError = err.Error()
	}
	t.publish()
}

// Snapshot returns a copy of the current progress.
func (t *RefreshTracker) Snapshot() RefreshProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}

// publish mirrors the state into prometheus gauges. Caller holds mu.
func (t *RefreshTracker) publish() {
	inProgress := 0.0
	if t.p.InProgress {
		inProgress = 1
	}
	refreshGauge.WithLabelValues("in_progress").Set(inProgress)
	refreshGauge.WithLabelValues("total").Set(float64(t.p.Total))
	refreshGauge.WithLabelValues("processed").Set(float64(t.p.Processed))
	refreshGauge.WithLabelValues("errors").Set(float64(t.p.Errors))
}
