package resilience

import "sync"

// TurnTracker decides when repeated turn-level failures on the same pipeline
// stage should end the session. The pipeline absorbs individual turn errors;
// the worker consults the tracker after each one and tears the session down
// once a stage crosses the threshold.
type TurnTracker struct {
	// Threshold is the number of consecutive failures on one stage that
	// escalates to a session-fatal decision. Default: 3.
	Threshold int

	mu       sync.Mutex
	failures map[string]int
}

// RecordFailure notes a failed turn on stage and reports whether the session
// should end.
func (t *TurnTracker) RecordFailure(stage string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures == nil {
		t.failures = make(map[string]int)
	}
	t.failures[stage]++
	return t.failures[stage] >= t.threshold()
}

// RecordSuccess resets the failure count for stage. A successful turn proves
// the backend recovered, so earlier failures no longer count toward the
// threshold.
func (t *TurnTracker) RecordSuccess(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, stage)
}

// Failures returns the current consecutive failure count for stage.
func (t *TurnTracker) Failures(stage string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures[stage]
}

func (t *TurnTracker) threshold() int {
	if t.Threshold <= 0 {
		return 3
	}
	return t.Threshold
}
