// Package studentmodel assembles a student's model from the fragments other
// plugins contribute, giving up after a fixed timeout.
package studentmodel

import (
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// DefaultTimeout bounds how long an aggregation waits for its fragments.
const DefaultTimeout = 30 * time.Second

// DefaultFragments are the fragment names a complete model contains.
var DefaultFragments = []string{"knowledge_tracing", "problem_management", "hint_factory"}

// Result is a finished aggregation.
type Result struct {
	RequestID string
	StudentID string
	Fragments map[string]json.RawMessage
	TimedOut  bool

	// FragmentRequestID is the id of the fragment request published for
	// this aggregation, when one was attached.
	FragmentRequestID string
}

type pending struct {
	studentID string
	fragments map[string]json.RawMessage
	timer     *time.Timer
	sentID    string
}

// Aggregator tracks in-flight aggregations keyed by request id. Each one
// finishes exactly once: either when its last expected fragment arrives or
// when its timer fires, whichever takes the pending entry first.
type Aggregator struct {
	deliver  func(Result)
	expected []string
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]*pending
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithFragments sets the fragment names a complete model needs.
func WithFragments(names ...string) AggregatorOption {
	return func(a *Aggregator) {
		if len(names) > 0 {
			a.expected = names
		}
	}
}

// NewAggregator returns an Aggregator that hands every finished aggregation
// to deliver. deliver runs outside the aggregator lock.
func NewAggregator(deliver func(Result), opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		deliver:  deliver,
		expected: DefaultFragments,
		timeout:  DefaultTimeout,
		pending:  make(map[string]*pending),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start begins an aggregation for requestID. Starting an id that is already
// pending replaces it without delivering the old one.
func (a *Aggregator) Start(requestID, studentID string) {
	p := &pending{studentID: studentID, fragments: make(map[string]json.RawMessage)}

	a.mu.Lock()
	defer a.mu.Unlock()
	if old, ok := a.pending[requestID]; ok {
		old.timer.Stop()
	}
	a.pending[requestID] = p
	p.timer = time.AfterFunc(a.timeout, func() { a.expire(requestID, p) })
}

// Attach records the fragment request published for requestID. It reports
// false when the aggregation has already finished.
func (a *Aggregator) Attach(requestID, fragmentRequestID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[requestID]
	if !ok {
		return false
	}
	p.sentID = fragmentRequestID
	return true
}

// Add stores one fragment. Unknown request ids and fragment names are
// ignored and reported as false. The fragment that completes the model
// delivers the result.
func (a *Aggregator) Add(requestID, name string, fragment json.RawMessage) bool {
	if !slices.Contains(a.expected, name) {
		return false
	}

	a.mu.Lock()
	p, ok := a.pending[requestID]
	if !ok {
		a.mu.Unlock()
		return false
	}
	p.fragments[name] = fragment
	done := len(p.fragments) == len(a.expected)
	if done {
		delete(a.pending, requestID)
		p.timer.Stop()
	}
	a.mu.Unlock()

	if done {
		a.deliver(p.result(requestID, false))
	}
	return true
}

// Cancel drops an aggregation without delivering it.
func (a *Aggregator) Cancel(requestID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pending[requestID]; ok {
		p.timer.Stop()
		delete(a.pending, requestID)
	}
}

// Pending returns the number of unfinished aggregations.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Aggregator) expire(requestID string, p *pending) {
	a.mu.Lock()
	// A later Start may have reused the id.
	if a.pending[requestID] != p {
		a.mu.Unlock()
		return
	}
	delete(a.pending, requestID)
	a.mu.Unlock()

	a.deliver(p.result(requestID, true))
}

// result is only called after p left the pending map, so no writer remains.
func (p *pending) result(requestID string, timedOut bool) Result {
	fragments := make(map[string]json.RawMessage, len(p.fragments))
	for k, v := range p.fragments {
		fragments[k] = v
	}
	return Result{
		RequestID:         requestID,
		StudentID:         p.studentID,
		Fragments:         fragments,
		TimedOut:          timedOut,
		FragmentRequestID: p.sentID,
	}
}
