package twamp

import (
	"fmt"
	"sync"
	"time"

	"vmark.io/vmark-node/internal/metrics"
	"vmark.io/vmark-node/internal/xerr"
)

// SessionKey identifies a TWAMP session by address family and port (for
// responders) or family/destination/port (for senders).
type SessionKey struct {
	IPVersion int
	DestIP    string
	Port      int
}

func (k SessionKey) String() string {
	if k.DestIP == "" {
		return fmt.Sprintf("ipv%d:%d", k.IPVersion, k.Port)
	}
	return fmt.Sprintf("ipv%d:%s:%d", k.IPVersion, k.DestIP, k.Port)
}

// StatusState is the result of a sender status query.
type StatusState int

const (
	StatusUnknown StatusState = iota
	StatusRunning
	StatusCompleted
)

// sessionTask is the subset common to reflector and sender tasks: start
// in the background, stop and wait for exit.
type sessionTask interface {
	Start()
	Stop()
}

type storedResult struct {
	timestamp time.Time
	result    Result
}

// Registry tracks every live responder and sender task, plus completed
// sender results awaiting collection. One mutex guards all three maps,
// mirroring the single resultsMu the teacher uses for its monitor
// results map, generalized to cover task lifecycle as well as results.
type Registry struct {
	mu sync.Mutex

	responders map[SessionKey]sessionTask
	senders    map[SessionKey]sessionTask
	results    map[SessionKey]storedResult

	metrics *metrics.Metrics
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		responders: make(map[SessionKey]sessionTask),
		senders:    make(map[SessionKey]sessionTask),
		results:    make(map[SessionKey]storedResult),
	}
}

// SetMetrics injects the collector the registry reports active session
// counts and packet totals to. Optional: a Registry with no metrics set
// simply skips recording.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

func (r *Registry) countActive(role string, delta float64) {
	if r.metrics == nil {
		return
	}
	r.metrics.TWAMPSessionsActive.WithLabelValues(role).Add(delta)
}

// StartResponder registers and starts a reflector task under key.
// Refuses to overwrite a live task with the same key.
func (r *Registry) StartResponder(key SessionKey, task *ReflectorTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.responders[key]; ok {
		return xerr.Errorf(xerr.KindConflict, "a responder is already running for %s", key)
	}
	task.Start()
	r.responders[key] = task
	r.countActive("responder", 1)
	return nil
}

// StopResponder removes and stops the responder at key, joining with a
// bounded timeout.
func (r *Registry) StopResponder(key SessionKey) (bool, error) {
	r.mu.Lock()
	task, ok := r.responders[key]
	if ok {
		delete(r.responders, key)
	}
	r.mu.Unlock()

	if !ok {
		return false, xerr.Errorf(xerr.KindNotFound, "no responder running for %s", key)
	}
	r.countActive("responder", -1)
	return stopWithTimeout(task), nil
}

// StartSender registers and starts a sender task under key, wiring its
// result callback to deposit the completed record into Registry.results.
// Refuses to overwrite a live task with the same key.
func (r *Registry) StartSender(key SessionKey, newTask func(onComplete ResultCallback) (*SenderTask, error)) error {
	r.mu.Lock()
	if _, ok := r.senders[key]; ok {
		r.mu.Unlock()
		return xerr.Errorf(xerr.KindConflict, "a sender is already running for %s", key)
	}
	r.mu.Unlock()

	task, err := newTask(func(_ string, result Result) {
		r.mu.Lock()
		delete(r.senders, key)
		r.results[key] = storedResult{timestamp: time.Now(), result: result}
		r.mu.Unlock()
		r.countActive("sender", -1)
		r.countPackets(result)
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.senders[key]; ok {
		r.mu.Unlock()
		task.Stop()
		return xerr.Errorf(xerr.KindConflict, "a sender is already running for %s", key)
	}
	task.Start()
	r.senders[key] = task
	r.mu.Unlock()
	r.countActive("sender", 1)
	return nil
}

func (r *Registry) countPackets(result Result) {
	if r.metrics == nil {
		return
	}
	r.metrics.TWAMPPacketsTx.Add(float64(result.PacketsTx))
	r.metrics.TWAMPPacketsRx.Add(float64(result.PacketsRx))
}

// StopSender removes and stops the sender at key.
func (r *Registry) StopSender(key SessionKey) (bool, error) {
	r.mu.Lock()
	task, ok := r.senders[key]
	if ok {
		delete(r.senders, key)
	}
	r.mu.Unlock()

	if !ok {
		return false, xerr.Errorf(xerr.KindNotFound, "no sender running for %s", key)
	}
	// The task's completion callback also runs after a stop and decrements
	// the active-session gauge there.
	return stopWithTimeout(task), nil
}

// SenderStatus reports running/completed/unknown for key. A completed
// result is removed from the registry once read.
func (r *Registry) SenderStatus(key SessionKey) (StatusState, Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.senders[key]; ok {
		return StatusRunning, Result{}
	}
	if stored, ok := r.results[key]; ok {
		delete(r.results, key)
		return StatusCompleted, stored.result
	}
	return StatusUnknown, Result{}
}

// stopTimeout bounds how long Stop waits for a task's goroutine to join.
const stopTimeout = 2 * time.Second

func stopWithTimeout(task sessionTask) bool {
	done := make(chan struct{})
	go func() {
		task.Stop()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(stopTimeout):
		return false
	}
}
