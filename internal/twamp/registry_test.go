package twamp

import (
	"testing"
	"time"

	"vmark.io/vmark-node/internal/xerr"
)

type fakeTask struct {
	started bool
	stopped chan struct{}
}

func newFakeTask() *fakeTask { return &fakeTask{stopped: make(chan struct{})} }

func (f *fakeTask) Start() { f.started = true }
func (f *fakeTask) Stop()  { close(f.stopped) }

func TestRegistryStartResponderRefusesDuplicateKey(t *testing.T) {
	r := NewRegistry()
	key := SessionKey{IPVersion: 4, Port: 862}

	r.mu.Lock()
	r.responders[key] = newFakeTask()
	r.mu.Unlock()

	port := freeUDPPort(t)
	task, err := NewReflectorTask("udp4", "127.0.0.1", port, 0, nil)
	if err != nil {
		t.Fatalf("NewReflectorTask: %v", err)
	}
	defer task.Stop()

	if err := r.StartResponder(key, task); xerr.GetKind(err) != xerr.KindConflict {
		t.Errorf("expected KindConflict, got %v", xerr.GetKind(err))
	}
}

func TestRegistryStopResponderNotFound(t *testing.T) {
	r := NewRegistry()
	if _, err := r.StopResponder(SessionKey{IPVersion: 4, Port: 862}); xerr.GetKind(err) != xerr.KindNotFound {
		t.Errorf("expected KindNotFound, got %v", xerr.GetKind(err))
	}
}

func TestRegistrySenderLifecycleAndStatus(t *testing.T) {
	r := NewRegistry()
	key := SessionKey{IPVersion: 4, DestIP: "127.0.0.1", Port: 40000}

	port := freeUDPPort(t)
	reflector, err := NewReflectorTask("udp4", "127.0.0.1", port, 0, nil)
	if err != nil {
		t.Fatalf("NewReflectorTask: %v", err)
	}
	defer reflector.Stop()
	reflector.Start()

	err = r.StartSender(key, func(onComplete ResultCallback) (*SenderTask, error) {
		return NewSenderTask("udp4", SenderParams{
			DestAddr: "127.0.0.1",
			DestPort: port,
			Count:    2,
			Interval: 30 * time.Millisecond,
		}, key.String(), onComplete, nil)
	})
	if err != nil {
		t.Fatalf("StartSender: %v", err)
	}

	if state, _ := r.SenderStatus(key); state != StatusRunning {
		t.Errorf("expected StatusRunning immediately after start, got %v", state)
	}

	if err := r.StartSender(key, func(onComplete ResultCallback) (*SenderTask, error) {
		return NewSenderTask("udp4", SenderParams{DestAddr: "127.0.0.1", DestPort: port, Count: 1, Interval: time.Second}, key.String(), onComplete, nil)
	}); xerr.GetKind(err) != xerr.KindConflict {
		t.Errorf("expected KindConflict starting a duplicate sender, got %v", xerr.GetKind(err))
	}

	deadline := time.Now().Add(5 * time.Second)
	var state StatusState
	for time.Now().Before(deadline) {
		state, _ = r.SenderStatus(key)
		if state == StatusCompleted {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if state != StatusCompleted {
		t.Fatalf("expected sender to complete within the deadline, last status %v", state)
	}

	if state, _ := r.SenderStatus(key); state != StatusUnknown {
		t.Errorf("expected StatusUnknown after the completed result is collected once, got %v", state)
	}
}

func TestRegistryStopSenderJoinsTask(t *testing.T) {
	r := NewRegistry()
	key := SessionKey{IPVersion: 4, DestIP: "127.0.0.1", Port: 862}
	task := newFakeTask()

	r.mu.Lock()
	r.senders[key] = task
	r.mu.Unlock()

	ok, err := r.StopSender(key)
	if err != nil {
		t.Fatalf("StopSender: %v", err)
	}
	if !ok {
		t.Error("expected StopSender to report a clean join")
	}
	select {
	case <-task.stopped:
	default:
		t.Error("expected task.Stop to have been called")
	}
}
