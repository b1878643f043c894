package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Notify(sev Severity, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sev.String()+" "+msg)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a, b := &recorder{}, &recorder{}
	Multi{a, b}.Notify(Warn, "drift detected")

	assert.Equal(t, []string{"WARN drift detected"}, a.all())
	assert.Equal(t, []string{"WARN drift detected"}, b.all())
}

func TestAsyncDelivers(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := NewAsync(rec, 8)
	a.Notify(Critical, "kill switch tripped")
	a.Close()

	assert.Eventually(t, func() bool {
		msgs := rec.all()
		return len(msgs) == 1 && msgs[0] == "CRITICAL kill switch tripped"
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncNeverBlocks(t *testing.T) {
	t.Parallel()

	// A sink that never returns must not stall callers.
	stuck := make(chan struct{})
	blocked := notifierFunc(func(Severity, string) { <-stuck })

	a := NewAsync(blocked, 2)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			a.Notify(Info, "cycle ok")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a stuck sink")
	}
	close(stuck)
}

type notifierFunc func(Severity, string)

func (f notifierFunc) Notify(sev Severity, msg string) { f(sev, msg) }
