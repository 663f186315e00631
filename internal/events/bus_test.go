package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haramshield/haramshield-go/internal/detection"
)

type recordingConsumer struct {
	mu      sync.Mutex
	signals []Signal
	fail    bool
	panic   bool
}

func (r *recordingConsumer) Name() string { return "recording" }

func (r *recordingConsumer) Consume(s Signal) error {
	if r.panic {
		panic("boom")
	}
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("consumer failure")
	}
	return nil
}

func (r *recordingConsumer) received() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}

func newTestBus(t *testing.T, cfg Config, consumers ...Consumer) *Bus {
	t.Helper()
	b := NewBus(cfg)
	for _, c := range consumers {
		require.NoError(t, b.Register(c))
	}
	b.Start()
	t.Cleanup(func() { _ = b.Shutdown(time.Second) })
	return b
}

func TestBusDeliversInOrder(t *testing.T) {
	t.Parallel()

	rec := &recordingConsumer{}
	b := newTestBus(t, Config{BufferSize: 16, DedupWindows: map[Kind]time.Duration{}}, rec)

	require.True(t, b.TryPublish(ForceHome("com.example.casino", "locked")))
	require.True(t, b.TryPublish(ShowBlock("com.example.casino", 10*time.Minute, detection.CategoryGambling)))
	require.True(t, b.TryPublish(Pulse("com.example.casino")))

	require.Eventually(t, func() bool { return len(rec.received()) == 3 }, time.Second, 5*time.Millisecond)
	got := rec.received()
	assert.Equal(t, KindForceHome, got[0].Kind)
	assert.Equal(t, KindShowBlock, got[1].Kind)
	assert.Equal(t, 10*time.Minute, got[1].Remaining)
	assert.Equal(t, KindPulse, got[2].Kind)
}

func TestBusDropsWhenFull(t *testing.T) {
	t.Parallel()

	// not started, so nothing drains the buffer
	b := NewBus(Config{BufferSize: 2})
	assert.True(t, b.TryPublish(Pulse("a")))
	assert.True(t, b.TryPublish(Pulse("b")))
	assert.False(t, b.TryPublish(Pulse("c")))

	st := b.Stats()
	assert.Equal(t, uint64(2), st.Published)
	assert.Equal(t, uint64(1), st.Dropped)
	require.NoError(t, b.Shutdown(time.Second))
}

func TestBusSuppressesDuplicateShowBlock(t *testing.T) {
	t.Parallel()

	rec := &recordingConsumer{}
	b := newTestBus(t, Config{BufferSize: 16}, rec)

	for range 5 {
		assert.True(t, b.TryPublish(ShowBlock("com.example.bar", time.Minute, detection.CategoryIntoxicant)))
	}
	assert.True(t, b.TryPublish(ShowBlock("com.example.other", time.Minute, detection.CategoryIntoxicant)))
	for range 3 {
		b.TryPublish(TamperDetected("com.android.settings", 1))
	}

	require.Eventually(t, func() bool { return len(rec.received()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(4), b.Stats().Suppressed)
}

func TestBusSurvivesConsumerFailures(t *testing.T) {
	t.Parallel()

	failing := &recordingConsumer{fail: true}
	panicking := &recordingConsumer{panic: true}
	healthy := &recordingConsumer{}
	b := newTestBus(t, Config{BufferSize: 8}, panicking, failing, healthy)

	b.TryPublish(Pulse("a"))
	b.TryPublish(Pulse("b"))

	require.Eventually(t, func() bool { return len(healthy.received()) == 2 }, time.Second, 5*time.Millisecond)
	st := b.Stats()
	assert.Equal(t, uint64(2), st.Panics)
	assert.Equal(t, uint64(2), st.Errors)
	assert.Equal(t, 3, st.Consumers)
}

func TestBusShutdownDrainsAndRejects(t *testing.T) {
	t.Parallel()

	rec := &recordingConsumer{}
	b := NewBus(Config{BufferSize: 8, DedupWindows: map[Kind]time.Duration{}})
	require.NoError(t, b.Register(rec))
	b.Start()

	for i := range 5 {
		b.TryPublish(Pulse(fmt.Sprint(i)))
	}
	require.NoError(t, b.Shutdown(time.Second))
	assert.Len(t, rec.received(), 5)

	assert.False(t, b.TryPublish(Pulse("late")))
	assert.Error(t, b.Register(&recordingConsumer{}), "running bus rejects registration")
	require.NoError(t, b.Shutdown(time.Second), "second shutdown is a no-op")
}

func TestChanConsumerFiltersKinds(t *testing.T) {
	t.Parallel()

	c := NewChanConsumer("ui", 1, KindShowBlock)
	require.NoError(t, c.Consume(Pulse("a")))
	require.NoError(t, c.Consume(ShowBlock("a", time.Minute, detection.CategoryExplicit)))
	require.NoError(t, c.Consume(ShowBlock("b", time.Minute, detection.CategoryExplicit)))

	s := <-c.C()
	assert.Equal(t, "a", s.Package)
	assert.Equal(t, uint64(1), c.Dropped())
	select {
	case extra := <-c.C():
		t.Fatalf("unexpected signal %v", extra)
	default:
	}
}

func TestSignalString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "show-block(pkg gambling 1m30s)",
		ShowBlock("pkg", 90*time.Second, detection.CategoryGambling).String())
	assert.Equal(t, "tamper(settings attempts=3)", TamperDetected("settings", 3).String())
	assert.Equal(t, "pulse(pkg)", Pulse("pkg").String())
	assert.Equal(t, "abc", Pulse("pkg").WithTrace("abc").TraceID)
}
