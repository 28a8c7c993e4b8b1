package models

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeModel struct {
	name   string
	closed atomic.Int32
}

func (f *fakeModel) Close() { f.closed.Add(1) }

// fakeClock 可手动推进的时间源。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	mu      sync.Mutex
	loaded  []string
	removed map[string]Event
}

func (o *recordingObserver) ModelLoaded(name string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loaded = append(o.loaded, name)
}

func (o *recordingObserver) ModelRemoved(name string, event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.removed == nil {
		o.removed = make(map[string]Event)
	}
	o.removed[name] = event
}

func newTestManager(clock *fakeClock, reclaims *atomic.Int32, opts ...Option) *Manager {
	base := []Option{
		WithIdleTimeout(300 * time.Second),
		WithClock(clock.Now),
		WithReclaim(func() { reclaims.Add(1) }),
		WithMemoryReporter(MemoryFunc(func() (uint64, error) { return 512_000_000, nil })),
	}
	return New(append(base, opts...)...)
}

func loaderFor(model *fakeModel, calls *atomic.Int32) LoadFunc {
	return func() (Model, error) {
		calls.Add(1)
		return model, nil
	}
}

func TestGet_LoadsOnceAndReusesHandle(t *testing.T) {
	var calls, reclaims atomic.Int32
	m := newTestManager(newFakeClock(), &reclaims)
	model := &fakeModel{name: "a"}

	first, err := m.Get("a", loaderFor(model, &calls))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := m.Get("a", loaderFor(&fakeModel{}, &calls))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if first != second || first != Model(model) {
		t.Fatal("hit should return the resident handle")
	}
	if calls.Load() != 1 {
		t.Fatalf("load called %d times, want 1", calls.Load())
	}
}

func TestGet_ConcurrentSameNameLoadsOnce(t *testing.T) {
	var calls, reclaims atomic.Int32
	m := newTestManager(newFakeClock(), &reclaims)

	model := &fakeModel{name: "a"}
	load := func() (Model, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return model, nil
	}

	const n = 32
	var wg sync.WaitGroup
	results := make([]Model, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := m.Get("a", load)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("load called %d times, want 1", calls.Load())
	}
	for i, got := range results {
		if got != Model(model) {
			t.Fatalf("result %d is not the shared handle", i)
		}
	}
	if len(m.loading) != 0 {
		t.Errorf("per-name locks should be cleaned up, got %d", len(m.loading))
	}
}

func TestGet_DistinctNamesLoadInParallel(t *testing.T) {
	var reclaims atomic.Int32
	m := newTestManager(newFakeClock(), &reclaims)

	started := make(chan struct{}, 2)
	proceed := make(chan struct{})
	load := func() (Model, error) {
		started <- struct{}{}
		<-proceed
		return &fakeModel{}, nil
	}

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := m.Get(name, load); err != nil {
				t.Errorf("Get(%s): %v", name, err)
			}
		}(name)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("loads of different names should not block each other")
		}
	}
	close(proceed)
	wg.Wait()

	if got := m.List(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("List = %v", got)
	}
}

func TestGet_LoadFailureLeavesTableUnchanged(t *testing.T) {
	var reclaims atomic.Int32
	m := newTestManager(newFakeClock(), &reclaims)
	boom := errors.New("model file missing")

	_, err := m.Get("broken", func() (Model, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if m.Has("broken") || m.Stats().Count != 0 {
		t.Fatal("failed load must not insert an entry")
	}

	// 失败后可以重试
	var calls atomic.Int32
	if _, err := m.Get("broken", loaderFor(&fakeModel{}, &calls)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("retry should call load once, got %d", calls.Load())
	}
}

func TestGet_NilModelIsError(t *testing.T) {
	var reclaims atomic.Int32
	m := newTestManager(newFakeClock(), &reclaims)

	if _, err := m.Get("nil", func() (Model, error) { return nil, nil }); err == nil {
		t.Fatal("expected error for nil model")
	}
	if m.Has("nil") {
		t.Fatal("nil model must not be inserted")
	}
}

func TestGet_LoadTimeStableAndLastAccessMonotonic(t *testing.T) {
	var calls, reclaims atomic.Int32
	clock := newFakeClock()
	m := newTestManager(clock, &reclaims)

	slow := func() (Model, error) {
		calls.Add(1)
		clock.Advance(2 * time.Second)
		return &fakeModel{}, nil
	}
	if _, err := m.Get("a", slow); err != nil {
		t.Fatal(err)
	}

	before := m.Entries()[0]
	if before.LoadTime != 2*time.Second {
		t.Fatalf("LoadTime = %s, want 2s", before.LoadTime)
	}

	clock.Advance(10 * time.Second)
	m.Get("a", slow)
	after := m.Entries()[0]

	if after.LoadTime != before.LoadTime {
		t.Errorf("LoadTime changed: %s -> %s", before.LoadTime, after.LoadTime)
	}
	if !after.LastAccess.After(before.LastAccess) {
		t.Errorf("LastAccess should advance: %s -> %s", before.LastAccess, after.LastAccess)
	}
	if !after.LoadedAt.Equal(before.LoadedAt) {
		t.Errorf("LoadedAt changed on hit")
	}
}

func TestGetAsync_ReturnsModel(t *testing.T) {
	var calls, reclaims atomic.Int32
	m := newTestManager(newFakeClock(), &reclaims)
	model := &fakeModel{}

	got, err := m.GetAsync(context.Background(), "a", loaderFor(model, &calls))
	if err != nil {
		t.Fatalf("GetAsync: %v", err)
	}
	if got != Model(model) {
		t.Fatal("GetAsync returned wrong handle")
	}
}

func TestGetAsync_CancelledLoadStillInserts(t *testing.T) {
	var reclaims atomic.Int32
	m := newTestManager(newFakeClock(), &reclaims)

	proceed := make(chan struct{})
	done := make(chan struct{})
	load := func() (Model, error) {
		defer close(done)
		<-proceed
		return &fakeModel{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.GetAsync(ctx, "a", load); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(proceed)
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for !m.Has("a") {
		if time.Now().After(deadline) {
			t.Fatal("background load should still insert the entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelease(t *testing.T) {
	var calls, reclaims atomic.Int32
	obs := &recordingObserver{}
	m := newTestManager(newFakeClock(), &reclaims, WithObserver(obs))
	model := &fakeModel{}

	m.Get("a", loaderFor(model, &calls))

	if !m.Release("a") {
		t.Fatal("Release should report true for a resident model")
	}
	if m.Has("a") {
		t.Fatal("released model still resident")
	}
	if model.closed.Load() != 1 {
		t.Fatalf("Close called %d times, want 1", model.closed.Load())
	}
	if reclaims.Load() != 1 {
		t.Fatalf("reclaim called %d times, want 1", reclaims.Load())
	}
	if obs.removed["a"] != EventReleased {
		t.Errorf("observer event = %q", obs.removed["a"])
	}

	if m.Release("a") {
		t.Fatal("second Release should report false")
	}
	if reclaims.Load() != 1 {
		t.Fatal("Release of missing model must not reclaim")
	}

	// 卸载后再次获取会重新加载
	m.Get("a", loaderFor(&fakeModel{}, &calls))
	if calls.Load() != 2 {
		t.Fatalf("load calls = %d, want 2", calls.Load())
	}
}

func TestReleaseAll(t *testing.T) {
	var calls, reclaims atomic.Int32
	m := newTestManager(newFakeClock(), &reclaims)

	models := []*fakeModel{{}, {}, {}}
	for i, name := range []string{"a", "b", "c"} {
		m.Get(name, loaderFor(models[i], &calls))
	}

	m.ReleaseAll()

	stats := m.Stats()
	if stats.Count != 0 || len(stats.Models) != 0 {
		t.Fatalf("stats after ReleaseAll = %+v", stats)
	}
	for i, model := range models {
		if model.closed.Load() != 1 {
			t.Errorf("model %d closed %d times", i, model.closed.Load())
		}
	}
	if reclaims.Load() != 1 {
		t.Fatalf("reclaim called %d times, want 1", reclaims.Load())
	}

	m.ReleaseAll()
	if reclaims.Load() != 1 {
		t.Fatal("ReleaseAll on empty cache must not reclaim")
	}
}

func TestCleanupIdle_Boundary(t *testing.T) {
	var calls, reclaims atomic.Int32
	clock := newFakeClock()
	m := newTestManager(clock, &reclaims)

	m.Get("a", loaderFor(&fakeModel{}, &calls))

	clock.Advance(300 * time.Second)
	if evicted := m.CleanupIdle(); len(evicted) != 0 {
		t.Fatalf("entry idle exactly for the timeout must stay, evicted %v", evicted)
	}
	if reclaims.Load() != 0 {
		t.Fatal("no eviction means no reclaim")
	}

	clock.Advance(time.Nanosecond)
	evicted := m.CleanupIdle()
	if !reflect.DeepEqual(evicted, []string{"a"}) {
		t.Fatalf("evicted = %v, want [a]", evicted)
	}
	if reclaims.Load() != 1 {
		t.Fatalf("reclaim called %d times, want 1", reclaims.Load())
	}
}

func TestCleanupIdle_OnlyIdleEntries(t *testing.T) {
	var calls, reclaims atomic.Int32
	clock := newFakeClock()
	obs := &recordingObserver{}
	m := newTestManager(clock, &reclaims, WithObserver(obs))

	a := &fakeModel{}
	m.Get("A", loaderFor(a, &calls))
	clock.Advance(200 * time.Second)
	m.Get("B", loaderFor(&fakeModel{}, &calls))
	clock.Advance(150 * time.Second)

	evicted := m.CleanupIdle()
	if !reflect.DeepEqual(evicted, []string{"A"}) {
		t.Fatalf("evicted = %v, want [A]", evicted)
	}
	if got := m.List(); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("List = %v, want [B]", got)
	}
	if a.closed.Load() != 1 {
		t.Error("evicted model should be closed")
	}
	if reclaims.Load() != 1 {
		t.Errorf("reclaim called %d times, want 1", reclaims.Load())
	}
	if obs.removed["A"] != EventEvicted {
		t.Errorf("observer event = %q", obs.removed["A"])
	}
}

func TestCleanupIdle_HitRefreshesIdleClock(t *testing.T) {
	var calls, reclaims atomic.Int32
	clock := newFakeClock()
	m := newTestManager(clock, &reclaims)

	m.Get("a", loaderFor(&fakeModel{}, &calls))
	clock.Advance(250 * time.Second)
	m.Get("a", loaderFor(&fakeModel{}, &calls))
	clock.Advance(250 * time.Second)

	if evicted := m.CleanupIdle(); len(evicted) != 0 {
		t.Fatalf("recently used model evicted: %v", evicted)
	}
}

func TestCleanupIdle_Disabled(t *testing.T) {
	var calls, reclaims atomic.Int32
	clock := newFakeClock()
	m := newTestManager(clock, &reclaims, WithIdleTimeout(0))

	m.Get("a", loaderFor(&fakeModel{}, &calls))
	clock.Advance(24 * time.Hour)

	if evicted := m.CleanupIdle(); len(evicted) != 0 {
		t.Fatalf("idle eviction disabled, evicted %v", evicted)
	}
}

func TestStats(t *testing.T) {
	var calls, reclaims atomic.Int32
	m := newTestManager(newFakeClock(), &reclaims)

	m.Get("b", loaderFor(&fakeModel{}, &calls))
	m.Get("a", loaderFor(&fakeModel{}, &calls))

	stats := m.Stats()
	if stats.Count != len(stats.Models) || stats.Count != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if !reflect.DeepEqual(stats.Models, m.List()) {
		t.Errorf("Stats.Models %v != List %v", stats.Models, m.List())
	}
	if stats.MemoryMB != 512 {
		t.Errorf("MemoryMB = %v, want 512", stats.MemoryMB)
	}
}

func TestStats_MemoryReporterFailure(t *testing.T) {
	var reclaims atomic.Int32
	failing := MemoryFunc(func() (uint64, error) { return 0, errors.New("no procfs") })
	m := newTestManager(newFakeClock(), &reclaims, WithMemoryReporter(failing))

	if got := m.Stats().MemoryMB; got != 0 {
		t.Fatalf("MemoryMB = %v, want 0", got)
	}

	panicking := MemoryFunc(func() (uint64, error) { panic("boom") })
	m = newTestManager(newFakeClock(), &reclaims, WithMemoryReporter(panicking))
	if got := m.Stats().MemoryMB; got != 0 {
		t.Fatalf("MemoryMB = %v, want 0", got)
	}
}

func TestCloseModelPanicIsContained(t *testing.T) {
	var reclaims atomic.Int32
	m := newTestManager(newFakeClock(), &reclaims)

	m.Get("bad", func() (Model, error) { return panicModel{}, nil })
	if !m.Release("bad") {
		t.Fatal("Release should succeed even if Close panics")
	}
	if reclaims.Load() != 1 {
		t.Fatal("reclaim should still run")
	}
}

type panicModel struct{}

func (panicModel) Close() { panic("native free failed") }

func TestObserver_Loaded(t *testing.T) {
	var calls, reclaims atomic.Int32
	obs := &recordingObserver{}
	m := newTestManager(newFakeClock(), &reclaims, WithObserver(obs))

	m.Get("a", loaderFor(&fakeModel{}, &calls))
	m.Get("a", loaderFor(&fakeModel{}, &calls))

	if !reflect.DeepEqual(obs.loaded, []string{"a"}) {
		t.Fatalf("loaded events = %v", obs.loaded)
	}
}

func TestProcessMemory(t *testing.T) {
	bytes, err := NewProcessMemory().CurrentMemoryBytes()
	if err != nil {
		t.Skipf("process memory unavailable: %v", err)
	}
	if bytes == 0 {
		t.Error("expected non-zero RSS")
	}
}
