package models

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCleanupLoop_EvictsAndStops(t *testing.T) {
	var calls, reclaims atomic.Int32
	m := New(
		WithIdleTimeout(10*time.Millisecond),
		WithReclaim(func() { reclaims.Add(1) }),
		WithMemoryReporter(MemoryFunc(func() (uint64, error) { return 0, nil })),
	)
	m.Get("a", loaderFor(&fakeModel{}, &calls))

	loop := m.StartCleanupLoop(5 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for m.Has("a") {
		if time.Now().After(deadline) {
			t.Fatal("loop did not evict idle model")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.StopCleanupLoop()
	select {
	case <-loop.Done():
	default:
		t.Fatal("StopCleanupLoop should wait for the loop to exit")
	}

	// 停止后不再清理
	m.Get("b", loaderFor(&fakeModel{}, &calls))
	time.Sleep(50 * time.Millisecond)
	if !m.Has("b") {
		t.Fatal("stopped loop still evicting")
	}

	m.StopCleanupLoop()
}

func TestCleanupLoop_RestartReplacesPrevious(t *testing.T) {
	m := New(WithMemoryReporter(MemoryFunc(func() (uint64, error) { return 0, nil })))

	first := m.StartCleanupLoop(time.Hour)
	second := m.StartCleanupLoop(time.Hour)

	select {
	case <-first.Done():
	default:
		t.Fatal("starting a new loop should stop the previous one")
	}

	second.Stop()
	select {
	case <-second.Done():
	default:
		t.Fatal("Stop should wait for exit")
	}
}

func TestCleanupPass_RecoversPanic(t *testing.T) {
	var calls atomic.Int32
	m := New(
		WithIdleTimeout(time.Nanosecond),
		WithReclaim(func() { panic("reclaim failed") }),
		WithMemoryReporter(MemoryFunc(func() (uint64, error) { return 0, nil })),
	)
	m.Get("a", loaderFor(&fakeModel{}, &calls))
	time.Sleep(time.Millisecond)

	m.cleanupPass()
	if m.Has("a") {
		t.Fatal("entry should be evicted despite reclaim panic")
	}
}
