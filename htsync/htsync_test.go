package htsync

import (
	"testing"
	"time"

	"github.com/yeyue1/htos/htmem"
	"github.com/yeyue1/htos/htport/cortexm"
	"github.com/yeyue1/htos/htsched"
)

func newTestScheduler(t *testing.T) *htsched.Scheduler {
	t.Helper()
	ram := cortexm.NewRAM(cortexm.RAMBase, 4096)
	mem := htmem.NewArena(cortexm.RAMBase, 4096*4)
	s := htsched.New(htsched.Config{PrioMax: 8, MinStackWords: 32}, ram, mem)
	t.Cleanup(s.Stop)
	return s
}

func TestBinarySemaphoreStartsEmpty(t *testing.T) {
	s := newTestScheduler(t)
	sem, err := NewBinary(s)
	if err != nil {
		t.Fatalf("NewBinary: %v", err)
	}
	if err := sem.Take(0); err == nil {
		t.Fatal("Take on freshly created binary semaphore should fail: not yet given")
	}
	if err := sem.Give(); err != nil {
		t.Fatalf("Give: %v", err)
	}
	if err := sem.Take(0); err != nil {
		t.Fatalf("Take after Give: %v", err)
	}
}

func TestCountingSemaphoreInitialCount(t *testing.T) {
	s := newTestScheduler(t)
	sem, err := NewCounting(s, 3, 2)
	if err != nil {
		t.Fatalf("NewCounting: %v", err)
	}
	if sem.Count() != 2 {
		t.Fatalf("Count = %d, want 2", sem.Count())
	}
	if _, err := NewCounting(s, 2, 3); err == nil {
		t.Fatal("expected error for initial > max")
	}
}

// TestMutexPriorityInheritance reproduces the classic priority
// inversion scenario (spec section 8): a low-priority task holds a
// mutex a high-priority task then blocks on; the holder must be
// boosted so a medium-priority task cannot starve it, and restored to
// its base priority on release.
func TestMutexPriorityInheritance(t *testing.T) {
	s := newTestScheduler(t)
	mtx, err := NewMutex(s)
	if err != nil {
		t.Fatalf("NewMutex: %v", err)
	}

	lowAcquired := make(chan struct{})
	lowBoosted := make(chan int, 1)
	lowDone := make(chan struct{})
	lowTCB, err := s.Create(func(ctx *htsched.Context, _ any) {
		if err := mtx.Lock(htsched.WaitForever); err != nil {
			t.Errorf("low Lock: %v", err)
		}
		close(lowAcquired)
		// Hold the mutex until boosted by the high-priority waiter,
		// then observe the boosted priority and release.
		for s.PriorityGet(ctx.TCB()) == 1 {
			ctx.Yield()
		}
		lowBoosted <- s.PriorityGet(ctx.TCB())
		if err := mtx.Unlock(); err != nil {
			t.Errorf("low Unlock: %v", err)
		}
		close(lowDone)
	}, "low", 32, nil, 1)
	if err != nil {
		t.Fatalf("Create low: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-lowAcquired:
	case <-time.After(time.Second):
		t.Fatal("low-priority task never acquired the mutex")
	}

	highDone := make(chan struct{})
	_, err = s.Create(func(ctx *htsched.Context, _ any) {
		if err := mtx.Lock(htsched.WaitForever); err != nil {
			t.Errorf("high Lock: %v", err)
		}
		if err := mtx.Unlock(); err != nil {
			t.Errorf("high Unlock: %v", err)
		}
		close(highDone)
	}, "high", 32, nil, 6)
	if err != nil {
		t.Fatalf("Create high: %v", err)
	}

	select {
	case boosted := <-lowBoosted:
		if boosted != 6 {
			t.Fatalf("holder boosted to %d, want 6", boosted)
		}
	case <-time.After(time.Second):
		t.Fatal("holder was never boosted")
	}

	select {
	case <-highDone:
	case <-time.After(time.Second):
		t.Fatal("high-priority task never completed")
	}
	select {
	case <-lowDone:
	case <-time.After(time.Second):
		t.Fatal("low-priority task never completed")
	}

	if got := s.PriorityGet(lowTCB); got != 1 {
		t.Fatalf("low task's priority after release = %d, want restored to 1", got)
	}
}

func TestRecursiveMutexNests(t *testing.T) {
	s := newTestScheduler(t)
	rm, err := NewRecursiveMutex(s)
	if err != nil {
		t.Fatalf("NewRecursiveMutex: %v", err)
	}

	done := make(chan struct{})
	_, err = s.Create(func(ctx *htsched.Context, _ any) {
		if err := rm.Lock(htsched.WaitForever); err != nil {
			t.Errorf("outer Lock: %v", err)
		}
		if err := rm.Lock(htsched.WaitForever); err != nil {
			t.Errorf("nested Lock: %v", err)
		}
		if err := rm.Unlock(); err != nil {
			t.Errorf("inner Unlock: %v", err)
		}
		if rm.Holder() == nil {
			t.Error("mutex released after inner Unlock, want still held")
		}
		if err := rm.Unlock(); err != nil {
			t.Errorf("outer Unlock: %v", err)
		}
		if rm.Holder() != nil {
			t.Error("mutex still held after matching Unlock count")
		}
		close(done)
	}, "recursive", 32, nil, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recursive mutex test never completed")
	}
}
