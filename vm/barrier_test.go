package vm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBarrierActionRunsOnce(t *testing.T) {
	const parties = 8
	b := NewBarrier(parties)
	var actions atomic.Int32

	for round := 0; round < 3; round++ {
		var wg sync.WaitGroup
		for i := 0; i < parties; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := b.Wait(context.Background(), func() error {
					actions.Add(1)
					return nil
				}); err != nil {
					t.Errorf("Wait failed: %v", err)
				}
			}()
		}
		wg.Wait()
	}

	if n := actions.Load(); n != 3 {
		t.Errorf("action ran %d times, want 3", n)
	}
	if n := b.Trips(); n != 3 {
		t.Errorf("Trips() = %d, want 3", n)
	}
}

func TestBarrierBreakReleasesWaiters(t *testing.T) {
	b := NewBarrier(3)
	boom := errors.New("boom")

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- b.Wait(context.Background(), nil)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	b.Break(boom)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, boom) {
				t.Errorf("Wait() = %v, want %v", err, boom)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("waiter not released")
		}
	}

	if err := b.Wait(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("Wait on broken barrier = %v, want %v", err, boom)
	}
	b.Break(errors.New("second"))
	if err := b.Broken(); !errors.Is(err, boom) {
		t.Errorf("Broken() = %v, want first error", err)
	}

	b.Reset()
	if b.Broken() != nil || b.Trips() != 0 {
		t.Error("Reset did not repair the barrier")
	}
}

func TestBarrierActionErrorBreaks(t *testing.T) {
	b := NewBarrier(2)
	boom := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		done <- b.Wait(context.Background(), nil)
	}()
	time.Sleep(10 * time.Millisecond)
	if err := b.Wait(context.Background(), func() error { return boom }); err != boom {
		t.Errorf("last arriver got %v, want %v", err, boom)
	}
	if err := <-done; err != boom {
		t.Errorf("waiter got %v, want %v", err, boom)
	}
	if b.Trips() != 0 {
		t.Errorf("Trips() = %d after failed action, want 0", b.Trips())
	}
}

func TestBarrierContextCancel(t *testing.T) {
	b := NewBarrier(2)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := b.Wait(ctx, nil)
	if !errors.Is(err, ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want aborted by cancellation", err)
	}
}

func TestBufferPool(t *testing.T) {
	p := NewBufferPool([]int{2, 3})
	if p.Len() != 2 || p.Bytes() != 20 {
		t.Errorf("Len, Bytes = %d, %d, want 2, 20", p.Len(), p.Bytes())
	}
	if err := p.Store(1, 2, -7); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if v, err := p.Load(1, 2); err != nil || v != -7 {
		t.Errorf("Load(1, 2) = %d, %v, want -7", v, err)
	}
	for _, idx := range [][2]int32{{2, 0}, {-1, 0}, {0, 2}, {0, -1}} {
		if _, err := p.Load(idx[0], idx[1]); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("Load(%d, %d) = %v, want out of bounds", idx[0], idx[1], err)
		}
	}

	snap := p.Buffers()
	snap[1][2] = 0
	if v, _ := p.Load(1, 2); v != -7 {
		t.Error("Buffers() did not copy")
	}
}
