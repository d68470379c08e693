package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	var inside, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "cart:t1:u1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			defer release()

			if inside.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(100 * time.Microsecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if overlaps.Load() != 0 {
		t.Errorf("permit held concurrently %d time(s)", overlaps.Load())
	}
	if n := locker.Len(); n != 0 {
		t.Errorf("expected idle keys to be dropped, %d left", n)
	}
}

func TestKeyedLocker_DifferentKeysDoNotBlock(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "cart:t1:u1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	other, err := locker.Acquire(short, "cart:t1:u2")
	if err != nil {
		t.Fatalf("expected other key to be free, got %v", err)
	}
	other()

	other, err = locker.Acquire(short, "cart:t2:u1")
	if err != nil {
		t.Fatalf("expected same user in other tenant to be free, got %v", err)
	}
	other()
}

func TestKeyedLocker_ContextCancel(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(short, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if n := locker.Len(); n != 1 {
		t.Errorf("expected only the holder to remain, got %d keys", n)
	}

	release()
	release() // second call is a no-op

	again, err := locker.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	again()

	if n := locker.Len(); n != 0 {
		t.Errorf("expected no keys, got %d", n)
	}
}
