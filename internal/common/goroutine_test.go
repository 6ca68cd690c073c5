package common

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

func TestSafeGoRunsFunctionAndIncrementsCounter(t *testing.T) {
	before := GetGoroutineCount()

	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	SafeGo(arbor.NewLogger(), "test-goroutine", func() {
		ran = true
		wg.Done()
	})
	wg.Wait()

	if !ran {
		t.Error("SafeGo() should have run the function")
	}
	if GetGoroutineCount() != before+1 {
		t.Errorf("GetGoroutineCount() = %d, want %d", GetGoroutineCount(), before+1)
	}
}

func TestSafeGoRecoversFromPanicWithoutCrashing(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	SafeGo(arbor.NewLogger(), "panicking-goroutine", func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait() // reaching here at all proves the panic was recovered, not propagated
}

func TestSafeGoWithContextRunsWhenContextNotCancelled(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	SafeGoWithContext(context.Background(), arbor.NewLogger(), "test-ctx-goroutine", func() {
		ran = true
		wg.Done()
	})
	wg.Wait()

	if !ran {
		t.Error("SafeGoWithContext() should run the function when the context is live")
	}
}

func TestSafeGoWithContextSkipsWhenContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	SafeGoWithContext(ctx, arbor.NewLogger(), "cancelled-goroutine", func() {
		ran = true
	})

	time.Sleep(50 * time.Millisecond)
	if ran {
		t.Error("SafeGoWithContext() should not run the function when the context is already cancelled")
	}
}
