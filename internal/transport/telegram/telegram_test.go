package telegram

import (
	"context"
	"sync"
	"testing"

	logx "sheetbot/pkg/logx"
)

func TestStopOnceInvokesExactlyOnce(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	calls := 0
	stop := stopOnce(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	// Shutdown races: the context watcher and Stop() may both call it.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop()
		}()
	}
	wg.Wait()
	stop()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("stop invoked %d times, want 1", calls)
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	t.Parallel()
	a := &Adapter{}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on idle adapter: %v", err)
	}
	// Stop is idempotent.
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
