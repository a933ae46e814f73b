package workerpool

import (
	"sync"
	"testing"
	"time"
)

func TestSubmitRunsTask(t *testing.T) {
	p := New(2, 4)
	defer p.Shutdown()

	future, err := p.Submit(func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	val, err := future.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val.(int) != 42 {
		t.Errorf("got %v, want 42", val)
	}
}

func TestSubmitPropagatesError(t *testing.T) {
	p := New(1, 4)
	defer p.Shutdown()

	wantErr := ErrPoolShutdown // any sentinel works here, just checking propagation
	future, err := p.Submit(func() (any, error) { return nil, wantErr })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, gotErr := future.Get()
	if gotErr != wantErr {
		t.Errorf("got %v, want %v", gotErr, wantErr)
	}
}

func TestSubmitBlocksUnderBackpressure(t *testing.T) {
	p := New(1, 1)
	defer p.Shutdown()

	release := make(chan struct{})
	// occupy the single worker
	_, err := p.Submit(func() (any, error) { <-release; return nil, nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// fill the queue
	_, err = p.Submit(func() (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	submitted := make(chan struct{})
	go func() {
		p.Submit(func() (any, error) { return nil, nil })
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatalf("expected Submit to block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-submitted
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	p := New(1, 1)
	p.Shutdown()

	if _, err := p.Submit(func() (any, error) { return nil, nil }); err != ErrPoolShutdown {
		t.Errorf("got %v, want ErrPoolShutdown", err)
	}
}

// TestConcurrentSubmitDuringShutdownDoesNotPanic exercises Submit and
// Shutdown racing each other: Submit must never send on a closed
// p.tasks, since that would panic rather than return ErrPoolShutdown.
func TestConcurrentSubmitDuringShutdownDoesNotPanic(t *testing.T) {
	p := New(4, 4)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Submit(func() (any, error) { return nil, nil })
		}()
	}

	go p.Shutdown()
	wg.Wait()
}

func TestShutdownDrainsQueuedTasks(t *testing.T) {
	p := New(1, 8)

	var mu sync.Mutex
	ran := 0
	var futures []*Future
	for i := 0; i < 5; i++ {
		f, err := p.Submit(func() (any, error) {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		futures = append(futures, f)
	}

	p.Shutdown()
	for _, f := range futures {
		f.Get()
	}

	mu.Lock()
	defer mu.Unlock()
	if ran != 5 {
		t.Errorf("expected all 5 queued tasks to run before Shutdown returns, ran %d", ran)
	}
}
