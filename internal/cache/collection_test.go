package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCollection_FetchesOnceAndCaches(t *testing.T) {
	var calls atomic.Int32
	c := NewCollection("devices", func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"a", "b"}, nil
	})

	for i := 0; i < 3; i++ {
		items, err := c.GetOrFetch(context.Background())
		if err != nil {
			t.Fatalf("GetOrFetch() error = %v", err)
		}
		if len(items) != 2 {
			t.Errorf("items = %v", items)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", calls.Load())
	}
	if c.FetchedAt().IsZero() {
		t.Error("FetchedAt() is zero after fetch")
	}
}

func TestCollection_ConcurrentFirstAccessSharesFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := NewCollection("processes", func(context.Context) ([]int, error) {
		calls.Add(1)
		<-release
		return []int{1}, nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrFetch(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("GetOrFetch() error = %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", calls.Load())
	}
}

func TestCollection_ErrorIsNotCached(t *testing.T) {
	var calls atomic.Int32
	c := NewCollection("devices", func(context.Context) ([]int, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("cloud unreachable")
		}
		return []int{42}, nil
	})

	if _, err := c.GetOrFetch(context.Background()); err == nil {
		t.Fatal("first GetOrFetch() expected error")
	}
	items, err := c.GetOrFetch(context.Background())
	if err != nil || len(items) != 1 {
		t.Fatalf("second GetOrFetch() = %v, %v", items, err)
	}
}

func TestCollection_Invalidate(t *testing.T) {
	var calls atomic.Int32
	c := NewCollection("devices", func(context.Context) ([]int32, error) {
		return []int32{calls.Add(1)}, nil
	})

	first, _ := c.GetOrFetch(context.Background())
	c.Invalidate()
	if !c.FetchedAt().IsZero() {
		t.Error("FetchedAt() should be zero after Invalidate")
	}
	second, _ := c.GetOrFetch(context.Background())

	if first[0] != 1 || second[0] != 2 {
		t.Errorf("first=%v second=%v, want refetch after Invalidate", first, second)
	}
}

func TestCollection_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := NewCollection("devices", func(context.Context) ([]int, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.GetOrFetch(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetOrFetch() error = %v, want DeadlineExceeded", err)
	}
}

func TestCollection_Set(t *testing.T) {
	c := NewCollection("processes", func(context.Context) ([]string, error) {
		t.Error("fetch should not be called after Set")
		return nil, nil
	})
	c.Set([]string{"mirror"})

	items, err := c.GetOrFetch(context.Background())
	if err != nil || len(items) != 1 || items[0] != "mirror" {
		t.Errorf("GetOrFetch() = %v, %v", items, err)
	}
}
