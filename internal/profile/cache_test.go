package profile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeLookup struct {
	calls atomic.Int32
	fail  atomic.Bool
	gate  chan struct{}
}

func (f *fakeLookup) User(_ context.Context, id int64) (Profile, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.fail.Load() {
		return Profile{}, errors.New("backend down")
	}
	return Profile{Username: "user" + string(rune('0'+id))}, nil
}

func newTestCache(l Lookup) (*Cache, *time.Time) {
	c := NewCache(l, time.Minute, nil, nil)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestFreshHit(t *testing.T) {
	l := &fakeLookup{}
	c, _ := newTestCache(l)
	ctx := context.Background()

	p := c.Get(ctx, 1)
	if p.Username != "user1" || p.ID != 1 || p.Stale || p.Placeholder {
		t.Fatalf("profile = %+v", p)
	}
	c.Get(ctx, 1)
	if n := l.calls.Load(); n != 1 {
		t.Errorf("lookups = %d, want 1", n)
	}
}

func TestExpiredIsRefetched(t *testing.T) {
	l := &fakeLookup{}
	c, now := newTestCache(l)
	ctx := context.Background()

	c.Get(ctx, 1)
	*now = now.Add(time.Minute)
	c.Get(ctx, 1)
	if n := l.calls.Load(); n != 2 {
		t.Errorf("lookups = %d, want 2", n)
	}
}

func TestStaleFallback(t *testing.T) {
	l := &fakeLookup{}
	c, now := newTestCache(l)
	ctx := context.Background()

	c.Get(ctx, 2)
	*now = now.Add(2 * time.Minute)
	l.fail.Store(true)

	p := c.Get(ctx, 2)
	if !p.Stale || p.Username != "user2" {
		t.Errorf("profile = %+v, want stale user2", p)
	}
	// The stale entry is not refreshed, so the next call retries.
	c.Get(ctx, 2)
	if n := l.calls.Load(); n != 3 {
		t.Errorf("lookups = %d, want 3", n)
	}
}

func TestPlaceholderNotCached(t *testing.T) {
	l := &fakeLookup{}
	l.fail.Store(true)
	c, _ := newTestCache(l)
	ctx := context.Background()

	p := c.Get(ctx, 3)
	if !p.Placeholder || p.Name() != PlaceholderName {
		t.Fatalf("profile = %+v, want placeholder", p)
	}
	if _, ok := c.Peek(3); ok {
		t.Error("placeholder was cached")
	}

	l.fail.Store(false)
	if p := c.Get(ctx, 3); p.Placeholder || p.Username != "user3" {
		t.Errorf("retry = %+v", p)
	}
	if n := l.calls.Load(); n != 2 {
		t.Errorf("lookups = %d, want 2", n)
	}
}

func TestConcurrentMissesShareLookup(t *testing.T) {
	l := &fakeLookup{gate: make(chan struct{})}
	c, _ := newTestCache(l)

	var wg sync.WaitGroup
	results := make([]Profile, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Get(context.Background(), 4)
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(l.gate)
	wg.Wait()

	if n := l.calls.Load(); n != 1 {
		t.Errorf("lookups = %d, want 1", n)
	}
	for i, p := range results {
		if p.Username != "user4" {
			t.Errorf("result %d = %+v", i, p)
		}
	}
}

func TestInvalidateAndReset(t *testing.T) {
	l := &fakeLookup{}
	c, _ := newTestCache(l)
	ctx := context.Background()

	c.Get(ctx, 1)
	c.Invalidate(1)
	c.Get(ctx, 1)
	c.Put(Profile{ID: 5, DisplayName: "Eve"})
	c.Reset()
	if _, ok := c.Peek(5); ok {
		t.Error("entry survived Reset")
	}
	if n := l.calls.Load(); n != 2 {
		t.Errorf("lookups = %d, want 2", n)
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		p    Profile
		want string
	}{
		{Profile{ID: 1, DisplayName: "Ana", Username: "ana"}, "Ana"},
		{Profile{ID: 1, Username: "ana"}, "ana"},
		{Profile{ID: 1, Placeholder: true}, PlaceholderName},
		{Profile{ID: 7}, "User 7"},
	}
	for _, tt := range tests {
		if got := tt.p.Name(); got != tt.want {
			t.Errorf("Name(%+v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}
