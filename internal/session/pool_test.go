package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

func newTestPool(t *testing.T, n int) (*Pool, []*fakeClient) {
	t.Helper()
	dir := t.TempDir()
	clients := make([]*fakeClient, 0, n)
	sessions := make([]*Session, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("acct%d", i)
		c := newFakeClient(name)
		clients = append(clients, c)
		sessions = append(sessions, New(c, filepath.Join(dir, name+".json"), testLogger()))
	}
	p := NewPool(context.Background(), sessions, testLogger())
	t.Cleanup(p.Close)
	return p, clients
}

func TestNewPoolExcludesFailedAccounts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := newFakeClient("good")
	bad := newFakeClient("bad")
	bad.loginErr = badPasswordErr()

	p := NewPool(context.Background(), []*Session{
		New(good, filepath.Join(dir, "good.json"), testLogger()),
		New(bad, filepath.Join(dir, "bad.json"), testLogger()),
	}, testLogger())
	defer p.Close()

	if p.Cap() != 1 {
		t.Fatalf("Cap() = %d, want 1", p.Cap())
	}
	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lease.Release(nil)
	if got := lease.Session().Username(); got != "good" {
		t.Fatalf("acquired session = %q, want %q", got, "good")
	}
}

func TestAcquireEmptyPoolFailsFast(t *testing.T) {
	t.Parallel()

	p := NewPool(context.Background(), nil, testLogger())
	defer p.Close()

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrNoSessions) {
		t.Fatalf("Acquire() error = %v, want ErrNoSessions", err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, 2)

	var (
		mu      sync.Mutex
		active  int
		peak    int
		borrows int
	)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			active++
			borrows++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			lease.Release(nil)
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Fatalf("peak concurrent borrowers = %d, want <= 2", peak)
	}
	if borrows != 5 {
		t.Fatalf("completed borrows = %d, want 5", borrows)
	}
}

func TestAcquireServesWaitersInOrder(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, 1)

	holder, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	const waiters = 4
	var (
		mu    sync.Mutex
		order []int
	)
	started := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			// Stagger arrival so the queue order is deterministic.
			<-started
			time.Sleep(time.Duration(rank) * 20 * time.Millisecond)
			lease, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			order = append(order, rank)
			mu.Unlock()
			lease.Release(nil)
		}(i)
	}
	close(started)
	// Let every waiter enqueue before the session frees up.
	time.Sleep(time.Duration(waiters) * 25 * time.Millisecond)
	holder.Release(nil)
	wg.Wait()

	for i, rank := range order {
		if rank != i {
			t.Fatalf("service order = %v, want first come first served", order)
		}
	}
}

func TestAcquireCancelledWaiterDoesNotLoseSession(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, 1)

	holder, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want context.Canceled", err)
	}

	holder.Release(nil)

	// The cancelled waiter must not have swallowed the capacity.
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	lease, err := p.Acquire(ctx2)
	if err != nil {
		t.Fatalf("Acquire() after cancellation error = %v", err)
	}
	lease.Release(nil)
}

func TestAcquireCancelDuringHandoffKeepsCapacity(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, 1)

	waitForWaiter := func() {
		for {
			p.mu.Lock()
			n := len(p.waiters)
			p.mu.Unlock()
			if n == 1 {
				return
			}
			runtime.Gosched()
		}
	}

	for i := 0; i < 2000; i++ {
		holder, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() holder error = %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		got := make(chan *Lease, 1)
		go func() {
			lease, err := p.Acquire(ctx)
			if err != nil {
				got <- nil
				return
			}
			got <- lease
		}()
		waitForWaiter()

		// Race the cancellation against the handoff from Release.
		go cancel()
		holder.Release(nil)

		if lease := <-got; lease != nil {
			lease.Release(nil)
		}

		// Whichever way the race went, the session must be reachable.
		checkCtx, checkCancel := context.WithTimeout(context.Background(), 2*time.Second)
		lease, err := p.Acquire(checkCtx)
		checkCancel()
		if err != nil {
			t.Fatalf("capacity lost at iteration %d: %v", i, err)
		}
		lease.Release(nil)
		cancel()
	}
}

func TestReleaseWithAuthErrorTriggersRelogin(t *testing.T) {
	t.Parallel()

	p, clients := newTestPool(t, 1)
	client := clients[0]
	if logins, _, _ := client.counts(); logins != 1 {
		t.Fatalf("startup login calls = %d, want 1", logins)
	}

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	s := lease.Session()
	// The persisted state will be rejected on the next probe too.
	client.mu.Lock()
	client.probeErrs = []error{authErr()}
	client.mu.Unlock()
	lease.Release(fmt.Errorf("fetch: %w", ErrAuthorizationExpired))

	lease2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lease2.Release(nil)
	if err := lease2.Session().EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if s.LoginCount() != 2 {
		t.Fatalf("LoginCount() = %d, want 2 after invalidated release", s.LoginCount())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, 1)
	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	lease.Release(nil)
	lease.Release(nil)

	// Double release must not inflate capacity beyond one.
	l1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l1.Release(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, 1)
	holder, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer holder.Release(nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	p.Close()

	if err := <-done; !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Acquire() error = %v, want ErrPoolClosed", err)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Acquire() after close error = %v, want ErrPoolClosed", err)
	}
}
