package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartProcessesInOrder(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := make(chan int, 8)
	sem := make(chan struct{}, 1)
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	Start(StartOptions[int]{
		Ctx:  ctx,
		Sem:  sem,
		Jobs: jobs,
		Handle: func(_ context.Context, n int) {
			mu.Lock()
			got = append(got, n)
			if len(got) == 3 {
				close(done)
			}
			mu.Unlock()
		},
	})

	for i := 1; i <= 3; i++ {
		if err := Enqueue(ctx, ctx, jobs, i); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not processed")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, n := range []int{1, 2, 3} {
		if got[i] != n {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sem := make(chan struct{}, 2)
	var active, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(12)

	for w := 0; w < 4; w++ {
		jobs := make(chan int, 4)
		Start(StartOptions[int]{
			Ctx:  ctx,
			Sem:  sem,
			Jobs: jobs,
			Handle: func(_ context.Context, _ int) {
				defer wg.Done()
				cur := active.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
			},
		})
		for i := 0; i < 3; i++ {
			if err := Enqueue(ctx, ctx, jobs, i); err != nil {
				t.Fatal(err)
			}
		}
	}

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not finish")
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency %d exceeds semaphore size 2", p)
	}
}

func TestEnqueueFailsAfterCancel(t *testing.T) {
	t.Parallel()
	workersCtx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs := make(chan int) // unbuffered, nothing reading
	if err := Enqueue(context.Background(), workersCtx, jobs, 1); err == nil {
		t.Fatal("expected error after pool shutdown")
	}
}
