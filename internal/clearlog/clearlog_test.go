package clearlog

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeDeleter struct {
	mu    sync.Mutex
	err   error
	calls [][]int64
}

func (f *fakeDeleter) DeleteMessages(_ context.Context, _ int64, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]int64(nil), ids...))
	return f.err
}

func TestRecordDeduplicates(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, 0)
	r.Record(1, 10)
	r.Record(1, 10)
	r.Record(1, 11)
	if got := r.Len(1); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
}

func TestRecordIgnoresZeroID(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, 0)
	r.Record(1, 0)
	if got := r.Len(1); got != 0 {
		t.Fatalf("Len = %d, want 0", got)
	}
}

func TestRecordDropsOldestPastCap(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, 3)
	for id := int64(1); id <= 5; id++ {
		r.Record(1, id)
	}
	if got := r.Len(1); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	d := &fakeDeleter{}
	if _, err := r.Clear(context.Background(), d, 1); err != nil {
		t.Fatal(err)
	}
	want := []int64{3, 4, 5}
	if len(d.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(d.calls))
	}
	for i, id := range want {
		if d.calls[0][i] != id {
			t.Fatalf("kept ids = %v, want %v", d.calls[0], want)
		}
	}
}

func TestClearChunksAtAPILimit(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, 300)
	for id := int64(1); id <= 250; id++ {
		r.Record(7, id)
	}

	d := &fakeDeleter{}
	n, err := r.Clear(context.Background(), d, 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 250 {
		t.Fatalf("cleared %d, want 250", n)
	}
	sizes := make([]int, 0, len(d.calls))
	for _, call := range d.calls {
		sizes = append(sizes, len(call))
	}
	if len(sizes) != 3 || sizes[0] != 100 || sizes[1] != 100 || sizes[2] != 50 {
		t.Fatalf("chunk sizes = %v, want [100 100 50]", sizes)
	}
	if got := r.Len(7); got != 0 {
		t.Fatalf("Len after Clear = %d, want 0", got)
	}
}

func TestClearEmptiesLogOnDeleteError(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, 0)
	r.Record(1, 10)
	r.Record(1, 11)

	d := &fakeDeleter{err: errors.New("message to delete not found")}
	n, err := r.Clear(context.Background(), d, 1)
	if err == nil {
		t.Fatal("expected delete error surfaced")
	}
	if n != 2 {
		t.Fatalf("cleared %d, want 2", n)
	}
	if got := r.Len(1); got != 0 {
		t.Fatalf("Len = %d after failed delete, want 0 (log must not wedge)", got)
	}
}

func TestClearEmptyLogSkipsDeleter(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, 0)
	d := &fakeDeleter{}
	n, err := r.Clear(context.Background(), d, 1)
	if err != nil || n != 0 {
		t.Fatalf("Clear on empty log = (%d, %v)", n, err)
	}
	if len(d.calls) != 0 {
		t.Fatal("deleter should not be called for an empty log")
	}
}

func TestChatsAreIndependent(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, 0)
	var wg sync.WaitGroup
	for chat := int64(1); chat <= 4; chat++ {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			for id := int64(1); id <= 50; id++ {
				r.Record(chatID, id)
			}
		}(chat)
	}
	wg.Wait()
	for chat := int64(1); chat <= 4; chat++ {
		if got := r.Len(chat); got != 50 {
			t.Errorf("chat %d Len = %d, want 50", chat, got)
		}
	}
}
