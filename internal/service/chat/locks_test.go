package chat

import (
	"context"
	"testing"
	"time"
)

func TestSessionLocksReleaseEntries(t *testing.T) {
	locks := newSessionLocks()

	release, err := locks.acquire(context.Background(), "s1")
	if err != nil {
		t.Fatalf("acquire err: %v", err)
	}
	if locks.size() != 1 {
		t.Fatalf("expected one entry, got %d", locks.size())
	}

	release()
	release()
	if locks.size() != 0 {
		t.Fatalf("expected entries to be dropped, got %d", locks.size())
	}
}

func TestSessionLocksRespectContext(t *testing.T) {
	locks := newSessionLocks()

	release, err := locks.acquire(context.Background(), "s1")
	if err != nil {
		t.Fatalf("acquire err: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.acquire(ctx, "s1"); err == nil {
		t.Fatal("expected timeout while lock is held")
	}

	other, err := locks.acquire(context.Background(), "s2")
	if err != nil {
		t.Fatalf("different session should not block: %v", err)
	}
	other()
}
