package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterRejectsBadJobs(t *testing.T) {
	s := New(Config{})
	noop := func(context.Context) error { return nil }

	if err := s.Register(Job{Name: "", Schedule: "@every 1m", Run: noop}); err == nil {
		t.Fatal("expected error for unnamed job")
	}
	err := s.Register(Job{Name: "poll", Schedule: "not a schedule", Run: noop})
	if err == nil || !strings.Contains(err.Error(), "invalid schedule") {
		t.Fatalf("expected invalid schedule error, got %v", err)
	}

	if err := s.Register(Job{Name: "poll", Schedule: "@every 1m", Run: noop}); err != nil {
		t.Fatalf("register poll: %v", err)
	}
	err = s.Register(Job{Name: "poll", Schedule: "@every 1m", Run: noop})
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := s.Register(Job{Name: "refresh", Schedule: "*/5 * * * *", Run: noop}); err != nil {
		t.Fatalf("register refresh: %v", err)
	}
	if got, want := s.Jobs(), []string{"poll", "refresh"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("jobs = %v, want %v", got, want)
	}
}

func TestTriggerRunsJobByName(t *testing.T) {
	s := New(Config{})
	var runs atomic.Int32
	err := s.Register(Job{Name: "poll", Schedule: "@every 1h", Run: func(context.Context) error {
		runs.Add(1)
		return errors.New("partial")
	}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.Trigger(context.Background(), "poll"); err == nil || err.Error() != "partial" {
		t.Fatalf("expected job error to propagate, got %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
	if err := s.Trigger(context.Background(), "missing"); err == nil || !strings.Contains(err.Error(), "unknown job") {
		t.Fatalf("expected unknown job error, got %v", err)
	}
}

func TestRunFiresScheduledJob(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "poller.lock")
	s := New(Config{LockPath: lockPath})
	var runs atomic.Int32
	err := s.Register(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("scheduled job never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
	pid, ok := ReadLockPID(lockPath)
	if !ok || pid != os.Getpid() {
		t.Fatalf("lock pid = %d (ok=%v), want %d", pid, ok, os.Getpid())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed on shutdown, stat err: %v", err)
	}
}

func TestRunRefusesWhenLocked(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "poller.lock")
	holder := NewFileLock(lockPath)
	acquired, err := holder.TryLock()
	if err != nil || !acquired {
		t.Fatalf("holder lock: acquired=%v err=%v", acquired, err)
	}
	defer holder.Unlock()

	s := New(Config{LockPath: lockPath})
	if err := s.Run(context.Background()); !errors.Is(err, ErrLocked) {
		t.Fatalf("Run returned %v, want ErrLocked", err)
	}
}

func TestFileLockExcludesSecondHolder(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "overlap.lock")
	l1 := NewFileLock(lockPath)
	l2 := NewFileLock(lockPath)

	acquired, err := l1.TryLock()
	if err != nil || !acquired {
		t.Fatalf("first lock: acquired=%v err=%v", acquired, err)
	}

	acquired, err = l2.TryLock()
	if err != nil {
		t.Fatalf("second TryLock: %v", err)
	}
	if acquired {
		t.Fatal("second holder must not acquire while the first holds it")
	}

	if err := l1.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	acquired, err = l2.TryLock()
	if err != nil || !acquired {
		t.Fatalf("second lock after release: acquired=%v err=%v", acquired, err)
	}
	if err := l2.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestSemaphoreConcurrencyLimit(t *testing.T) {
	sem := NewSemaphore(2)
	if !sem.TryAcquire() || !sem.TryAcquire() {
		t.Fatal("should acquire two slots")
	}
	if sem.TryAcquire() {
		t.Fatal("third acquire should fail")
	}
	if sem.Available() != 0 {
		t.Fatalf("available = %d, want 0", sem.Available())
	}

	sem.Release()
	if sem.Available() != 1 {
		t.Fatalf("available = %d, want 1", sem.Available())
	}
	if !sem.TryAcquire() {
		t.Fatal("should acquire after release")
	}
}

func TestReadLockPIDMissingOrGarbage(t *testing.T) {
	dir := t.TempDir()
	if _, ok := ReadLockPID(filepath.Join(dir, "absent")); ok {
		t.Fatal("missing lock file should not report a pid")
	}

	garbage := filepath.Join(dir, "garbage")
	if err := os.WriteFile(garbage, []byte("nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok := ReadLockPID(garbage); ok {
		t.Fatal("garbage lock file should not report a pid")
	}
}
