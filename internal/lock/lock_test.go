package lock

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Ning0612/peersync/internal/testutil"
)

func TestNewDirLock(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, err := NewDirLock(dir)
	if err != nil {
		t.Fatalf("NewDirLock failed: %v", err)
	}

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	if lock.staleTimeout != DefaultStaleTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultStaleTimeout, lock.staleTimeout)
	}
}

func TestNewDirLock_EmptyRoot(t *testing.T) {
	if _, err := NewDirLock(""); err == nil {
		t.Error("expected error for empty root")
	}
}

func TestAcquireRelease(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewDirLock(dir)

	if err := lock.Acquire(8000); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !lock.IsLocked() {
		t.Error("lock should be held")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file still exists after release")
	}
	if lock.IsLocked() {
		t.Error("lock should not be held after release")
	}
}

func TestAcquireTwice_UpdatesPort(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewDirLock(dir)
	if err := lock.Acquire(8000); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer lock.Release()

	if err := lock.Acquire(8001); err != nil {
		t.Fatalf("second Acquire by holder should succeed: %v", err)
	}

	holder, err := lock.GetHolder()
	if err != nil {
		t.Fatalf("GetHolder failed: %v", err)
	}
	if holder.ListenPort != 8001 {
		t.Errorf("expected port 8001, got %d", holder.ListenPort)
	}

	// Release must still recognise the updated lock as ours
	if err := lock.Release(); err != nil {
		t.Errorf("Release after re-acquire failed: %v", err)
	}
}

func TestConcurrentAcquire(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	const goroutines = 10
	var wg sync.WaitGroup
	locks := make([]*DirLock, goroutines)
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			lock, err := NewDirLock(dir)
			if err != nil {
				errs[idx] = err
				return
			}
			locks[idx] = lock
			errs[idx] = lock.Acquire(8000 + idx)
		}(i)
	}
	wg.Wait()

	acquired := 0
	for i := 0; i < goroutines; i++ {
		if errs[i] == nil {
			acquired++
			defer locks[i].Release()
		} else if !IsLockError(errs[i]) {
			t.Errorf("goroutine %d: expected LockError, got %v", i, errs[i])
		}
	}
	if acquired != 1 {
		t.Errorf("expected exactly 1 holder, got %d", acquired)
	}
}

func TestStaleDetection_ProcessDead(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewDirLock(dir)

	hostname, _ := os.Hostname()
	stale := &LockInfo{
		PID:       999999,
		Hostname:  hostname,
		StartTime: time.Now().Add(-time.Hour),
	}
	if err := lock.writeLockInfo(stale); err != nil {
		t.Fatalf("failed to write stale lock: %v", err)
	}

	if err := lock.Acquire(8000); err != nil {
		t.Fatalf("should take over lock of dead process: %v", err)
	}
	defer lock.Release()

	holder, err := lock.GetHolder()
	if err != nil {
		t.Fatalf("GetHolder failed: %v", err)
	}
	if holder.PID != os.Getpid() {
		t.Error("expected current process to be holder")
	}
}

func TestStaleDetection_LiveProcessIgnoresTimeout(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewDirLock(dir)
	lock.SetStaleTimeout(10 * time.Millisecond)
	if err := lock.Acquire(8000); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	time.Sleep(30 * time.Millisecond)

	other, _ := NewDirLock(dir)
	err := other.Acquire(8001)
	if err == nil {
		other.Release()
		t.Fatal("should not take over lock held by a live process")
	}
	if !IsLockError(err) {
		t.Errorf("expected LockError, got %v", err)
	}
}

func TestStaleDetection_DifferentHost(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewDirLock(dir)
	lock.SetStaleTimeout(100 * time.Millisecond)

	foreign := &LockInfo{
		PID:       12345,
		Hostname:  "foreign-host-" + testutil.RandomString(8),
		StartTime: time.Now().Add(-time.Hour),
	}
	if err := lock.writeLockInfo(foreign); err != nil {
		t.Fatalf("failed to write foreign lock: %v", err)
	}

	if err := lock.Acquire(8000); err != nil {
		t.Fatalf("should take over expired foreign lock: %v", err)
	}
	lock.Release()
}

func TestForceRelease(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewDirLock(dir)
	lock.Acquire(8000)

	if err := lock.ForceRelease(); err != nil {
		t.Fatalf("ForceRelease failed: %v", err)
	}
	if lock.IsLocked() {
		t.Error("lock should not be held after force release")
	}
}

func TestLockError_Message(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	first, _ := NewDirLock(dir)
	second, _ := NewDirLock(dir)

	first.Acquire(8000)
	defer first.Release()

	err := second.Acquire(8001)
	if err == nil {
		t.Fatal("expected error when lock is held")
	}
	if !IsLockError(err) {
		t.Fatalf("expected LockError, got %T", err)
	}
	if err.Error() == "" {
		t.Error("error message should not be empty")
	}
}
