package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLockUnlock(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), "test.lock"))

	if err := lock.Lock(); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
}

func TestConcurrentLocking(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")
	counterPath := filepath.Join(tmpDir, "poses.txt")
	os.WriteFile(counterPath, []byte("0"), 0644)

	const goroutines = 5
	const iterations = 10

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				lock := NewFileLock(lockPath)
				if err := lock.Lock(); err != nil {
					t.Errorf("Failed to acquire lock: %v", err)
					return
				}

				data, _ := os.ReadFile(counterPath)
				var counter int
				fmt.Sscanf(string(data), "%d", &counter)
				time.Sleep(time.Millisecond)
				os.WriteFile(counterPath, []byte(fmt.Sprintf("%d", counter+1)), 0644)

				if err := lock.Unlock(); err != nil {
					t.Errorf("Failed to release lock: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(counterPath)
	if err != nil {
		t.Fatalf("Failed to read final counter: %v", err)
	}
	var final int
	fmt.Sscanf(string(data), "%d", &final)
	if final != goroutines*iterations {
		t.Errorf("Expected counter %d, got %d (race condition detected)", goroutines*iterations, final)
	}
}

func TestTryLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")
	lock1 := NewFileLock(lockPath)
	lock2 := NewFileLock(lockPath)

	acquired, err := lock1.TryLock()
	if err != nil || !acquired {
		t.Fatalf("First TryLock should succeed (acquired=%v, err=%v)", acquired, err)
	}

	acquired, err = lock2.TryLock()
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	if acquired {
		t.Error("Second TryLock should fail when lock is held")
	}

	if err := lock1.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	acquired, err = lock2.TryLock()
	if err != nil || !acquired {
		t.Errorf("TryLock should succeed after unlock (acquired=%v, err=%v)", acquired, err)
	}
	lock2.Unlock()
}

func TestLockWorkDir(t *testing.T) {
	dir := t.TempDir()

	first, err := LockWorkDir(dir)
	if err != nil {
		t.Fatalf("LockWorkDir failed: %v", err)
	}
	if first.Path() != filepath.Join(dir, WorkDirLockName) {
		t.Errorf("unexpected lock path %s", first.Path())
	}

	_, err = LockWorkDir(dir)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for a locked directory, got %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	second, err := LockWorkDir(dir)
	if err != nil {
		t.Fatalf("LockWorkDir after unlock failed: %v", err)
	}
	second.Unlock()
}

func TestAtomicWrite(t *testing.T) {
	targetPath := filepath.Join(t.TempDir(), "ligand.mol")
	if err := os.WriteFile(targetPath, []byte("old"), 0600); err != nil {
		t.Fatal(err)
	}

	content := []byte("ethanol\n  dockpipe          3D\n")
	if err := AtomicWrite(targetPath, content); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}

	got, err := os.ReadFile(targetPath)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("Expected content %q, got %q", content, got)
	}

	info, _ := os.Stat(targetPath)
	if info.Mode().Perm() != 0644 {
		t.Errorf("Expected permissions 0644, got %o", info.Mode().Perm())
	}
}

func TestAtomicWriteCreateDirectory(t *testing.T) {
	targetPath := filepath.Join(t.TempDir(), "work", "ABC", "ligand.pdbqt")
	if err := AtomicWrite(targetPath, []byte("ROOT\n")); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}
	if _, err := os.Stat(targetPath); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestAtomicWriteNoTempFileLeftBehind(t *testing.T) {
	tmpDir := t.TempDir()
	for i := 0; i < 5; i++ {
		if err := AtomicWrite(filepath.Join(tmpDir, "vina.log"), []byte(fmt.Sprintf("run %d", i))); err != nil {
			t.Fatalf("AtomicWrite failed: %v", err)
		}
	}

	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected only the target file, found %v", names)
	}
}

func TestConcurrentLockAndWrite(t *testing.T) {
	tmpDir := t.TempDir()
	targetPath := filepath.Join(tmpDir, "poses.sdf")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := LockAndWrite(targetPath, []byte(fmt.Sprintf("pose %d\n", i))); err != nil {
				t.Errorf("LockAndWrite failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(targetPath)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	var n int
	if _, err := fmt.Sscanf(string(data), "pose %d\n", &n); err != nil {
		t.Errorf("file content is torn: %q", data)
	}
	if _, err := os.Stat(targetPath + ".lock"); err != nil {
		t.Errorf("lock file should stay after LockAndWrite: %v", err)
	}
}

func TestLockAndWriteWaitsForHolder(t *testing.T) {
	targetPath := filepath.Join(t.TempDir(), "poses.sdf")
	if err := LockAndWrite(targetPath, []byte("first\n")); err != nil {
		t.Fatalf("LockAndWrite failed: %v", err)
	}

	holder := NewFileLock(targetPath + ".lock")
	if err := holder.Lock(); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- LockAndWrite(targetPath, []byte("second\n"))
	}()

	select {
	case err := <-done:
		t.Fatalf("LockAndWrite returned while the lock was held: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if err := holder.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("LockAndWrite failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("LockAndWrite did not finish after the lock was released")
	}

	data, err := os.ReadFile(targetPath)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(data) != "second\n" {
		t.Errorf("expected second write, got %q", data)
	}
}
