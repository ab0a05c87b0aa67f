package store

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *KVStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "quill.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("thread-history-a", []byte(`[{"role":"human"}]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := s.Get("thread-history-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if !bytes.Equal(value, []byte(`[{"role":"human"}]`)) {
		t.Errorf("unexpected value: %s", value)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)

	value, ok, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected missing key to report not found")
	}
	if value != nil {
		t.Errorf("expected nil value, got %v", value)
	}
}

func TestSetOverwrites(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("k", []byte("one")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("k", []byte("two")); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}

	value, _, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "two" {
		t.Errorf("expected overwrite, got %s", value)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Error("expected key to be gone after Delete")
	}

	// Absent keys delete without error.
	if err := s.Delete("never-existed"); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestListKeysSortedByPrefix(t *testing.T) {
	s := newTestStore(t)

	for _, key := range []string{
		"thread-history-c",
		"thread-history-a",
		"thread-history-b",
		"other-key",
	} {
		if err := s.Set(key, []byte("x")); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
	}

	keys, err := s.ListKeys("thread-history-")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	want := []string{"thread-history-a", "thread-history-b", "thread-history-c"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d: %v", len(want), len(keys), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Set("k", []byte("survives")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	value, ok, err := s2.Get("k")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if !ok || string(value) != "survives" {
		t.Errorf("value did not survive reopen: ok=%v value=%s", ok, value)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", n)
			for j := 0; j < 20; j++ {
				if err := s.Set(key, []byte(fmt.Sprintf("v-%d", j))); err != nil {
					t.Errorf("Set failed: %v", err)
					return
				}
				if _, _, err := s.Get(key); err != nil {
					t.Errorf("Get failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		value, ok, err := s.Get(fmt.Sprintf("key-%d", i))
		if err != nil || !ok {
			t.Fatalf("key-%d missing after concurrent writes: ok=%v err=%v", i, ok, err)
		}
		if string(value) != "v-19" {
			t.Errorf("key-%d = %s, want v-19", i, value)
		}
	}
}
