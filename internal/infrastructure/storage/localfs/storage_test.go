package localfs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestAppendLineConcurrentWritersKeepWholeLines(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				line := fmt.Sprintf(`{"writer":%d,"seq":%d,"pad":"%s"}`, w, i, strings.Repeat("x", 512))
				if err := store.AppendLine(context.Background(), "audit_log.jsonl", []byte(line)); err != nil {
					t.Errorf("AppendLine() error = %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	count := 0
	err = store.ScanLines(context.Background(), "audit_log.jsonl", func(line []byte) error {
		if !strings.HasPrefix(string(line), `{"writer":`) || !strings.HasSuffix(string(line), `"}`) {
			return fmt.Errorf("corrupted line %q", line)
		}
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ScanLines() error = %v", err)
	}
	if count != writers*perWriter {
		t.Fatalf("expected %d lines, got %d", writers*perWriter, count)
	}
}

func TestScanLinesMissingFileIsEmpty(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	called := false
	if err := store.ScanLines(context.Background(), "missing.jsonl", func([]byte) error { called = true; return nil }); err != nil {
		t.Fatalf("ScanLines() error = %v", err)
	}
	if called {
		t.Fatalf("expected no lines")
	}
}

func TestListSortsMatchingKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"queries_20260102.jsonl", "queries_20260101.jsonl", "audit_log.jsonl"} {
		if err := store.AppendLine(context.Background(), key, []byte("{}")); err != nil {
			t.Fatalf("AppendLine() error = %v", err)
		}
	}
	keys, err := store.List("queries_*.jsonl")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "queries_20260101.jsonl" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
