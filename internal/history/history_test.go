package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, action := range []string{"allow", "challenge", "block"} {
		seq, err := s.Append(ctx, Turn{
			SessionID:   "sess-1",
			RequestID:   "r" + string(rune('a'+i)),
			TimestampMs: int64(1000 + i),
			Action:      action,
			Risk:        "high",
			RootHash:    "hash",
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if seq != int64(i+1) {
			t.Errorf("seq = %d, want %d", seq, i+1)
		}
	}

	turns, err := s.Recent(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("Recent returned %d turns, want 2", len(turns))
	}
	if turns[0].Seq != 3 || turns[0].Action != "block" {
		t.Errorf("newest turn = %+v", turns[0])
	}
	if turns[1].Seq != 2 {
		t.Errorf("second turn = %+v", turns[1])
	}
}

func TestAppend_SessionsIndependent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if seq, _ := s.Append(ctx, Turn{SessionID: "a", RequestID: "r1", Action: "allow", Risk: "none", RootHash: "h"}); seq != 1 {
		t.Errorf("session a seq = %d, want 1", seq)
	}
	if seq, _ := s.Append(ctx, Turn{SessionID: "b", RequestID: "r2", Action: "allow", Risk: "none", RootHash: "h"}); seq != 1 {
		t.Errorf("session b seq = %d, want 1", seq)
	}
}

func TestAppend_RequiresSession(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Append(context.Background(), Turn{RequestID: "r"}); err == nil {
		t.Error("expected error for empty sessionId")
	}
}

func TestAppend_ConcurrentSequencesUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const n = 20
	seqs := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := s.Append(ctx, Turn{
				SessionID: "concurrent",
				RequestID: "r",
				Action:    "allow",
				Risk:      "none",
				RootHash:  "h",
			})
			if err != nil {
				t.Errorf("Append: %v", err)
				return
			}
			seqs <- seq
		}(i)
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Errorf("duplicate sequence %d", seq)
		}
		seen[seq] = true
	}
	if len(seen) != n {
		t.Errorf("got %d unique sequences, want %d", len(seen), n)
	}
}

func TestRecent_EmptySession(t *testing.T) {
	s := openTestStore(t)
	turns, err := s.Recent(context.Background(), "absent", 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("turns = %v, want empty", turns)
	}
}
