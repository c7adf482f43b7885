package runaudit_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rvtrace/rvtrace/internal/runaudit"
)

func tmpLedger(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "runaudit.log")
}

func openLogger(t *testing.T, path string) *runaudit.Logger {
	t.Helper()
	l, err := runaudit.Open(path)
	if err != nil {
		t.Fatalf("runaudit.Open(%q): %v", path, err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleRecord(n int) runaudit.RunRecord {
	return runaudit.RunRecord{
		EncodedTracePath: "trace.bin",
		EncodedTraceSize: int64(1000 + n),
		BinaryPath:       "fw.elf",
		BinarySHA256:     strings.Repeat("a", 64),
		SinksEnabled:     []string{"txt", "gcda"},
		ExitStatus:       "ok",
		StartedAt:        time.Unix(int64(1700000000+n), 0).UTC(),
	}
}

func TestAppendRun_SingleEntry(t *testing.T) {
	l := openLogger(t, tmpLedger(t))
	e, err := l.AppendRun(sampleRecord(0))
	if err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	if e.Seq != 1 {
		t.Errorf("seq = %d, want 1", e.Seq)
	}
	if e.PrevHash != runaudit.GenesisHash {
		t.Errorf("prev_hash = %q, want genesis", e.PrevHash)
	}
	if len(e.EventHash) != 64 {
		t.Errorf("event_hash length = %d, want 64", len(e.EventHash))
	}

	var rec runaudit.RunRecord
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if rec.BinaryPath != "fw.elf" || rec.ExitStatus != "ok" {
		t.Errorf("decoded record = %+v", rec)
	}
}

func TestAppendRun_ChainsAcrossRuns(t *testing.T) {
	l := openLogger(t, tmpLedger(t))

	var entries []runaudit.Entry
	for i := 0; i < 3; i++ {
		e, err := l.AppendRun(sampleRecord(i))
		if err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
		entries = append(entries, e)
	}

	if entries[0].PrevHash != runaudit.GenesisHash {
		t.Errorf("entries[0].prev_hash = %q, want genesis", entries[0].PrevHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].EventHash {
			t.Errorf("entries[%d].prev_hash does not chain to entries[%d].event_hash", i, i-1)
		}
		if entries[i].Seq != int64(i+1) {
			t.Errorf("entries[%d].seq = %d, want %d", i, entries[i].Seq, i+1)
		}
	}
}

func TestOpen_ResumesExistingChain(t *testing.T) {
	path := tmpLedger(t)

	l1 := openLogger(t, path)
	l1.AppendRun(sampleRecord(0))
	e2, _ := l1.AppendRun(sampleRecord(1))
	if err := l1.Close(); err != nil {
		t.Fatalf("l1.Close: %v", err)
	}

	l2 := openLogger(t, path)
	e3, err := l2.AppendRun(sampleRecord(2))
	if err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	if e3.PrevHash != e2.EventHash {
		t.Errorf("e3.prev_hash = %q, want e2.event_hash = %q", e3.PrevHash, e2.EventHash)
	}
	if e3.Seq != 3 {
		t.Errorf("e3.seq = %d, want 3", e3.Seq)
	}
}

func TestVerify_EmptyFileIsValid(t *testing.T) {
	path := tmpLedger(t)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	entries, err := runaudit.Verify(path)
	if err != nil {
		t.Fatalf("Verify(empty): %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("want 0 entries got %d", len(entries))
	}
}

func TestVerify_ValidChain(t *testing.T) {
	path := tmpLedger(t)
	l := openLogger(t, path)
	for i := 0; i < 5; i++ {
		if _, err := l.AppendRun(sampleRecord(i)); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := runaudit.Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("want 5 entries got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].EventHash {
			t.Errorf("entries[%d] breaks chain", i)
		}
	}
}

func TestVerify_DetectsModifiedPayload(t *testing.T) {
	path := tmpLedger(t)
	l := openLogger(t, path)
	l.AppendRun(sampleRecord(0))
	l.AppendRun(sampleRecord(1))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	corrupted := strings.Replace(string(data), `"exit_status":"ok"`, `"exit_status":"tampered"`, 1)
	if err := os.WriteFile(path, []byte(corrupted), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := runaudit.Verify(path); err == nil {
		t.Fatal("Verify should have detected tampered payload")
	}
}

func TestVerify_DetectsDeletedEntry(t *testing.T) {
	path := tmpLedger(t)
	l := openLogger(t, path)
	l.AppendRun(sampleRecord(0))
	l.AppendRun(sampleRecord(1))
	l.AppendRun(sampleRecord(2))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	idx := strings.Index(string(data), "\n")
	if idx < 0 {
		t.Fatal("expected at least one newline-terminated entry")
	}
	remaining := string(data)[idx+1:]
	if err := os.WriteFile(path, []byte(remaining), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := runaudit.Verify(path); err == nil {
		t.Fatal("Verify should have detected missing entry")
	}
}

func TestOpen_RejectsCorruptedLedger(t *testing.T) {
	path := tmpLedger(t)

	l := openLogger(t, path)
	l.AppendRun(sampleRecord(0))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	corrupted := strings.Replace(string(data), `"exit_status":"ok"`, `"exit_status":"forged"`, 1)
	if err := os.WriteFile(path, []byte(corrupted), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := runaudit.Open(path); err == nil {
		t.Fatal("Open should have rejected corrupted ledger")
	}
}

func TestAppendRun_ConcurrentSafe(t *testing.T) {
	path := tmpLedger(t)
	l := openLogger(t, path)

	const goroutines = 10
	const perGoroutine = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if _, err := l.AppendRun(sampleRecord(id*1000 + j)); err != nil {
					t.Errorf("goroutine %d AppendRun: %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := runaudit.Verify(path)
	if err != nil {
		t.Fatalf("Verify after concurrent appends: %v", err)
	}
	if len(entries) != goroutines*perGoroutine {
		t.Errorf("want %d entries got %d", goroutines*perGoroutine, len(entries))
	}
}
