package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendFirstWriteWins(t *testing.T) {
	j := openTestJournal(t)

	ok := &Entry{RoomID: "r1", RoomCode: "ABCDEF", WinnerWallet: "w", PayoutAmount: 900, PayoutTx: "sig-ok", SettledAt: time.Now()}
	if err := j.Append(ok); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// A second append for the same room must not overwrite.
	dup := &Entry{RoomID: "r1", PayoutError: "late duplicate"}
	if err := j.Append(dup); err != nil {
		t.Fatalf("Append dup: %v", err)
	}

	got, err := j.Get("r1")
	if err != nil || got == nil {
		t.Fatalf("Get: %v %v", got, err)
	}
	if got.PayoutTx != "sig-ok" || got.PayoutError != "" {
		t.Fatalf("entry overwritten: %+v", got)
	}
}

func TestFailedListsOnlyErrors(t *testing.T) {
	j := openTestJournal(t)

	_ = j.Append(&Entry{RoomID: "a", PayoutTx: "sig-a", SettledAt: time.Now()})
	_ = j.Append(&Entry{RoomID: "b", PayoutError: "node rejected", SettledAt: time.Now()})
	_ = j.Append(&Entry{RoomID: "c", PayoutError: "timeout", SettledAt: time.Now()})

	failed, err := j.Failed()
	if err != nil {
		t.Fatalf("Failed: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("len(failed) = %d, want 2", len(failed))
	}
	for _, e := range failed {
		if e.PayoutError == "" {
			t.Fatalf("entry without error in failed list: %+v", e)
		}
	}
}
