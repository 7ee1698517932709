package match

import (
	"sync"
	"testing"
	"time"
)

func TestTickDeductsFromSideToMove(t *testing.T) {
	r := playingRoom()
	base := time.Now()
	r.LastMoveTime = &base

	if r.tickLocked(base.Add(1200 * time.Millisecond)) {
		t.Fatal("tick reported timeout with time remaining")
	}
	if r.WhiteTimeMs != 300000-1200 {
		t.Fatalf("white clock = %d, want %d", r.WhiteTimeMs, 300000-1200)
	}
	if r.BlackTimeMs != 300000 {
		t.Fatalf("black clock touched: %d", r.BlackTimeMs)
	}
}

func TestTickResetsReference(t *testing.T) {
	r := playingRoom()
	base := time.Now()
	r.LastMoveTime = &base

	first := base.Add(500 * time.Millisecond)
	r.tickLocked(first)
	// A second tick at the same instant deducts nothing more.
	r.tickLocked(first)
	if r.WhiteTimeMs != 300000-500 {
		t.Fatalf("double deduction: white clock = %d", r.WhiteTimeMs)
	}
}

func TestTickTimeoutFinishesRoom(t *testing.T) {
	r := playingRoom()
	r.CurrentTurn = Black
	r.BlackTimeMs = 1
	base := time.Now()
	r.LastMoveTime = &base

	if !r.tickLocked(base.Add(50 * time.Millisecond)) {
		t.Fatal("expired clock did not finish the room")
	}
	if r.Status != StatusFinished {
		t.Fatalf("status = %s", r.Status)
	}
	if r.BlackTimeMs != 0 {
		t.Fatalf("expired clock clamped to %d, want 0", r.BlackTimeMs)
	}
	if r.Winner == nil || *r.Winner != 0 {
		t.Fatalf("winner = %v, want white (0)", r.Winner)
	}
	if r.FinishedBy != "timeout" {
		t.Fatalf("finished by %q", r.FinishedBy)
	}
	if r.LastMoveTime != nil {
		t.Fatal("reference timestamp not cleared on finish")
	}
}

func TestTickIgnoresNonPlayingRooms(t *testing.T) {
	r := playingRoom()
	r.Status = StatusWaitingPayments
	base := time.Now()
	r.LastMoveTime = &base

	if r.tickLocked(base.Add(time.Hour)) {
		t.Fatal("non-playing room ticked")
	}
	if r.WhiteTimeMs != 300000 {
		t.Fatalf("clock moved in waiting state: %d", r.WhiteTimeMs)
	}
}

func TestFinishIsOneShot(t *testing.T) {
	r := playingRoom()
	now := time.Now()

	if !r.finishLocked(1, "king_capture", now) {
		t.Fatal("first finish rejected")
	}
	if r.finishLocked(0, "timeout", now.Add(time.Second)) {
		t.Fatal("second finish accepted")
	}
	if *r.Winner != 1 || r.FinishedBy != "king_capture" {
		t.Fatalf("later finish overwrote result: winner=%d by=%s", *r.Winner, r.FinishedBy)
	}
}

func TestConcurrentFinishSingleWinner(t *testing.T) {
	r := playingRoom()
	now := time.Now()

	// King capture and timeout racing on the same room: only one
	// transition may win.
	const n = 8
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reason := "king_capture"
			if i%2 == 0 {
				reason = "timeout"
			}
			r.mu.Lock()
			won := r.finishLocked(i%2, reason, now)
			r.mu.Unlock()
			results <- won
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for won := range results {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("%d finish transitions won, want exactly 1", winners)
	}
	if r.Winner == nil || r.FinishedAt == nil {
		t.Fatal("winner or finish timestamp missing")
	}
}

func TestClockSkewClampedToZero(t *testing.T) {
	r := playingRoom()
	base := time.Now()
	r.LastMoveTime = &base

	// Reads from before the reference timestamp must not refund time.
	r.tickLocked(base.Add(-10 * time.Second))
	if r.WhiteTimeMs != 300000 {
		t.Fatalf("negative elapsed credited time: %d", r.WhiteTimeMs)
	}
}
