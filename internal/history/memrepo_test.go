package history

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRecorder_RecordAndProfile(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	res := &Result{
		RoomID:       "room-uuid-1",
		RoomCode:     "ABCDEF",
		WinnerWallet: "walletWWWWWWWWWWWWWWWWWWWWWWWWWWWWWWW",
		LoserWallet:  "walletLLLLLLLLLLLLLLLLLLLLLLLLLLLLLLL",
		TokenAmount:  500,
		PayoutAmount: 900,
		Reason:       "king_capture",
		FinishedAt:   time.Now(),
	}
	if err := rec.RecordResult(ctx, res); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	w, err := rec.Profile(ctx, res.WinnerWallet)
	if err != nil || w == nil {
		t.Fatalf("winner profile: %v %v", w, err)
	}
	if w.Wins != 1 || w.Losses != 0 || w.Earnings != 400 {
		t.Fatalf("winner profile = %+v", w)
	}

	l, err := rec.Profile(ctx, res.LoserWallet)
	if err != nil || l == nil {
		t.Fatalf("loser profile: %v %v", l, err)
	}
	if l.Wins != 0 || l.Losses != 1 || l.Earnings != -500 {
		t.Fatalf("loser profile = %+v", l)
	}
}

func TestMemoryRecorder_DuplicateDeliveryIsNoop(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	res := &Result{
		RoomID:       "room-uuid-2",
		RoomCode:     "GHJKLM",
		WinnerWallet: "walletAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		LoserWallet:  "walletBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
		TokenAmount:  100,
		PayoutAmount: 180,
		FinishedAt:   time.Now(),
	}
	for i := 0; i < 3; i++ {
		if err := rec.RecordResult(ctx, res); err != nil {
			t.Fatalf("RecordResult #%d: %v", i, err)
		}
	}

	w, _ := rec.Profile(ctx, res.WinnerWallet)
	if w == nil || w.Wins != 1 {
		t.Fatalf("winner wins = %+v, want exactly 1", w)
	}
}
