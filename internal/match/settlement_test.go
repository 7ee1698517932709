package match

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/castlemate/castlemate/internal/history"
	"github.com/castlemate/castlemate/internal/ledger"
)

func testPayoutKey(t *testing.T) ledger.PrivateKey {
	t.Helper()
	key, err := ledger.PrivateKeyFromHex(strings.Repeat("11", 32))
	if err != nil {
		t.Fatalf("payout key: %v", err)
	}
	return key
}

func finishedRoom() *Room {
	r := playingRoom()
	r.Players[0].Wallet = walletA
	r.Players[1].Wallet = walletB
	r.EntryFeeUsd = 5.0
	r.TokenAmount = 500
	r.finishLocked(0, "king_capture", time.Now())
	return r
}

func TestPayoutAmount(t *testing.T) {
	cases := []struct {
		stake int64
		rate  float64
		want  int64
	}{
		{500, 0.10, 900},
		{500, 0, 1000},
		{1, 0.10, 1},   // floor(1.8)
		{333, 0.05, 632}, // floor(632.7)
	}
	for _, tc := range cases {
		if got := PayoutAmount(tc.stake, tc.rate); got != tc.want {
			t.Errorf("PayoutAmount(%d, %v) = %d, want %d", tc.stake, tc.rate, got, tc.want)
		}
	}
}

func TestSmallestUnits(t *testing.T) {
	if got := smallestUnits(900, 6); got != 900_000_000 {
		t.Fatalf("smallestUnits(900, 6) = %d", got)
	}
	if got := smallestUnits(900, 0); got != 900 {
		t.Fatalf("smallestUnits(900, 0) = %d", got)
	}
}

func TestSettleSubmitsPayout(t *testing.T) {
	lc := newStubLedger()
	key := testPayoutKey(t)
	repo := history.NewMemoryRecorder()
	s := NewSettler(lc, repo, nil, SettleConfig{
		TokenMint:      "mint-1",
		TokenDecimals:  6,
		CommissionRate: 0.10,
		PayoutKey:      key,
	})

	r := finishedRoom()
	s.Settle(context.Background(), r)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PayoutTx != "payout-tx-1" {
		t.Fatalf("payout tx = %q", r.PayoutTx)
	}
	if r.PayoutAmount != 900 {
		t.Fatalf("payout amount = %d, want 900", r.PayoutAmount)
	}
	if r.PayoutError != "" {
		t.Fatalf("payout error set: %q", r.PayoutError)
	}

	if len(lc.transfers) != 1 {
		t.Fatalf("%d transfers submitted", len(lc.transfers))
	}
	tr := lc.transfers[0]
	if tr.Amount != smallestUnits(900, 6) {
		t.Fatalf("transfer amount = %d", tr.Amount)
	}
	if tr.To != "addr:"+walletA {
		t.Fatalf("transfer destination = %q", tr.To)
	}
	if !strings.HasPrefix(tr.Memo, "castlemate:") {
		t.Fatalf("memo = %q", tr.Memo)
	}
	if !tr.VerifySignature(key.PublicKeyHex()) {
		t.Fatal("transfer signature does not verify")
	}

	p, err := repo.Profile(context.Background(), walletA)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Wins != 1 || p.Earnings != 400 {
		t.Fatalf("winner profile: %+v", p)
	}
}

func TestSettleIsOneShot(t *testing.T) {
	lc := newStubLedger()
	s := NewSettler(lc, nil, nil, SettleConfig{
		TokenDecimals:  6,
		CommissionRate: 0.10,
		PayoutKey:      testPayoutKey(t),
	})

	r := finishedRoom()
	s.Settle(context.Background(), r)
	s.Settle(context.Background(), r)

	if len(lc.transfers) != 1 {
		t.Fatalf("%d transfers, want 1", len(lc.transfers))
	}
}

func TestSettleRecordsFailureWithoutRetry(t *testing.T) {
	lc := newStubLedger()
	lc.submitErr = errors.New("node unreachable")
	s := NewSettler(lc, nil, nil, SettleConfig{
		TokenDecimals:  6,
		CommissionRate: 0.10,
		PayoutKey:      testPayoutKey(t),
	})

	r := finishedRoom()
	s.Settle(context.Background(), r)

	r.mu.Lock()
	payoutErr := r.PayoutError
	payoutTx := r.PayoutTx
	r.mu.Unlock()
	if payoutErr == "" || payoutTx != "" {
		t.Fatalf("failure not recorded: tx=%q err=%q", payoutTx, payoutErr)
	}

	// The recorded error blocks any later attempt, even after the node
	// recovers. Resolution is manual.
	lc.mu.Lock()
	lc.submitErr = nil
	lc.mu.Unlock()
	s.Settle(context.Background(), r)
	if len(lc.transfers) != 0 {
		t.Fatal("settlement retried after recorded failure")
	}
}

func TestSettleWithoutPayoutKey(t *testing.T) {
	lc := newStubLedger()
	repo := history.NewMemoryRecorder()
	s := NewSettler(lc, repo, nil, SettleConfig{TokenDecimals: 6, CommissionRate: 0.10})

	r := finishedRoom()
	s.Settle(context.Background(), r)

	if len(lc.transfers) != 0 {
		t.Fatal("transfer submitted without a payout key")
	}
	// History still records the result.
	p, err := repo.Profile(context.Background(), walletB)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Losses != 1 {
		t.Fatalf("loser profile: %+v", p)
	}
}

func TestSettleSkipsUnfinishedRoom(t *testing.T) {
	lc := newStubLedger()
	s := NewSettler(lc, nil, nil, SettleConfig{TokenDecimals: 6, PayoutKey: testPayoutKey(t)})

	r := playingRoom()
	s.Settle(context.Background(), r)
	if len(lc.transfers) != 0 {
		t.Fatal("unfinished room settled")
	}
}
