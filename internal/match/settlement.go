package match

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/castlemate/castlemate/internal/history"
	"github.com/castlemate/castlemate/internal/journal"
	"github.com/castlemate/castlemate/internal/ledger"
	"github.com/castlemate/castlemate/internal/obslog"
)

// SettleConfig carries the platform's payout parameters.
type SettleConfig struct {
	TokenSymbol    string
	TokenMint      string
	TokenDecimals  int
	CommissionRate float64

	// PayoutKey is the platform's signing key. Nil means receive-only
	// mode: settlement records the result but submits nothing.
	PayoutKey ledger.PrivateKey

	Timeout time.Duration
}

// Settler performs the one-shot payout after a room finishes. Delivery
// is at-most-once: a failed submission is recorded on the room and in
// the journal and is never retried automatically, because a client-side
// error does not prove the transfer failed on-chain. Recovery is manual
// reconciliation against the journal's failed entries.
type Settler struct {
	ledger   ledger.Client
	recorder history.Recorder
	journal  *journal.Journal
	cfg      SettleConfig
}

// NewSettler wires the settlement engine. recorder and jnl may be nil.
func NewSettler(lc ledger.Client, recorder history.Recorder, jnl *journal.Journal, cfg SettleConfig) *Settler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Settler{ledger: lc, recorder: recorder, journal: jnl, cfg: cfg}
}

// PayoutAmount computes the winner's payout in display token units:
// floor(2T * (1 - commission)).
func PayoutAmount(tokenAmount int64, commissionRate float64) int64 {
	return int64(math.Floor(float64(2*tokenAmount) * (1 - commissionRate)))
}

// smallestUnits converts display units at the transfer boundary.
func smallestUnits(amount int64, decimals int) uint64 {
	u := uint64(amount)
	for i := 0; i < decimals; i++ {
		u *= 10
	}
	return u
}

type settleSnapshot struct {
	roomID       string
	code         string
	winner       int
	winnerWallet string
	loserWallet  string
	entryFeeUsd  float64
	tokenAmount  int64
	reason       string
	finishedAt   time.Time
}

// Settle runs settlement for a room that just transitioned to
// finished. The caller must hold no room lock and must call this at
// most once per room; the finished transition is the guard.
func (s *Settler) Settle(ctx context.Context, r *Room) {
	snap, ok := s.snapshot(r)
	if !ok {
		return
	}

	log := obslog.L().With(zap.String("room", snap.code), zap.Int("winner", snap.winner))

	payout := PayoutAmount(snap.tokenAmount, s.cfg.CommissionRate)

	if s.recorder != nil && snap.winnerWallet != "" && snap.loserWallet != "" {
		res := &history.Result{
			RoomID:       snap.roomID,
			RoomCode:     snap.code,
			WinnerWallet: snap.winnerWallet,
			LoserWallet:  snap.loserWallet,
			EntryFeeUsd:  snap.entryFeeUsd,
			TokenAmount:  snap.tokenAmount,
			PayoutAmount: payout,
			Reason:       snap.reason,
			FinishedAt:   snap.finishedAt,
		}
		if err := s.recorder.RecordResult(ctx, res); err != nil {
			log.Error("settle_record_error", zap.Error(err))
		}
	}

	if len(s.cfg.PayoutKey) == 0 {
		// Valid platform configuration (receive-only); intentionally
		// silent beyond this log line.
		log.Info("settle_skip_no_payout_key")
		return
	}

	tx, err := s.submitPayout(ctx, snap, payout)

	now := time.Now()
	entry := &journal.Entry{
		RoomID:       snap.roomID,
		RoomCode:     snap.code,
		WinnerWallet: snap.winnerWallet,
		PayoutAmount: payout,
		SettledAt:    now,
	}

	r.mu.Lock()
	if err != nil {
		if r.PayoutTx == "" && r.PayoutError == "" {
			r.PayoutError = err.Error()
		}
		entry.PayoutError = err.Error()
	} else {
		if r.PayoutTx == "" && r.PayoutError == "" {
			r.PayoutTx = tx
			r.PayoutAmount = payout
			t := now
			r.PayoutTime = &t
		}
		entry.PayoutTx = tx
	}
	r.mu.Unlock()

	if s.journal != nil {
		if jerr := s.journal.Append(entry); jerr != nil {
			log.Error("settle_journal_error", zap.Error(jerr))
		}
	}

	if err != nil {
		log.Error("settle_payout_error", zap.Int64("payout", payout), zap.Error(err))
		return
	}
	log.Info("settle_payout_ok", zap.Int64("payout", payout), zap.String("payout_tx", tx))
}

// snapshot copies the fields settlement needs. Returns false when the
// room is not actually finished or a payout outcome already exists.
func (s *Settler) snapshot(r *Room) (settleSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status != StatusFinished || r.Winner == nil {
		return settleSnapshot{}, false
	}
	if r.PayoutTx != "" || r.PayoutError != "" {
		return settleSnapshot{}, false
	}
	winner := *r.Winner
	loser := 1 - winner
	snap := settleSnapshot{
		roomID:      r.ID,
		code:        r.Code,
		winner:      winner,
		entryFeeUsd: r.EntryFeeUsd,
		tokenAmount: r.TokenAmount,
		reason:      r.FinishedBy,
	}
	if r.FinishedAt != nil {
		snap.finishedAt = *r.FinishedAt
	}
	if winner < len(r.Players) {
		snap.winnerWallet = r.Players[winner].Wallet
	}
	if loser >= 0 && loser < len(r.Players) {
		snap.loserWallet = r.Players[loser].Wallet
	}
	return snap, true
}

func (s *Settler) submitPayout(ctx context.Context, snap settleSnapshot, payout int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	platform := s.cfg.PayoutKey.PublicKeyHex()
	from, err := s.ledger.DepositAddress(ctx, s.cfg.TokenMint, platform)
	if err != nil {
		return "", err
	}
	to, err := s.ledger.DepositAddress(ctx, s.cfg.TokenMint, snap.winnerWallet)
	if err != nil {
		return "", err
	}

	transfer := &ledger.Transfer{
		From:     from,
		To:       to,
		Mint:     s.cfg.TokenMint,
		Amount:   smallestUnits(payout, s.cfg.TokenDecimals),
		Memo:     "castlemate:" + snap.code,
		SignedAt: time.Now().Unix(),
	}
	if err := transfer.Sign(s.cfg.PayoutKey); err != nil {
		return "", err
	}
	return s.ledger.SubmitTransfer(ctx, transfer)
}
