// Package history is the match-history/profile ledger. It receives
// exactly one result event per finished room and keeps per-wallet
// win/loss/earnings counters.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Result is the event emitted once per finished room.
type Result struct {
	RoomID       string
	RoomCode     string
	WinnerWallet string
	LoserWallet  string
	EntryFeeUsd  float64
	TokenAmount  int64
	PayoutAmount int64
	Reason       string // "king_capture" or "timeout"
	FinishedAt   time.Time
}

// Profile aggregates a wallet's results.
type Profile struct {
	Wallet       string
	Wins         int
	Losses       int
	Earnings     int64 // display token units, net of commission
	LastPlayedAt time.Time
	UpdatedAt    time.Time
}

type Recorder interface {
	// RecordResult stores the result and bumps both profiles. Keyed by
	// room ID, so a repeated delivery is a no-op.
	RecordResult(ctx context.Context, res *Result) error
	// Profile returns the profile for a wallet, or nil when unknown.
	Profile(ctx context.Context, wallet string) (*Profile, error)
}

// Repository is the Postgres-backed Recorder.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) RecordResult(ctx context.Context, res *Result) error {
	if r == nil || r.db == nil || res == nil {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := tx.ExecContext(ctx, `INSERT INTO match_results (
	    room_id, room_code, winner_wallet, loser_wallet,
	    entry_fee_usd, token_amount, payout_amount, reason, finished_at
	  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	  ON CONFLICT (room_id) DO NOTHING`,
		res.RoomID, res.RoomCode, res.WinnerWallet, res.LoserWallet,
		res.EntryFeeUsd, res.TokenAmount, res.PayoutAmount, res.Reason, res.FinishedAt,
	)
	if err != nil {
		return err
	}
	if n, err := inserted.RowsAffected(); err == nil && n == 0 {
		// Duplicate delivery: profiles were already bumped.
		return tx.Commit()
	}

	winnerGain := res.PayoutAmount - res.TokenAmount
	if err := upsertProfile(ctx, tx, res.WinnerWallet, 1, 0, winnerGain, res.FinishedAt); err != nil {
		return err
	}
	if err := upsertProfile(ctx, tx, res.LoserWallet, 0, 1, -res.TokenAmount, res.FinishedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertProfile(ctx context.Context, tx *sql.Tx, wallet string, wins, losses int, earnings int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO profiles (
	    wallet, wins, losses, earnings, last_played_at, updated_at
	  ) VALUES ($1,$2,$3,$4,$5,$5)
	  ON CONFLICT (wallet) DO UPDATE SET
	    wins=profiles.wins+EXCLUDED.wins,
	    losses=profiles.losses+EXCLUDED.losses,
	    earnings=profiles.earnings+EXCLUDED.earnings,
	    last_played_at=EXCLUDED.last_played_at,
	    updated_at=EXCLUDED.updated_at`,
		wallet, wins, losses, earnings, at,
	)
	return err
}

func (r *Repository) Profile(ctx context.Context, wallet string) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT wallet, wins, losses, earnings, last_played_at, updated_at
	  FROM profiles WHERE wallet = $1`, wallet)
	var p Profile
	if err := row.Scan(&p.Wallet, &p.Wins, &p.Losses, &p.Earnings, &p.LastPlayedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
