// Package match owns the wagered-match core: the room registry, the
// lifecycle state machine, the dual chess clock, move validation, and
// one-shot settlement. Rooms are in-memory entities addressed by a
// short public code; every mutation of a room is serialized on the
// room's own lock.
package match

import (
	"errors"
	"sync"
	"time"
)

type Status string

const (
	StatusWaitingPlayers  Status = "waiting_players"
	StatusWaitingPayments Status = "waiting_payments"
	StatusPlaying         Status = "playing"
	StatusFinished        Status = "finished"
)

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Player occupies one of the two slots in a room. ID doubles as the
// slot index and the color binding: 0 is the creator and always white,
// 1 is the joiner and always black.
type Player struct {
	ID     int    `json:"id"`
	Wallet string `json:"wallet"`
	Color  Color  `json:"color"`
	Paid   bool   `json:"paid"`
}

// Square addresses a board cell, 0..7 on each axis. Row 0 is black's
// back rank.
type Square struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type Move struct {
	From Square `json:"from"`
	To   Square `json:"to"`
}

// Room is one wagered match. All fields are guarded by mu; the manager
// only touches them through withRoom-style critical sections.
type Room struct {
	mu sync.Mutex

	ID   string
	Code string

	Status Status

	EntryFeeUsd          float64
	TokenAmount          int64
	TokenPriceAtCreation float64
	ConfirmedPayments    int

	Board       [8][8]string
	CurrentTurn Color
	LastMove    *Move
	Winner      *int

	WhiteTimeMs  int64
	BlackTimeMs  int64
	LastMoveTime *time.Time

	CreatedAt  time.Time
	FinishedAt *time.Time
	FinishedBy string // "king_capture" or "timeout"

	Players []*Player

	// Settlement audit trail: success and error are mutually exclusive
	// and set at most once.
	PayoutTx     string
	PayoutAmount int64
	PayoutTime   *time.Time
	PayoutError  string
}

// RoomView is the sanitized snapshot returned across the API boundary.
// It never carries payout key material.
type RoomView struct {
	Code                 string       `json:"code"`
	Status               Status       `json:"status"`
	EntryFeeUsd          float64      `json:"entryFeeUsd"`
	TokenAmount          int64        `json:"tokenAmount"`
	TokenSymbol          string       `json:"tokenSymbol"`
	TokenDecimals        int          `json:"tokenDecimals"`
	TokenPriceAtCreation float64      `json:"tokenPriceAtCreation"`
	DepositAddress       string       `json:"depositAddress,omitempty"`
	ConfirmedPayments    int          `json:"confirmedPayments"`
	Board                [8][8]string `json:"board"`
	CurrentTurn          Color        `json:"currentTurn"`
	LastMove             *Move        `json:"lastMove"`
	Winner               *int         `json:"winner"`
	WhiteTimeMs          int64        `json:"whiteTimeMs"`
	BlackTimeMs          int64        `json:"blackTimeMs"`
	Players              []Player     `json:"players"`
	CreatedAt            time.Time    `json:"createdAt"`
	FinishedAt           *time.Time   `json:"finishedAt,omitempty"`
	PayoutTx             string       `json:"payoutTx,omitempty"`
	PayoutAmount         int64        `json:"payoutAmount,omitempty"`
	PayoutTime           *time.Time   `json:"payoutTime,omitempty"`
	PayoutError          string       `json:"payoutError,omitempty"`
}

// PaymentsView is the payment-specific summary for a room.
type PaymentsView struct {
	Code              string `json:"code"`
	Status            Status `json:"status"`
	ConfirmedPayments int    `json:"confirmedPayments"`
	RequiredAmount    int64  `json:"requiredAmount"`
	CanStart          bool   `json:"canStart"`
}

// MoveResult reports the outcome of a single half-move.
type MoveResult struct {
	GameOver    bool         `json:"gameOver"`
	Winner      *int         `json:"winner,omitempty"`
	Board       [8][8]string `json:"board"`
	CurrentTurn Color        `json:"currentTurn"`
	LastMove    *Move        `json:"lastMove,omitempty"`
	WhiteTimeMs int64        `json:"whiteTimeMs"`
	BlackTimeMs int64        `json:"blackTimeMs"`
}

// Client-input errors (terminal for the request).
var (
	ErrRoomFull          = errors.New("room already has two players")
	ErrDuplicateIdentity = errors.New("identity already occupies a slot")
	ErrWrongState        = errors.New("operation not valid in current room state")
	ErrInvalidIdentity   = errors.New("invalid wallet identity")
	ErrInvalidFee        = errors.New("entry fee too low for current token price")
	ErrGameOver          = errors.New("game is already over")
	ErrInvalidPlayer     = errors.New("invalid player id")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrNoPiece           = errors.New("no piece at source square")
	ErrNotYourPiece      = errors.New("not your piece")
	ErrOutOfBounds       = errors.New("square out of bounds")
	ErrSelfPlay          = errors.New("identity cannot occupy both slots")
	ErrAllSlotsPaid      = errors.New("all payment slots already paid")
	ErrAlreadyProcessed  = errors.New("transaction already processed")
	ErrDepositMismatch   = errors.New("deposit does not match room requirements")
)

// Not-found errors.
var ErrRoomNotFound = errors.New("room not found")

// External-dependency errors (retryable by the caller).
var (
	ErrTxNotFound     = errors.New("transaction not found on ledger")
	ErrTxFailed       = errors.New("transaction failed on ledger")
	ErrLedgerUnavail  = errors.New("ledger lookup failed")
	ErrReplayGuardDown = errors.New("replay guard unavailable")
)
