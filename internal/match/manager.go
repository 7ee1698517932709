package match

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castlemate/castlemate/internal/ledger"
	"github.com/castlemate/castlemate/internal/obslog"
	"github.com/castlemate/castlemate/internal/oracle"
	"github.com/castlemate/castlemate/internal/txguard"
)

// codeAlphabet excludes easily-confused characters (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// walletAlphabet is the base58 set used for the plausibility check on
// wallet identities.
const walletAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Config tunes the registry and the payment gate.
type Config struct {
	InitialClockMs int64

	FinishedRetention time.Duration
	IdleRetention     time.Duration

	TokenSymbol   string
	TokenMint     string
	TokenDecimals int

	// DepositAddress is the platform address players pay into; shown
	// on room snapshots and enforced when StrictDeposits is on.
	DepositAddress string

	// StrictDeposits additionally verifies amount, mint, and recipient
	// on deposit transactions. Off by default: verification trusts
	// transaction existence and success status only.
	StrictDeposits bool

	LedgerTimeout time.Duration
}

// Manager is the match registry: it owns every Room and is the only
// entry point for room mutation. Operations on different rooms never
// contend; operations on the same room serialize on the room lock.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	oracle  *oracle.Oracle
	ledger  ledger.Client
	guard   txguard.Guard
	settler *Settler

	cfg Config

	now func() time.Time
}

func NewManager(o *oracle.Oracle, lc ledger.Client, guard txguard.Guard, settler *Settler, cfg Config) *Manager {
	if cfg.InitialClockMs <= 0 {
		cfg.InitialClockMs = 5 * 60 * 1000
	}
	if cfg.FinishedRetention <= 0 {
		cfg.FinishedRetention = 2 * time.Minute
	}
	if cfg.IdleRetention <= 0 {
		cfg.IdleRetention = time.Hour
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 15 * time.Second
	}
	return &Manager{
		rooms:   make(map[string]*Room),
		oracle:  o,
		ledger:  lc,
		guard:   guard,
		settler: settler,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Create opens a room with the creator in slot 0 (white). The oracle
// price is snapshotted once; the token stake stays fixed for the
// room's lifetime even if the price moves.
func (m *Manager) Create(ctx context.Context, entryFeeUsd float64, creatorWallet string) (*RoomView, error) {
	creatorWallet = strings.TrimSpace(creatorWallet)
	if !validWallet(creatorWallet) {
		return nil, ErrInvalidIdentity
	}
	if entryFeeUsd <= 0 {
		return nil, ErrInvalidFee
	}

	price := m.oracle.PriceUSD(ctx)
	tokenAmount := int64(math.Floor(entryFeeUsd / price))
	if tokenAmount <= 0 {
		return nil, ErrInvalidFee
	}

	now := m.now()
	room := &Room{
		ID:                   uuid.NewString(),
		Status:               StatusWaitingPlayers,
		EntryFeeUsd:          entryFeeUsd,
		TokenAmount:          tokenAmount,
		TokenPriceAtCreation: price,
		Board:                startingBoard(),
		CurrentTurn:          White,
		WhiteTimeMs:          m.cfg.InitialClockMs,
		BlackTimeMs:          m.cfg.InitialClockMs,
		CreatedAt:            now,
		Players: []*Player{
			{ID: 0, Wallet: creatorWallet, Color: White},
		},
	}

	m.mu.Lock()
	for {
		code, err := generateCode()
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if _, taken := m.rooms[code]; taken {
			continue // practically unreachable; regenerate anyway
		}
		room.Code = code
		m.rooms[code] = room
		break
	}
	m.mu.Unlock()

	obslog.L().Info("room_create",
		zap.String("room", room.Code),
		zap.Float64("entry_fee_usd", entryFeeUsd),
		zap.Float64("token_price", price),
		zap.Int64("token_amount", tokenAmount),
	)
	return m.viewOf(room), nil
}

// Get returns the room by code, upper-casing the lookup.
func (m *Manager) Get(code string) (*Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	m.mu.RLock()
	room, ok := m.rooms[code]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Join seats the second player in slot 1 (black) and advances the room
// to waiting_payments.
func (m *Manager) Join(ctx context.Context, code, wallet string) (*RoomView, error) {
	wallet = strings.TrimSpace(wallet)
	if !validWallet(wallet) {
		return nil, ErrInvalidIdentity
	}
	room, err := m.Get(code)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	if len(room.Players) >= 2 {
		room.mu.Unlock()
		return nil, ErrRoomFull
	}
	if room.Status != StatusWaitingPlayers {
		room.mu.Unlock()
		return nil, ErrWrongState
	}
	for _, p := range room.Players {
		if p.Wallet == wallet {
			room.mu.Unlock()
			return nil, ErrDuplicateIdentity
		}
	}
	room.Players = append(room.Players, &Player{ID: 1, Wallet: wallet, Color: Black})
	room.Status = StatusWaitingPayments
	room.mu.Unlock()

	obslog.L().Info("room_join", zap.String("room", room.Code))
	return m.viewOf(room), nil
}

// VerifyPayment consumes a ledger transaction as proof of deposit and
// binds it to a payment slot. The ledger lookup runs outside the room
// lock; the commit re-validates state afterwards, and the replay guard
// is only written once the commit is certain to succeed, so a failed
// request never consumes the transaction id.
func (m *Manager) VerifyPayment(ctx context.Context, code, txID, payerWallet string) (*RoomView, string, error) {
	payerWallet = strings.TrimSpace(payerWallet)
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, "", ErrTxNotFound
	}
	if !validWallet(payerWallet) {
		return nil, "", ErrInvalidIdentity
	}
	room, err := m.Get(code)
	if err != nil {
		return nil, "", err
	}

	// Optimistic precheck before hitting the network.
	room.mu.Lock()
	if room.Status == StatusPlaying || room.Status == StatusFinished {
		room.mu.Unlock()
		return nil, "", ErrWrongState
	}
	if _, slotErr := findPaymentSlot(room.Players, payerWallet); slotErr != nil {
		room.mu.Unlock()
		return nil, "", slotErr
	}
	room.mu.Unlock()

	if seen, gerr := m.guard.Seen(ctx, txID); gerr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrReplayGuardDown, gerr)
	} else if seen {
		return nil, "", ErrAlreadyProcessed
	}

	lctx, cancel := context.WithTimeout(ctx, m.cfg.LedgerTimeout)
	tx, lerr := m.ledger.Transaction(lctx, txID)
	cancel()
	if lerr != nil {
		if errors.Is(lerr, ledger.ErrTxNotFound) {
			return nil, "", ErrTxNotFound
		}
		return nil, "", fmt.Errorf("%w: %v", ErrLedgerUnavail, lerr)
	}
	if tx.Status != ledger.TxSuccess {
		return nil, "", ErrTxFailed
	}
	if m.cfg.StrictDeposits {
		if err := m.checkDeposit(room, tx); err != nil {
			return nil, "", err
		}
	}

	// Commit: re-validate under the room lock, then consume the tx id.
	room.mu.Lock()
	if room.Status == StatusPlaying || room.Status == StatusFinished {
		room.mu.Unlock()
		return nil, "", ErrWrongState
	}
	slot, slotErr := findPaymentSlot(room.Players, payerWallet)
	if slotErr != nil {
		room.mu.Unlock()
		return nil, "", slotErr
	}
	first, gerr := m.guard.Register(ctx, txID)
	if gerr != nil {
		room.mu.Unlock()
		return nil, "", fmt.Errorf("%w: %v", ErrReplayGuardDown, gerr)
	}
	if !first {
		room.mu.Unlock()
		return nil, "", ErrAlreadyProcessed
	}

	slot.Paid = true
	room.ConfirmedPayments++
	started := false
	if len(room.Players) == 2 && room.ConfirmedPayments == 2 {
		room.Status = StatusPlaying
		t := m.now()
		room.LastMoveTime = &t
		started = true
	}
	confirmed := room.ConfirmedPayments
	room.mu.Unlock()

	obslog.L().Info("payment_confirm",
		zap.String("room", room.Code),
		zap.String("tx", txID),
		zap.Int("slot", slot.ID),
		zap.Int("confirmed", confirmed),
		zap.Bool("started", started),
	)

	msg := fmt.Sprintf("payment confirmed (%d/2)", confirmed)
	if started {
		msg = "all payments confirmed, game started"
	}
	return m.viewOf(room), msg, nil
}

// findPaymentSlot picks the first unpaid slot whose identity is unbound
// or matches the payer. Caller holds the room lock.
func findPaymentSlot(players []*Player, payer string) (*Player, error) {
	unpaid := 0
	for _, p := range players {
		if !p.Paid {
			unpaid++
		}
	}
	if unpaid == 0 {
		return nil, ErrAllSlotsPaid
	}
	for _, p := range players {
		if p.Paid {
			continue
		}
		if p.Wallet == "" || p.Wallet == payer {
			// Anti-self-play: the payer must not already hold the
			// other slot as well.
			for _, other := range players {
				if other.ID != p.ID && other.Wallet == payer && other.Paid {
					return nil, ErrSelfPlay
				}
			}
			return p, nil
		}
	}
	// The payer already paid their own slot, or is a stranger with no
	// unbound slot to claim.
	for _, p := range players {
		if p.Wallet == payer && p.Paid {
			return nil, ErrAllSlotsPaid
		}
	}
	return nil, ErrInvalidIdentity
}

// checkDeposit is the hardened verification: amount, mint, and
// recipient all have to match the room's requirements.
func (m *Manager) checkDeposit(room *Room, tx *ledger.Transaction) error {
	room.mu.Lock()
	required := smallestUnits(room.TokenAmount, m.cfg.TokenDecimals)
	room.mu.Unlock()

	if tx.Mint != m.cfg.TokenMint {
		return ErrDepositMismatch
	}
	if tx.Amount < required {
		return ErrDepositMismatch
	}
	if m.cfg.DepositAddress != "" && tx.To != m.cfg.DepositAddress {
		return ErrDepositMismatch
	}
	return nil
}

// ApplyMove validates and applies one half-move. The clock ticks
// first; a tick that times the mover out returns the timeout result
// instead of processing the move.
func (m *Manager) ApplyMove(ctx context.Context, code string, playerID int, from, to Square) (*MoveResult, error) {
	room, err := m.Get(code)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	if room.Status == StatusFinished {
		room.mu.Unlock()
		return nil, ErrGameOver
	}
	if room.Status != StatusPlaying {
		room.mu.Unlock()
		return nil, ErrWrongState
	}
	if room.Winner != nil {
		room.mu.Unlock()
		return nil, ErrGameOver
	}

	now := m.now()
	if room.tickLocked(now) {
		res := room.moveResultLocked()
		room.mu.Unlock()
		m.settler.Settle(ctx, room)
		obslog.L().Info("room_finish",
			zap.String("room", room.Code),
			zap.String("reason", "timeout"),
			zap.Intp("winner", res.Winner),
		)
		return res, nil
	}

	if err := room.validateMoveLocked(playerID, from, to); err != nil {
		room.mu.Unlock()
		return nil, err
	}

	if room.applyMoveLocked(from, to) {
		// King captured: terminal.
		room.finishLocked(playerID, "king_capture", now)
		res := room.moveResultLocked()
		room.mu.Unlock()
		m.settler.Settle(ctx, room)
		obslog.L().Info("room_finish",
			zap.String("room", room.Code),
			zap.String("reason", "king_capture"),
			zap.Intp("winner", res.Winner),
		)
		return res, nil
	}

	t := now
	room.LastMoveTime = &t
	room.CurrentTurn = room.CurrentTurn.Other()
	res := room.moveResultLocked()
	room.mu.Unlock()

	obslog.L().Debug("room_move",
		zap.String("room", room.Code),
		zap.Int("player", playerID),
		zap.String("turn", string(res.CurrentTurn)),
	)
	return res, nil
}

// moveResultLocked snapshots the post-move state. Caller holds the
// room lock.
func (r *Room) moveResultLocked() *MoveResult {
	res := &MoveResult{
		GameOver:    r.Status == StatusFinished,
		Board:       r.Board,
		CurrentTurn: r.CurrentTurn,
		WhiteTimeMs: r.WhiteTimeMs,
		BlackTimeMs: r.BlackTimeMs,
	}
	if r.Winner != nil {
		w := *r.Winner
		res.Winner = &w
	}
	if r.LastMove != nil {
		mv := *r.LastMove
		res.LastMove = &mv
	}
	return res
}

// State returns the full current room view. Reading state ticks the
// clock, so a timed-out room settles on the next poll.
func (m *Manager) State(ctx context.Context, code string) (*RoomView, error) {
	room, err := m.Get(code)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	timedOut := room.tickLocked(m.now())
	room.mu.Unlock()
	if timedOut {
		m.settler.Settle(ctx, room)
		obslog.L().Info("room_finish", zap.String("room", room.Code), zap.String("reason", "timeout"))
	}
	return m.viewOf(room), nil
}

// Payments returns the payment summary for a room.
func (m *Manager) Payments(code string) (*PaymentsView, error) {
	room, err := m.Get(code)
	if err != nil {
		return nil, err
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return &PaymentsView{
		Code:              room.Code,
		Status:            room.Status,
		ConfirmedPayments: room.ConfirmedPayments,
		RequiredAmount:    room.TokenAmount,
		CanStart:          len(room.Players) == 2 && room.ConfirmedPayments == 2,
	}, nil
}

// Expire removes finished rooms past the retention window and
// never-started rooms idle past the longer window. Runs off the
// request path on an interval.
func (m *Manager) Expire(now time.Time) int {
	m.mu.RLock()
	candidates := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		candidates = append(candidates, r)
	}
	m.mu.RUnlock()

	var expired []string
	for _, r := range candidates {
		r.mu.Lock()
		switch {
		case r.Status == StatusFinished && r.FinishedAt != nil && now.Sub(*r.FinishedAt) > m.cfg.FinishedRetention:
			expired = append(expired, r.Code)
		case (r.Status == StatusWaitingPlayers || (r.Status == StatusWaitingPayments && r.ConfirmedPayments == 0)) &&
			now.Sub(r.CreatedAt) > m.cfg.IdleRetention:
			expired = append(expired, r.Code)
		}
		r.mu.Unlock()
	}
	if len(expired) == 0 {
		return 0
	}

	m.mu.Lock()
	for _, code := range expired {
		delete(m.rooms, code)
	}
	m.mu.Unlock()

	obslog.L().Info("room_expire", zap.Int("count", len(expired)))
	return len(expired)
}

// SweepClocks ticks every playing room once so timed-out games settle
// without waiting for a poll. Optional; guarded by the same one-shot
// finish transition as the read path.
func (m *Manager) SweepClocks(ctx context.Context) {
	m.mu.RLock()
	candidates := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		candidates = append(candidates, r)
	}
	m.mu.RUnlock()

	for _, r := range candidates {
		r.mu.Lock()
		timedOut := r.tickLocked(m.now())
		r.mu.Unlock()
		if timedOut {
			m.settler.Settle(ctx, r)
			obslog.L().Info("room_finish", zap.String("room", r.Code), zap.String("reason", "timeout"))
		}
	}
}

// viewOf builds the sanitized snapshot.
func (m *Manager) viewOf(r *Room) *RoomView {
	r.mu.Lock()
	defer r.mu.Unlock()

	view := &RoomView{
		Code:                 r.Code,
		Status:               r.Status,
		EntryFeeUsd:          r.EntryFeeUsd,
		TokenAmount:          r.TokenAmount,
		TokenSymbol:          m.cfg.TokenSymbol,
		TokenDecimals:        m.cfg.TokenDecimals,
		TokenPriceAtCreation: r.TokenPriceAtCreation,
		DepositAddress:       m.cfg.DepositAddress,
		ConfirmedPayments:    r.ConfirmedPayments,
		Board:                r.Board,
		CurrentTurn:          r.CurrentTurn,
		WhiteTimeMs:          r.WhiteTimeMs,
		BlackTimeMs:          r.BlackTimeMs,
		CreatedAt:            r.CreatedAt,
		PayoutTx:             r.PayoutTx,
		PayoutAmount:         r.PayoutAmount,
		PayoutError:          r.PayoutError,
	}
	if r.LastMove != nil {
		mv := *r.LastMove
		view.LastMove = &mv
	}
	if r.Winner != nil {
		w := *r.Winner
		view.Winner = &w
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		view.FinishedAt = &t
	}
	if r.PayoutTime != nil {
		t := *r.PayoutTime
		view.PayoutTime = &t
	}
	for _, p := range r.Players {
		view.Players = append(view.Players, *p)
	}
	return view
}

func generateCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}

func validWallet(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(walletAlphabet, c) {
			return false
		}
	}
	return true
}
