package match

import "time"

// The clock is lazy: time only advances when something reads it. Each
// tick deducts wall-clock elapsed time from the side to move and
// resets the reference timestamp. A room with no traffic after a clock
// hits zero will not resolve until the next read (or the optional
// background sweep).

// tickLocked advances the active side's clock to now. Returns true if
// the tick itself ended the game by timeout, in which case the room is
// already transitioned to finished with the opposite side as winner.
// Caller holds the room lock.
func (r *Room) tickLocked(now time.Time) (timedOut bool) {
	if r.Status != StatusPlaying || r.LastMoveTime == nil {
		return false
	}
	elapsed := now.Sub(*r.LastMoveTime).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}

	remaining := &r.WhiteTimeMs
	if r.CurrentTurn == Black {
		remaining = &r.BlackTimeMs
	}
	*remaining -= elapsed
	if *remaining < 0 {
		*remaining = 0
	}
	t := now
	r.LastMoveTime = &t

	if *remaining > 0 {
		return false
	}

	// The side to move ran out: the opponent wins.
	winner := 0
	if r.CurrentTurn == r.Players[0].Color {
		winner = 1
	}
	return r.finishLocked(winner, "timeout", now)
}

// finishLocked is the one-shot terminal transition. It returns true
// only for the single caller that wins the race; every later caller
// observes Status == StatusFinished and gets false. Settlement hangs
// off this return value, which is what makes it exactly-once.
func (r *Room) finishLocked(winner int, reason string, now time.Time) bool {
	if r.Status == StatusFinished {
		return false
	}
	r.Status = StatusFinished
	w := winner
	r.Winner = &w
	t := now
	r.FinishedAt = &t
	r.FinishedBy = reason
	r.LastMoveTime = nil
	return true
}
