package match

import "strings"

// Piece codes are single letters, uppercase for white, lowercase for
// black, empty string for an empty square.
// No move geometry is enforced anywhere; games end by king capture or
// clock expiry only.

func startingBoard() [8][8]string {
	return [8][8]string{
		{"r", "n", "b", "q", "k", "b", "n", "r"},
		{"p", "p", "p", "p", "p", "p", "p", "p"},
		{"", "", "", "", "", "", "", ""},
		{"", "", "", "", "", "", "", ""},
		{"", "", "", "", "", "", "", ""},
		{"", "", "", "", "", "", "", ""},
		{"P", "P", "P", "P", "P", "P", "P", "P"},
		{"R", "N", "B", "Q", "K", "B", "N", "R"},
	}
}

func inBounds(s Square) bool {
	return s.Row >= 0 && s.Row < 8 && s.Col >= 0 && s.Col < 8
}

func pieceColor(code string) Color {
	if code == strings.ToUpper(code) {
		return White
	}
	return Black
}

func isKing(code string) bool {
	return code == "K" || code == "k"
}

// validateMoveLocked checks the move preconditions that do not depend
// on the clock. Check order is fixed: bounds, player, turn, piece,
// ownership. Caller holds the room lock and has already verified
// status and winner.
func (r *Room) validateMoveLocked(playerID int, from, to Square) error {
	if !inBounds(from) || !inBounds(to) {
		return ErrOutOfBounds
	}
	if playerID < 0 || playerID >= len(r.Players) {
		return ErrInvalidPlayer
	}
	player := r.Players[playerID]
	if player.Color != r.CurrentTurn {
		return ErrNotYourTurn
	}
	piece := r.Board[from.Row][from.Col]
	if piece == "" {
		return ErrNoPiece
	}
	if pieceColor(piece) != player.Color {
		return ErrNotYourPiece
	}
	return nil
}

// applyMoveLocked mutates the board and reports whether the move
// captured a king. Capture is by overwrite; no other bookkeeping.
func (r *Room) applyMoveLocked(from, to Square) (kingCaptured bool) {
	target := r.Board[to.Row][to.Col]
	kingCaptured = isKing(target)
	r.Board[to.Row][to.Col] = r.Board[from.Row][from.Col]
	r.Board[from.Row][from.Col] = ""
	r.LastMove = &Move{From: from, To: to}
	return kingCaptured
}
