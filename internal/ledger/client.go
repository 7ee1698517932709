// Package ledger abstracts the blockchain node the platform settles
// against. The match core only ever sees the Client interface; the HTTP
// implementation lives in httpclient.go and a stub lives in the tests
// that need one.
package ledger

import (
	"context"
	"errors"
)

// TxStatus reports how the node classified a transaction.
type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

// Transaction is the node's view of a confirmed transaction.
type Transaction struct {
	ID        string   `json:"id"`
	Status    TxStatus `json:"status"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Mint      string   `json:"mint"`
	Amount    uint64   `json:"amount"` // smallest token units
	Timestamp int64    `json:"timestamp"`
}

// Transfer is a payout instruction submitted to the node. Amount is in
// the token's smallest units. Signature covers all fields except itself.
type Transfer struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Mint      string `json:"mint"`
	Amount    uint64 `json:"amount"`
	Memo      string `json:"memo,omitempty"`
	SignedAt  int64  `json:"signed_at"`
	Signature string `json:"signature,omitempty"`
}

var (
	// ErrTxNotFound means the node has no record of the transaction.
	ErrTxNotFound = errors.New("ledger: transaction not found")
	// ErrSubmitRejected means the node refused the transfer outright.
	ErrSubmitRejected = errors.New("ledger: transfer rejected")
)

// Client is the three-operation surface the match core consumes.
type Client interface {
	// Transaction fetches a transaction by its signature.
	Transaction(ctx context.Context, id string) (*Transaction, error)
	// DepositAddress resolves the deposit/payout address derived from a
	// (mint, owner) pair.
	DepositAddress(ctx context.Context, mint, owner string) (string, error)
	// SubmitTransfer submits a signed transfer and returns the
	// ledger-assigned transaction signature.
	SubmitTransfer(ctx context.Context, t *Transfer) (string, error)
}
