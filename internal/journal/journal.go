// Package journal is the durable settlement audit trail. Every
// settlement outcome, success or failure, is appended to a local
// LevelDB store so operators can reconcile payouts after a restart.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Entry is one settlement outcome. Exactly one of PayoutTx/PayoutError
// is set.
type Entry struct {
	RoomID       string    `json:"room_id"`
	RoomCode     string    `json:"room_code"`
	WinnerWallet string    `json:"winner_wallet"`
	PayoutAmount int64     `json:"payout_amount"`
	PayoutTx     string    `json:"payout_tx,omitempty"`
	PayoutError  string    `json:"payout_error,omitempty"`
	SettledAt    time.Time `json:"settled_at"`
}

// Journal appends settlement entries keyed by room ID. First write
// wins; settlement is at-most-once and the journal mirrors that.
type Journal struct {
	db *leveldb.DB
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func settlementKey(roomID string) []byte {
	return []byte("settlement:" + roomID)
}

// Append records the entry unless one already exists for the room.
func (j *Journal) Append(e *Entry) error {
	if j == nil || j.db == nil || e == nil {
		return nil
	}
	key := settlementKey(e.RoomID)
	if has, err := j.db.Has(key, nil); err != nil {
		return err
	} else if has {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return j.db.Put(key, data, nil)
}

// Get returns the entry for a room, or nil when absent.
func (j *Journal) Get(roomID string) (*Entry, error) {
	raw, err := j.db.Get(settlementKey(roomID), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Failed lists entries whose payout errored, for manual reconciliation.
func (j *Journal) Failed() ([]*Entry, error) {
	iter := j.db.NewIterator(util.BytesPrefix([]byte("settlement:")), nil)
	defer iter.Release()

	var out []*Entry
	for iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if e.PayoutError != "" {
			copy := e
			out = append(out, &copy)
		}
	}
	return out, iter.Error()
}
