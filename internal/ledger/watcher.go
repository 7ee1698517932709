package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/castlemate/castlemate/internal/obslog"
)

// DepositEvent is pushed by the node whenever the platform deposit
// address receives funds. Events never substitute for payment
// verification; they only let callers poll verification sooner.
type DepositEvent struct {
	Signature string `json:"signature"`
	From      string `json:"from"`
	Mint      string `json:"mint"`
	Amount    uint64 `json:"amount"`
}

type DepositCallback func(*DepositEvent)

type subscribeFrame struct {
	Op      string `json:"op"`
	Address string `json:"address"`
}

// Watcher subscribes to the node's websocket deposit feed and fans
// events out to registered callbacks. Reconnects with backoff.
type Watcher struct {
	wsURL   string
	address string

	conn  *websocket.Conn
	connM sync.Mutex

	cbs []DepositCallback
	cbM sync.RWMutex

	maxReconnectAttempts int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// NewWatcher watches deposit notifications for address over wsURL.
func NewWatcher(wsURL, address string) *Watcher {
	return &Watcher{
		wsURL:                wsURL,
		address:              address,
		maxReconnectAttempts: 5,
		stopCh:               make(chan struct{}),
	}
}

// OnDeposit registers a callback invoked for every deposit event.
func (w *Watcher) OnDeposit(cb DepositCallback) {
	w.cbM.Lock()
	w.cbs = append(w.cbs, cb)
	w.cbM.Unlock()
}

// Connect dials the feed and starts the read loop.
func (w *Watcher) Connect(ctx context.Context) error {
	w.rootCtx, w.rootCancel = context.WithCancel(context.Background())

	if err := w.dial(ctx); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.listen()
	return nil
}

func (w *Watcher) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, w.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return err
	}
	if err := wsjson.Write(dialCtx, conn, subscribeFrame{Op: "subscribe", Address: w.address}); err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "subscribe failed")
		return err
	}

	w.connM.Lock()
	w.conn = conn
	w.connM.Unlock()
	obslog.L().Info("deposit_watch_connect", zap.String("address", w.address))
	return nil
}

func (w *Watcher) listen() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		w.connM.Lock()
		conn := w.conn
		w.connM.Unlock()
		if conn == nil {
			return
		}

		var ev DepositEvent
		if err := wsjson.Read(w.rootCtx, conn, &ev); err != nil {
			if w.isStopping() {
				return
			}
			obslog.L().Warn("deposit_watch_read_error", zap.Error(err))
			w.closeConn(websocket.StatusGoingAway, "reconnect")
			w.reconnect()
			return
		}
		if ev.Signature == "" {
			continue
		}

		w.cbM.RLock()
		cbs := make([]DepositCallback, len(w.cbs))
		copy(cbs, w.cbs)
		w.cbM.RUnlock()
		for _, cb := range cbs {
			if cb != nil {
				cb(&ev)
			}
		}
	}
}

func (w *Watcher) reconnect() {
	go func() {
		for attempt := 1; attempt <= w.maxReconnectAttempts; attempt++ {
			select {
			case <-w.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			if err := w.dial(w.rootCtx); err != nil {
				continue
			}
			w.wg.Add(1)
			go w.listen()
			return
		}
		obslog.L().Error("deposit_watch_gave_up", zap.Int("attempts", w.maxReconnectAttempts))
	}()
}

// Close tears the watcher down and waits for the read loop to exit.
func (w *Watcher) Close(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.closeConn(websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if w.rootCancel != nil {
			w.rootCancel()
		}
		return nil
	}
}

func (w *Watcher) closeConn(code websocket.StatusCode, reason string) {
	w.connM.Lock()
	defer w.connM.Unlock()
	if w.conn == nil {
		return
	}
	_ = w.conn.Close(code, reason)
	w.conn = nil
}

func (w *Watcher) isStopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}
