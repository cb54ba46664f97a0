package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures WebSocket client behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// AccountNotification reports a lamport balance change on a watched address.
type AccountNotification struct {
	Address  string
	Lamports uint64
}

// AccountWatcher subscribes to accountNotification events for a set of
// addresses over the Solana WebSocket API. It reconnects with backoff and
// resubscribes to all watched addresses after a drop.
type AccountWatcher struct {
	endpoint string
	config   WSConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subID → address, and the set of watched addresses for resubscription
	subs      map[int64]string
	watched   map[string]bool
	subsMu    sync.Mutex

	notifications chan AccountNotification
	done          chan struct{}
	wg            sync.WaitGroup
}

// NewAccountWatcher connects to the endpoint and starts the read loop.
func NewAccountWatcher(ctx context.Context, endpoint string, config *WSConfig) (*AccountWatcher, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	w := &AccountWatcher{
		endpoint:      endpoint,
		config:        cfg,
		subs:          make(map[int64]string),
		watched:       make(map[string]bool),
		notifications: make(chan AccountNotification, 64),
		done:          make(chan struct{}),
	}

	if err := w.connect(ctx); err != nil {
		return nil, err
	}

	w.wg.Add(1)
	go w.readLoop()

	return w, nil
}

// Notifications returns the channel of account balance notifications.
// Slow consumers drop notifications rather than blocking the read loop;
// the poll path catches anything missed.
func (w *AccountWatcher) Notifications() <-chan AccountNotification {
	return w.notifications
}

// Watch subscribes to balance changes for an address. Watching an already
// watched address is a no-op.
func (w *AccountWatcher) Watch(address string) error {
	w.subsMu.Lock()
	if w.watched[address] {
		w.subsMu.Unlock()
		return nil
	}
	w.watched[address] = true
	w.subsMu.Unlock()

	return w.subscribe(address)
}

// Close shuts the watcher down.
func (w *AccountWatcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.done)

	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.connMu.Unlock()

	w.wg.Wait()
	close(w.notifications)
	return nil
}

func (w *AccountWatcher) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.endpoint, err)
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	return nil
}

func (w *AccountWatcher) subscribe(address string) error {
	id := w.requestID.Add(1)
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "accountSubscribe",
		"params": []interface{}{
			address,
			map[string]interface{}{
				"encoding":   "base64",
				"commitment": "confirmed",
			},
		},
	}

	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if err := w.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe %s: %w", address, err)
	}
	// Pending entry keyed by the request id we sent; the read loop
	// rebinds it to the server-assigned subscription id on the reply.
	w.subsMu.Lock()
	w.subs[-int64(id)] = address
	w.subsMu.Unlock()
	return nil
}

// wsMessage is the union of subscription replies and notifications.
type wsMessage struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params *struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Value struct {
				Lamports uint64 `json:"lamports"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (w *AccountWatcher) readLoop() {
	defer w.wg.Done()

	delay := w.config.ReconnectDelay

	for {
		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if w.closed.Load() {
				return
			}
			// Reconnect with backoff and resubscribe everything.
			select {
			case <-w.done:
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > w.config.MaxReconnectDelay {
				delay = w.config.MaxReconnectDelay
			}
			if err := w.connect(context.Background()); err != nil {
				continue
			}
			delay = w.config.ReconnectDelay
			w.resubscribeAll()
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch {
		case msg.Method == "accountNotification" && msg.Params != nil:
			w.dispatch(msg.Params.Subscription, msg.Params.Result.Value.Lamports)
		case msg.ID != 0 && msg.Result != nil:
			var subID int64
			if err := json.Unmarshal(msg.Result, &subID); err == nil {
				w.bindSubscription(msg.ID, subID)
			}
		}
	}
}

// bindSubscription rebinds the placeholder (negative request id) entry to
// the server-assigned subscription id.
func (w *AccountWatcher) bindSubscription(requestID uint64, subID int64) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	if address, ok := w.subs[-int64(requestID)]; ok {
		delete(w.subs, -int64(requestID))
		w.subs[subID] = address
	}
}

func (w *AccountWatcher) dispatch(subID int64, lamports uint64) {
	w.subsMu.Lock()
	address, ok := w.subs[subID]
	w.subsMu.Unlock()
	if !ok {
		return
	}

	select {
	case w.notifications <- AccountNotification{Address: address, Lamports: lamports}:
	default:
		// dropped; poller will catch up
	}
}

func (w *AccountWatcher) resubscribeAll() {
	w.subsMu.Lock()
	addresses := make([]string, 0, len(w.watched))
	for address := range w.watched {
		addresses = append(addresses, address)
	}
	w.subs = make(map[int64]string)
	w.subsMu.Unlock()

	for _, address := range addresses {
		_ = w.subscribe(address)
	}
}
