package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// maxHeadAge bounds how long a websocket-delivered head is trusted before the
// poll loop falls back to plain RPC.
const maxHeadAge = 30 * time.Second

// HeadWatcher keeps the latest block number and timestamp fresh by
// subscribing to newHeads over the provider websocket.
type HeadWatcher struct {
	url            string
	reconnectDelay time.Duration
	log            *zap.Logger

	mu        sync.RWMutex
	number    uint64
	blockTime time.Time
	updatedAt time.Time
}

func NewHeadWatcher(url string, reconnectDelay time.Duration, log *zap.Logger) *HeadWatcher {
	return &HeadWatcher{url: url, reconnectDelay: reconnectDelay, log: log}
}

// Latest reports the most recent head, and false once it is older than
// maxHeadAge.
func (w *HeadWatcher) Latest() (uint64, time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.updatedAt.IsZero() || time.Since(w.updatedAt) > maxHeadAge {
		return 0, time.Time{}, false
	}
	return w.number, w.blockTime, true
}

func (w *HeadWatcher) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.reconnectDelay
	bo.MaxInterval = time.Minute
	for {
		conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
			return w.connect(ctx)
		}, backoff.WithBackOff(bo))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		err = w.readLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "reset")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log.Warn("newHeads stream ended", zap.Error(err))
		bo.Reset()
	}
}

func (w *HeadWatcher) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, w.url, nil)
	if err != nil {
		return nil, err
	}
	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe")
		return nil, backoff.Permanent(err)
	}
	if err := conn.Write(dialCtx, websocket.MessageText, payload); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe")
		return nil, err
	}
	_, ack, err := conn.Read(dialCtx)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe")
		return nil, err
	}
	var resp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(ack, &resp); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe")
		return nil, err
	}
	if resp.Error != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "subscribe rejected")
		return nil, fmt.Errorf("eth_subscribe: %s", resp.Error.Message)
	}
	if resp.Result == "" {
		_ = conn.Close(websocket.StatusNormalClosure, "subscribe rejected")
		return nil, errors.New("eth_subscribe: empty subscription id")
	}
	w.log.Info("subscribed to newHeads", zap.String("subscription", resp.Result))
	return conn, nil
}

func (w *HeadWatcher) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var note struct {
			Params struct {
				Result struct {
					Number    hexutil.Uint64 `json:"number"`
					Timestamp hexutil.Uint64 `json:"timestamp"`
				} `json:"result"`
			} `json:"params"`
		}
		if err := json.Unmarshal(data, &note); err != nil {
			w.log.Debug("unparseable head notification", zap.Error(err))
			continue
		}
		number := uint64(note.Params.Result.Number)
		if number == 0 {
			continue
		}
		w.mu.Lock()
		if number >= w.number {
			w.number = number
			w.blockTime = time.Unix(int64(note.Params.Result.Timestamp), 0).UTC()
			w.updatedAt = time.Now()
		}
		w.mu.Unlock()
	}
}
