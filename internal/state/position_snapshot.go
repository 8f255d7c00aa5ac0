package state

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// PositionJournalPrefix namespaces the per-token journal entries in the store.
const PositionJournalPrefix = "position:journal:"

// PositionSnapshot is the last known shape of an open position, written after
// every state change. After a crash the journal tells the operator what the
// wallet should still be holding; snapshots are removed when the position
// closes.
type PositionSnapshot struct {
	ID            string    `msgpack:"id"`
	Token         string    `msgpack:"token"`
	Symbol        string    `msgpack:"symbol"`
	EntryPriceETH float64   `msgpack:"entry_price_eth"`
	OriginalSize  float64   `msgpack:"original_size"`
	RemainingSize float64   `msgpack:"remaining_size"`
	TotalSold     float64   `msgpack:"total_sold"`
	RealizedPnL   float64   `msgpack:"realized_pnl"`
	LevelsHit     []int     `msgpack:"levels_hit"`
	UpdatedAt     time.Time `msgpack:"updated_at"`
}

func SavePositionSnapshot(ctx context.Context, store Store, snapshot PositionSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}
	key := PositionJournalPrefix + snapshot.Token
	return store.Set(ctx, key, base64.StdEncoding.EncodeToString(payload))
}

func DeletePositionSnapshot(ctx context.Context, store Store, token string) error {
	if store == nil {
		return nil
	}
	return store.Delete(ctx, PositionJournalPrefix+token)
}

// LoadPositionSnapshots returns every journal entry, in key order.
func LoadPositionSnapshots(ctx context.Context, store Store) ([]PositionSnapshot, error) {
	if store == nil {
		return nil, nil
	}
	keys, err := store.Keys(ctx, PositionJournalPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]PositionSnapshot, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("journal %s: %w", key, err)
		}
		var snapshot PositionSnapshot
		if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
			return nil, fmt.Errorf("journal %s: %w", key, err)
		}
		out = append(out, snapshot)
	}
	return out, nil
}
