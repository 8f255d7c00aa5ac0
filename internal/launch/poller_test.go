package launch

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

type fakeLogSource struct {
	logs    map[[2]uint64][]types.Log
	err     error
	windows [][2]uint64
}

func (f *fakeLogSource) FilterLogs(ctx context.Context, address common.Address, from, to uint64) ([]types.Log, error) {
	f.windows = append(f.windows, [2]uint64{from, to})
	if f.err != nil {
		return nil, f.err
	}
	return f.logs[[2]uint64{from, to}], nil
}

func testLog(t *testing.T, block uint64, index uint, txByte byte) types.Log {
	t.Helper()
	lg := launchedLog(t, testToken, "Moon Cat", "MCAT")
	lg.BlockNumber = block
	lg.Index = index
	lg.TxHash = common.Hash{txByte}
	return lg
}

func TestPollerOrdersAndWindows(t *testing.T) {
	source := &fakeLogSource{logs: map[[2]uint64][]types.Log{
		{101, 110}: {
			testLog(t, 105, 2, 0x02),
			testLog(t, 103, 7, 0x01),
			testLog(t, 105, 0, 0x03),
		},
	}}
	poller := NewPoller(source, common.Address{}, 100, zap.NewNop())

	events, err := poller.Poll(context.Background(), 110)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].BlockNumber != 103 || events[1].LogIndex != 0 || events[2].LogIndex != 2 {
		t.Fatalf("events not ordered by (block, index): %+v", events)
	}
	if events[0].ObservedAt.IsZero() {
		t.Fatalf("expected observed timestamp to be stamped")
	}
	if source.windows[0] != [2]uint64{101, 110} {
		t.Fatalf("unexpected first window %v", source.windows[0])
	}
}

func TestPollerDedupAcrossOverlappingWindows(t *testing.T) {
	boundary := testLog(t, 110, 1, 0x0a)
	source := &fakeLogSource{logs: map[[2]uint64][]types.Log{
		{101, 110}: {boundary},
		{110, 120}: {boundary, testLog(t, 115, 0, 0x0b)},
	}}
	poller := NewPoller(source, common.Address{}, 100, zap.NewNop())

	first, err := poller.Poll(context.Background(), 110)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 event in first window, got %d", len(first))
	}
	second, err := poller.Poll(context.Background(), 120)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected boundary event to dedup, got %d events", len(second))
	}
	if second[0].BlockNumber != 115 {
		t.Fatalf("expected the new event, got block %d", second[0].BlockNumber)
	}
}

func TestPollerSkipsRemovedLogs(t *testing.T) {
	removed := testLog(t, 105, 0, 0x01)
	removed.Removed = true
	source := &fakeLogSource{logs: map[[2]uint64][]types.Log{
		{101, 110}: {removed},
	}}
	poller := NewPoller(source, common.Address{}, 100, zap.NewNop())

	events, err := poller.Poll(context.Background(), 110)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected reorged log to be dropped, got %d events", len(events))
	}
}

func TestPollerRetriesWindowAfterError(t *testing.T) {
	source := &fakeLogSource{err: errors.New("rpc down")}
	poller := NewPoller(source, common.Address{}, 100, zap.NewNop())

	if _, err := poller.Poll(context.Background(), 110); err == nil {
		t.Fatalf("expected poll error")
	}
	source.err = nil
	if _, err := poller.Poll(context.Background(), 111); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if source.windows[1][0] != 101 {
		t.Fatalf("expected window to restart at 101, got %d", source.windows[1][0])
	}
}

func TestPollerIgnoresPastWindows(t *testing.T) {
	source := &fakeLogSource{}
	poller := NewPoller(source, common.Address{}, 100, zap.NewNop())

	events, err := poller.Poll(context.Background(), 99)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if events != nil || len(source.windows) != 0 {
		t.Fatalf("expected no fetch for a window behind the cursor")
	}
}
