package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"launch-ladder-bot/internal/config"
	"launch-ladder-bot/internal/exec"
	"launch-ladder-bot/internal/launch"
)

type fakeGateway struct {
	mu        sync.Mutex
	buyFill   exec.Fill
	buyErr    error
	sellPrice float64
	sellErr   error
	quote     float64
	quoteErr  error
	sells     []exec.SellOrder
	buys      []exec.BuyOrder
}

func (g *fakeGateway) Buy(ctx context.Context, order exec.BuyOrder) (exec.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buys = append(g.buys, order)
	if g.buyErr != nil {
		return exec.Fill{}, g.buyErr
	}
	return g.buyFill, nil
}

func (g *fakeGateway) Sell(ctx context.Context, order exec.SellOrder) (exec.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sellErr != nil {
		return exec.Fill{}, g.sellErr
	}
	g.sells = append(g.sells, order)
	return exec.Fill{AmountOut: order.AmountTokens * g.sellPrice, TxRef: "sell-tx"}, nil
}

func (g *fakeGateway) Quote(ctx context.Context, token common.Address, amountTokens float64) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.quoteErr != nil {
		return 0, g.quoteErr
	}
	return g.quote, nil
}

func (g *fakeGateway) sellCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sells)
}

func testStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		BuyAmountETH: 1.0,
		Ladder: []config.LadderLevel{
			{TriggerPercent: 100, SellFraction: 0.25},
			{TriggerPercent: 300, SellFraction: 0.25},
			{TriggerPercent: 900, SellFraction: 0.5},
		},
		StopLossPercent: 70,
		MaxHold:         30 * time.Minute,
		EvalInterval:    time.Second,
		DustFraction:    0.001,
	}
}

func testEvent(token byte) launch.Event {
	return launch.Event{
		Creator: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Token:   common.Address{token},
		Name:    "Moon Cat",
		Symbol:  "MCAT",
	}
}

func TestManagerOpen(t *testing.T) {
	gateway := &fakeGateway{buyFill: exec.Fill{AmountOut: 1000, TxRef: "buy-tx"}}
	manager := NewManager(testStrategy(), 3, nil, zap.NewNop())

	pos, err := manager.Open(context.Background(), gateway, testEvent(0x01))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if pos.ID == "" {
		t.Fatalf("expected position id")
	}
	if pos.EntryPrice != 1.0 || pos.OriginalSize != 1000 || pos.RemainingSize != 1000 {
		t.Fatalf("unexpected entry state: %+v", pos)
	}
	if pos.StopLossPrice != 0.3 {
		t.Fatalf("expected stop-loss at 0.3 ETH, got %v", pos.StopLossPrice)
	}
	if !pos.MaxHoldDeadline.After(pos.EntryTime) {
		t.Fatalf("expected deadline after entry time")
	}
	if pos.Status != StatusOpen {
		t.Fatalf("expected open status, got %s", pos.Status)
	}
	if manager.OpenCount() != 1 {
		t.Fatalf("expected 1 open position, got %d", manager.OpenCount())
	}
}

func TestManagerSizingPolicy(t *testing.T) {
	gateway := &fakeGateway{buyFill: exec.Fill{AmountOut: 1000}}
	manager := NewManager(testStrategy(), 3, FixedNotional(2.0), zap.NewNop())

	pos, err := manager.Open(context.Background(), gateway, testEvent(0x01))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if pos.EntryPrice != 2.0 {
		t.Fatalf("expected policy-sized entry of 2.0 ETH, got %v", pos.EntryPrice)
	}
	if len(gateway.buys) != 1 || gateway.buys[0].AmountETH != 2.0 {
		t.Fatalf("expected buy order for 2.0 ETH, got %+v", gateway.buys)
	}
	if pos.StopLossPrice != 0.6 {
		t.Fatalf("expected stop-loss at 0.6 ETH, got %v", pos.StopLossPrice)
	}
}

func TestManagerSizingDecline(t *testing.T) {
	gateway := &fakeGateway{buyFill: exec.Fill{AmountOut: 1000}}
	declined := SizingPolicy(func(launch.Event) float64 { return 0 })
	manager := NewManager(testStrategy(), 1, declined, zap.NewNop())

	if _, err := manager.Open(context.Background(), gateway, testEvent(0x01)); err == nil {
		t.Fatalf("expected declined sizing to fail")
	}
	if len(gateway.buys) != 0 {
		t.Fatalf("expected no buy attempt, got %d", len(gateway.buys))
	}
	if manager.OpenCount() != 0 {
		t.Fatalf("expected no open positions")
	}
}

func TestManagerRejectsDuplicateToken(t *testing.T) {
	gateway := &fakeGateway{buyFill: exec.Fill{AmountOut: 1000}}
	manager := NewManager(testStrategy(), 3, nil, zap.NewNop())

	if _, err := manager.Open(context.Background(), gateway, testEvent(0x01)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_, err := manager.Open(context.Background(), gateway, testEvent(0x01))
	if !errors.Is(err, ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
}

func TestManagerEnforcesOpenLimit(t *testing.T) {
	gateway := &fakeGateway{buyFill: exec.Fill{AmountOut: 1000}}
	manager := NewManager(testStrategy(), 1, nil, zap.NewNop())

	if _, err := manager.Open(context.Background(), gateway, testEvent(0x01)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_, err := manager.Open(context.Background(), gateway, testEvent(0x02))
	if !errors.Is(err, ErrPositionLimit) {
		t.Fatalf("expected ErrPositionLimit, got %v", err)
	}
}

func TestManagerFailedBuyLeavesNoState(t *testing.T) {
	gateway := &fakeGateway{buyErr: errors.New("no liquidity")}
	manager := NewManager(testStrategy(), 1, nil, zap.NewNop())

	if _, err := manager.Open(context.Background(), gateway, testEvent(0x01)); err == nil {
		t.Fatalf("expected buy failure")
	}
	if manager.OpenCount() != 0 {
		t.Fatalf("expected no open positions after failed buy")
	}

	// Both the slot and the token key must be free again.
	gateway.buyErr = nil
	gateway.buyFill = exec.Fill{AmountOut: 500}
	if _, err := manager.Open(context.Background(), gateway, testEvent(0x01)); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestManagerZeroFillLeavesNoState(t *testing.T) {
	gateway := &fakeGateway{buyFill: exec.Fill{AmountOut: 0}}
	manager := NewManager(testStrategy(), 1, nil, zap.NewNop())

	if _, err := manager.Open(context.Background(), gateway, testEvent(0x01)); err == nil {
		t.Fatalf("expected zero fill to fail")
	}
	if manager.OpenCount() != 0 {
		t.Fatalf("expected no open positions after zero fill")
	}
}

func TestManagerClose(t *testing.T) {
	gateway := &fakeGateway{buyFill: exec.Fill{AmountOut: 1000}}
	manager := NewManager(testStrategy(), 3, nil, zap.NewNop())

	if _, err := manager.Open(context.Background(), gateway, testEvent(0x01)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	handles := manager.Handles()
	if len(handles) != 1 {
		t.Fatalf("expected one handle")
	}
	h := handles[0]
	h.Lock()
	now := time.Now().UTC()
	closed := manager.Close(h.Position(), CloseReasonStopLoss, 0.25, now)
	h.Unlock()

	if closed.Status != StatusClosed || closed.CloseReason != CloseReasonStopLoss {
		t.Fatalf("unexpected close state: %+v", closed)
	}
	if closed.ExitPrice != 0.25 || !closed.ExitTime.Equal(now) {
		t.Fatalf("unexpected exit fields: %+v", closed)
	}
	if manager.OpenCount() != 0 {
		t.Fatalf("expected position removed from open set")
	}
	record := manager.Closed()
	if len(record) != 1 || record[0].ID != closed.ID {
		t.Fatalf("expected closed record, got %+v", record)
	}
}
