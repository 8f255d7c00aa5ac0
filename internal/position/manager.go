package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"launch-ladder-bot/internal/config"
	"launch-ladder-bot/internal/exec"
	"launch-ladder-bot/internal/launch"
)

var (
	ErrPositionLimit  = errors.New("open position limit reached")
	ErrPositionExists = errors.New("position already open for token")
)

// SizingPolicy decides the ETH spend for an accepted launch. Returning zero
// or less declines the entry.
type SizingPolicy func(ev launch.Event) float64

// FixedNotional spends the same ETH amount on every launch.
func FixedNotional(amountETH float64) SizingPolicy {
	return func(launch.Event) float64 { return amountETH }
}

// Handle pairs a live position with its evaluation lock. Callers must hold the
// lock before reading or mutating the position.
type Handle struct {
	mu  sync.Mutex
	pos *Position
}

func (h *Handle) TryLock() bool {
	return h.mu.TryLock()
}

func (h *Handle) Lock() {
	h.mu.Lock()
}

func (h *Handle) Unlock() {
	h.mu.Unlock()
}

func (h *Handle) Position() *Position {
	return h.pos
}

// Manager owns the set of open positions and the append-only record of closed
// ones. Opening is all-or-nothing: a slot and the token key are reserved
// before the entry buy, and released if the buy fails, so a failed entry
// leaves no position state behind.
//
// Open positions are keyed by common.Address, so two launches of the same
// token that differ only in hex casing collapse to one key.
type Manager struct {
	strat   config.StrategyConfig
	maxOpen int
	sizing  SizingPolicy
	log     *zap.Logger

	mu       sync.Mutex
	open     map[common.Address]*Handle
	reserved map[common.Address]struct{}
	closed   []Position
}

// NewManager builds a manager with the given sizing policy; a nil policy
// defaults to the configured fixed notional.
func NewManager(strat config.StrategyConfig, maxOpen int, sizing SizingPolicy, log *zap.Logger) *Manager {
	if sizing == nil {
		sizing = FixedNotional(strat.BuyAmountETH)
	}
	return &Manager{
		strat:    strat,
		maxOpen:  maxOpen,
		sizing:   sizing,
		log:      log,
		open:     make(map[common.Address]*Handle),
		reserved: make(map[common.Address]struct{}),
	}
}

func (m *Manager) Open(ctx context.Context, gateway exec.Gateway, ev launch.Event) (Position, error) {
	if err := m.reserve(ev.Token); err != nil {
		return Position{}, err
	}
	amount := m.sizing(ev)
	if amount <= 0 {
		m.release(ev.Token)
		return Position{}, fmt.Errorf("sizing declined entry for %s", ev.Token.Hex())
	}
	fill, err := gateway.Buy(ctx, exec.BuyOrder{
		Token:     ev.Token,
		AmountETH: amount,
		ClientRef: "entry-" + uuid.NewString(),
	})
	if err != nil {
		m.release(ev.Token)
		return Position{}, fmt.Errorf("entry buy %s: %w", ev.Token.Hex(), err)
	}
	if fill.AmountOut <= 0 {
		m.release(ev.Token)
		return Position{}, fmt.Errorf("entry buy %s filled zero tokens", ev.Token.Hex())
	}

	now := time.Now().UTC()
	pos := &Position{
		ID:              uuid.NewString(),
		Token:           ev.Token,
		Creator:         ev.Creator,
		Name:            ev.Name,
		Symbol:          ev.Symbol,
		EntryPrice:      amount,
		OriginalSize:    fill.AmountOut,
		RemainingSize:   fill.AmountOut,
		EntryTime:       now,
		StopLossPrice:   amount * (1 - m.strat.StopLossPercent/100),
		MaxHoldDeadline: now.Add(m.strat.MaxHold),
		Status:          StatusOpen,
	}

	m.mu.Lock()
	delete(m.reserved, ev.Token)
	m.open[ev.Token] = &Handle{pos: pos}
	m.mu.Unlock()

	m.log.Info("position opened",
		zap.String("id", pos.ID),
		zap.String("token", pos.Token.Hex()),
		zap.String("symbol", pos.Symbol),
		zap.Float64("eth_in", pos.EntryPrice),
		zap.Float64("tokens", pos.OriginalSize),
		zap.String("tx", fill.TxRef),
	)
	return *pos, nil
}

func (m *Manager) reserve(token common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[token]; ok {
		return ErrPositionExists
	}
	if _, ok := m.reserved[token]; ok {
		return ErrPositionExists
	}
	if len(m.open)+len(m.reserved) >= m.maxOpen {
		return ErrPositionLimit
	}
	m.reserved[token] = struct{}{}
	return nil
}

func (m *Manager) release(token common.Address) {
	m.mu.Lock()
	delete(m.reserved, token)
	m.mu.Unlock()
}

// Close finalizes a position and moves it from the open set to the closed
// record. The caller must hold the position's handle lock. The returned copy
// is safe to hand to alert and history sinks.
func (m *Manager) Close(pos *Position, reason CloseReason, exitValue float64, now time.Time) Position {
	pos.Status = StatusClosed
	pos.CloseReason = reason
	pos.ExitPrice = exitValue
	pos.ExitTime = now

	m.mu.Lock()
	delete(m.open, pos.Token)
	m.closed = append(m.closed, *pos)
	m.mu.Unlock()
	return *pos
}

func (m *Manager) Handles() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Handle, 0, len(m.open))
	for _, h := range m.open {
		out = append(out, h)
	}
	return out
}

func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

func (m *Manager) Closed() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, len(m.closed))
	copy(out, m.closed)
	return out
}
