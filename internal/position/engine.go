package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"launch-ladder-bot/internal/config"
	"launch-ladder-bot/internal/exec"
	"launch-ladder-bot/internal/metrics"
	"launch-ladder-bot/internal/oracle"
)

// Engine runs the exit ladder over every open position. Each evaluation tick
// values the remaining size, fires any unhit ladder levels the return has
// reached, and then applies the stop-loss, hold-deadline, and dust rules in
// that order.
//
// A failed sell leaves the position untouched: the same condition fires again
// on the next tick, so retries need no extra state.
type Engine struct {
	manager *Manager
	gateway exec.Gateway
	oracle  oracle.Oracle
	strat   config.StrategyConfig
	metrics *metrics.Metrics
	log     *zap.Logger

	// OnClose, when set, receives a snapshot of every closed position.
	// OnChange fires after a partial sale mutates a still-open position.
	OnClose  func(Position)
	OnChange func(Position)

	now func() time.Time
}

func NewEngine(manager *Manager, gateway exec.Gateway, quoter oracle.Oracle, strat config.StrategyConfig, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		manager: manager,
		gateway: gateway,
		oracle:  quoter,
		strat:   strat,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EvaluateAll evaluates every open position concurrently, one goroutine per
// position. A position still busy from a previous tick is skipped rather than
// queued, so a slow venue cannot stack evaluations.
func (e *Engine) EvaluateAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, h := range e.manager.Handles() {
		if !h.TryLock() {
			continue
		}
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			defer h.Unlock()
			e.evaluate(ctx, h.Position())
		}(h)
	}
	wg.Wait()
}

func (e *Engine) evaluate(ctx context.Context, pos *Position) {
	if pos.Status != StatusOpen {
		return
	}
	quotedSize := pos.RemainingSize
	quote, err := e.oracle.Quote(ctx, pos.Token, quotedSize)
	if err != nil {
		e.log.Warn("position valuation failed, skipping tick",
			zap.String("token", pos.Token.Hex()),
			zap.Error(err),
		)
		return
	}
	value := quote.ValueETH
	ret := totalReturnPercent(value, pos.EntryPrice)

	// The return computed at the top of the tick drives every level in it; a
	// level whose trigger the price gapped over fires in the same pass as the
	// levels above it.
	for i, level := range e.strat.Ladder {
		if pos.LevelHit(i) || ret < level.TriggerPercent {
			continue
		}
		sellSize := level.SellFraction * pos.RemainingSize
		fill, err := e.gateway.Sell(ctx, exec.SellOrder{
			Token:        pos.Token,
			AmountTokens: sellSize,
			ClientRef:    fmt.Sprintf("ladder-%d-%s", i, pos.ID),
		})
		if err != nil {
			e.metrics.SellsFailed.Inc()
			e.log.Error("ladder sell failed",
				zap.String("token", pos.Token.Hex()),
				zap.Int("level", i),
				zap.Float64("size", sellSize),
				zap.Error(err),
			)
			return
		}
		e.applySale(pos, sellSize, fill.AmountOut)
		pos.LevelsHit = append(pos.LevelsHit, i)
		e.metrics.LevelsFilled.Inc()
		e.log.Info("ladder level filled",
			zap.String("token", pos.Token.Hex()),
			zap.Int("level", i),
			zap.Float64("return_pct", ret),
			zap.Float64("sold", sellSize),
			zap.Float64("proceeds_eth", fill.AmountOut),
			zap.Float64("remaining", pos.RemainingSize),
		)
		if e.OnChange != nil {
			e.OnChange(*pos)
		}
	}

	now := e.now()

	// Stop-loss protects only the un-laddered position. Once any level has
	// realized profit, the rest of the size rides to the ladder or deadline.
	if len(pos.LevelsHit) == 0 && value <= pos.StopLossPrice {
		e.closeOut(ctx, pos, CloseReasonStopLoss, now)
		return
	}
	if !now.Before(pos.MaxHoldDeadline) {
		e.closeOut(ctx, pos, CloseReasonTimeLimit, now)
		return
	}
	if pos.RemainingSize < e.strat.DustFraction*pos.OriginalSize {
		// Residue too small to be worth a transaction. Close the books
		// without a final sell. The tick valuation covered the pre-sale
		// size, so the recorded exit value is the residual's share of it.
		residual := 0.0
		if quotedSize > 0 {
			residual = value * pos.RemainingSize / quotedSize
		}
		closed := e.manager.Close(pos, CloseReasonFullExit, residual, now)
		e.metrics.PositionsClosed.Inc()
		e.log.Info("position closed as dust",
			zap.String("token", pos.Token.Hex()),
			zap.Float64("remaining", closed.RemainingSize),
			zap.Float64("realized_pnl", closed.RealizedPnL),
		)
		e.notifyClose(closed)
	}
}

func (e *Engine) closeOut(ctx context.Context, pos *Position, reason CloseReason, now time.Time) {
	exitValue := 0.0
	if pos.RemainingSize > 0 {
		fill, err := e.gateway.Sell(ctx, exec.SellOrder{
			Token:        pos.Token,
			AmountTokens: pos.RemainingSize,
			ClientRef:    fmt.Sprintf("close-%s-%s", reason, pos.ID),
		})
		if err != nil {
			e.metrics.SellsFailed.Inc()
			e.log.Error("close sell failed",
				zap.String("token", pos.Token.Hex()),
				zap.String("reason", string(reason)),
				zap.Float64("size", pos.RemainingSize),
				zap.Error(err),
			)
			return
		}
		e.applySale(pos, pos.RemainingSize, fill.AmountOut)
		exitValue = fill.AmountOut
	}
	closed := e.manager.Close(pos, reason, exitValue, now)
	e.metrics.PositionsClosed.Inc()
	e.log.Info("position closed",
		zap.String("token", pos.Token.Hex()),
		zap.String("reason", string(reason)),
		zap.Float64("exit_eth", exitValue),
		zap.Float64("realized_pnl", closed.RealizedPnL),
	)
	e.notifyClose(closed)
}

// applySale books a fill against the position: realized PnL is proceeds minus
// the pro-rata share of the entry cost for the size sold.
func (e *Engine) applySale(pos *Position, size, proceeds float64) {
	cost := pos.EntryPrice * size / pos.OriginalSize
	pos.RemainingSize -= size
	if pos.RemainingSize < 0 {
		pos.RemainingSize = 0
	}
	pos.TotalSold += size
	pos.RealizedPnL += proceeds - cost
}

func (e *Engine) notifyClose(pos Position) {
	if e.OnClose != nil {
		e.OnClose(pos)
	}
}

func totalReturnPercent(valueETH, entryCost float64) float64 {
	if entryCost <= 0 {
		return 0
	}
	return (valueETH - entryCost) / entryCost * 100
}
