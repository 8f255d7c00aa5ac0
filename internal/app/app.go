package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"launch-ladder-bot/internal/alerts"
	"launch-ladder-bot/internal/chain"
	"launch-ladder-bot/internal/config"
	"launch-ladder-bot/internal/credibility"
	"launch-ladder-bot/internal/exec"
	"launch-ladder-bot/internal/history"
	"launch-ladder-bot/internal/launch"
	"launch-ladder-bot/internal/metrics"
	"launch-ladder-bot/internal/oracle"
	"launch-ladder-bot/internal/position"
	"launch-ladder-bot/internal/state"
	"launch-ladder-bot/internal/state/sqlite"
)

const journalWriteTimeout = 3 * time.Second

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	chain   *chain.Client
	heads   *chain.HeadWatcher
	gateway exec.Gateway
	gate    credibility.Gate
	manager *position.Manager
	engine  *position.Engine
	metrics *metrics.Metrics
	prom    *metrics.Prometheus
	alerts  *alerts.Telegram
	history *history.Writer

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.MaxBlockRange, cfg.Chain.CallTimeout, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}

	var heads *chain.HeadWatcher
	if strings.TrimSpace(cfg.Chain.WSURL) != "" {
		heads = chain.NewHeadWatcher(cfg.Chain.WSURL, cfg.Chain.ReconnectDelay, log)
	}

	gateway, err := buildGateway(cfg, chainClient, log)
	if err != nil {
		chainClient.Close()
		_ = store.Close()
		return nil, err
	}

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	manager := position.NewManager(cfg.Strategy, cfg.Risk.MaxOpenPositions, nil, log)
	engine := position.NewEngine(manager, gateway, oracle.NewGatewayOracle(gateway, log), cfg.Strategy, m, log)

	historyWriter, err := history.New(cfg.History, log)
	if err != nil {
		chainClient.Close()
		_ = store.Close()
		return nil, fmt.Errorf("open history writer: %w", err)
	}

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		chain:   chainClient,
		heads:   heads,
		gateway: gateway,
		gate:    credibility.New(cfg.Credibility, log),
		manager: manager,
		engine:  engine,
		metrics: m,
		prom:    prom,
		alerts:  alerts.NewTelegram(cfg.Telegram, log),
		history: historyWriter,
	}, nil
}

func buildGateway(cfg *config.Config, chainClient *chain.Client, log *zap.Logger) (exec.Gateway, error) {
	switch cfg.Gateway.Mode {
	case config.GatewayModeDryRun:
		return exec.NewDryRun(log), nil
	case config.GatewayModeRouter:
		key := strings.TrimSpace(os.Getenv("WALLET_PRIVATE_KEY"))
		if key == "" {
			return nil, errors.New("WALLET_PRIVATE_KEY is required in router mode")
		}
		signer, err := exec.NewSigner(key)
		if err != nil {
			return nil, fmt.Errorf("load wallet key: %w", err)
		}
		return exec.NewRouter(chainClient.Backend(), signer, cfg.Gateway, log)
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.Gateway.Mode)
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.chain.Close()
	defer a.history.Close()

	startupBlock, err := a.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("startup block: %w", err)
	}
	startupTime := time.Now().UTC()
	fresh := launch.NewFreshnessFilter(startupBlock, startupTime, a.cfg.Chain.StalenessBlocks)
	poller := launch.NewPoller(a.chain, common.HexToAddress(a.cfg.Chain.FactoryAddress), startupBlock, a.log)

	a.engine.OnChange = a.onPositionChanged
	a.engine.OnClose = a.onPositionClosed

	a.reportStaleJournal(ctx)

	a.log.Info("watching factory",
		zap.String("factory", a.cfg.Chain.FactoryAddress),
		zap.Uint64("startup_block", startupBlock),
		zap.String("gateway_mode", a.cfg.Gateway.Mode),
	)

	g, ctx := errgroup.WithContext(ctx)

	if a.heads != nil {
		g.Go(func() error { return a.heads.Run(ctx) })
	}
	a.history.Start(ctx)
	a.startOperator(ctx)

	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Chain.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := a.pollOnce(ctx, poller, fresh); err != nil {
					a.log.Warn("launch poll failed", zap.Error(err))
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Strategy.EvalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.engine.EvaluateAll(ctx)
			}
		}
	})

	return g.Wait()
}

// pollOnce pulls the next window of factory logs and pushes each fresh,
// credible launch through position entry.
func (a *App) pollOnce(ctx context.Context, poller *launch.Poller, fresh *launch.FreshnessFilter) error {
	rpcBlock, err := a.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("current block: %w", err)
	}
	var headBlock uint64
	var headOK bool
	if a.heads != nil {
		headBlock, _, headOK = a.heads.Latest()
	}
	pollTo, currentBlock := pollBounds(rpcBlock, headBlock, headOK)
	events, err := poller.Poll(ctx, pollTo)
	if err != nil {
		return err
	}
	for _, ev := range events {
		a.metrics.LaunchesDecoded.Inc()
		blockTime, err := a.chain.BlockTime(ctx, ev.BlockNumber)
		if err != nil {
			a.log.Warn("block time lookup failed, dropping launch",
				zap.String("token", ev.Token.Hex()),
				zap.Uint64("block", ev.BlockNumber),
				zap.Error(err),
			)
			a.recordLaunch(ev, "dropped", "block time unavailable")
			continue
		}
		if err := fresh.Accept(ev, currentBlock, blockTime); err != nil {
			a.metrics.LaunchesStale.Inc()
			a.log.Debug("stale launch dropped",
				zap.String("token", ev.Token.Hex()),
				zap.Uint64("block", ev.BlockNumber),
				zap.Error(err),
			)
			a.recordLaunch(ev, "stale", err.Error())
			continue
		}
		if a.isPaused() {
			a.log.Info("launch skipped while paused", zap.String("token", ev.Token.Hex()))
			a.recordLaunch(ev, "paused", "")
			continue
		}
		a.handleLaunch(ctx, ev)
	}
	return nil
}

// pollBounds picks the block heights for one poll pass. The log window upper
// bound must come from the same RPC node that serves FilterLogs: a head seen
// on the websocket before that node has indexed its logs would otherwise
// advance the window past them for good. The head stream only sharpens the
// staleness reference, which tolerates running ahead.
func pollBounds(rpcBlock, headBlock uint64, headOK bool) (pollTo, current uint64) {
	current = rpcBlock
	if headOK && headBlock > current {
		current = headBlock
	}
	return rpcBlock, current
}

// handleLaunch runs the credibility gate and, if it passes, opens a position.
// Any gate failure is final for the launch: there is no retry queue, the next
// launch is the next opportunity.
func (a *App) handleLaunch(ctx context.Context, ev launch.Event) {
	profile, err := a.gate.ResolveIdentity(ctx, ev.Creator)
	if err != nil {
		a.rejectLaunch(ev, fmt.Sprintf("identity: %v", err))
		return
	}
	score, err := a.gate.Score(ctx, profile.Handle)
	if err != nil {
		a.rejectLaunch(ev, fmt.Sprintf("score %s: %v", profile.Handle, err))
		return
	}
	if score < a.cfg.Credibility.MinScore {
		a.rejectLaunch(ev, fmt.Sprintf("score %.2f below minimum %.2f", score, a.cfg.Credibility.MinScore))
		return
	}

	pos, err := a.manager.Open(ctx, a.gateway, ev)
	if err != nil {
		switch {
		case errors.Is(err, position.ErrPositionLimit), errors.Is(err, position.ErrPositionExists):
			a.log.Info("launch skipped", zap.String("token", ev.Token.Hex()), zap.Error(err))
			a.recordLaunch(ev, "skipped", err.Error())
		default:
			a.metrics.BuysFailed.Inc()
			a.log.Error("entry buy failed", zap.String("token", ev.Token.Hex()), zap.Error(err))
			a.recordLaunch(ev, "buy_failed", err.Error())
		}
		return
	}
	a.metrics.PositionsOpened.Inc()
	a.recordLaunch(ev, "opened", pos.ID)
	a.onPositionChanged(pos)
	a.notify(ctx, fmt.Sprintf("opened %s (%s): %.4f ETH for %.2f tokens, score %.2f",
		pos.Symbol, pos.Token.Hex(), pos.EntryPrice, pos.OriginalSize, score))
}

func (a *App) rejectLaunch(ev launch.Event, reason string) {
	a.metrics.GateRejected.Inc()
	a.log.Info("launch rejected",
		zap.String("token", ev.Token.Hex()),
		zap.String("creator", ev.Creator.Hex()),
		zap.String("reason", reason),
	)
	a.recordLaunch(ev, "rejected", reason)
}

func (a *App) recordLaunch(ev launch.Event, outcome, detail string) {
	a.history.EnqueueLaunch(history.LaunchRecord{
		Time:        ev.ObservedAt,
		Token:       ev.Token.Hex(),
		Creator:     ev.Creator.Hex(),
		Name:        ev.Name,
		Symbol:      ev.Symbol,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash.Hex(),
		Outcome:     outcome,
		Detail:      detail,
	})
}

func (a *App) onPositionChanged(pos position.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	snapshot := state.PositionSnapshot{
		ID:            pos.ID,
		Token:         pos.Token.Hex(),
		Symbol:        pos.Symbol,
		EntryPriceETH: pos.EntryPrice,
		OriginalSize:  pos.OriginalSize,
		RemainingSize: pos.RemainingSize,
		TotalSold:     pos.TotalSold,
		RealizedPnL:   pos.RealizedPnL,
		LevelsHit:     pos.LevelsHit,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := state.SavePositionSnapshot(ctx, a.store, snapshot); err != nil {
		a.log.Warn("position journal write failed", zap.String("token", snapshot.Token), zap.Error(err))
	}
}

func (a *App) onPositionClosed(pos position.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := state.DeletePositionSnapshot(ctx, a.store, pos.Token.Hex()); err != nil {
		a.log.Warn("position journal delete failed", zap.String("token", pos.Token.Hex()), zap.Error(err))
	}
	a.history.EnqueueClosedPosition(history.ClosedPositionRecord{
		Time:          pos.ExitTime,
		PositionID:    pos.ID,
		Token:         pos.Token.Hex(),
		Symbol:        pos.Symbol,
		EntryTime:     pos.EntryTime,
		EntryPriceETH: pos.EntryPrice,
		OriginalSize:  pos.OriginalSize,
		TotalSold:     pos.TotalSold,
		RealizedPnL:   pos.RealizedPnL,
		CloseReason:   string(pos.CloseReason),
		ExitValueETH:  pos.ExitPrice,
		LevelsHit:     len(pos.LevelsHit),
	})
	a.notify(ctx, fmt.Sprintf("closed %s (%s): reason %s, realized %.4f ETH",
		pos.Symbol, pos.Token.Hex(), pos.CloseReason, pos.RealizedPnL))
}

// reportStaleJournal surfaces journal entries left behind by a previous run.
// The wallet may still hold those tokens; disposal is the operator's call.
func (a *App) reportStaleJournal(ctx context.Context) {
	snapshots, err := state.LoadPositionSnapshots(ctx, a.store)
	if err != nil {
		a.log.Warn("position journal read failed", zap.Error(err))
		return
	}
	for _, snap := range snapshots {
		a.log.Warn("journal entry from previous run, wallet may hold this token",
			zap.String("token", snap.Token),
			zap.String("symbol", snap.Symbol),
			zap.Float64("remaining", snap.RemainingSize),
			zap.Time("updated_at", snap.UpdatedAt),
		)
	}
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (a *App) notify(ctx context.Context, message string) {
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("telegram send failed", zap.Error(err))
	}
}
