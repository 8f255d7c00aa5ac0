package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"launch-ladder-bot/internal/alerts"
	"launch-ladder-bot/internal/state"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
}

func (a *App) startOperator(ctx context.Context) {
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], "/")), true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(), nil
	case "positions":
		return a.operatorPositions(), nil
	case "journal":
		return a.operatorJournal(ctx)
	case "pause":
		before := a.isPaused()
		after := a.setPaused(true)
		a.auditOperatorEvent(ctx, meta, "pause", before, after)
		if before {
			return "entries already paused", nil
		}
		return "entries paused", nil
	case "resume":
		before := a.isPaused()
		after := a.setPaused(false)
		a.auditOperatorEvent(ctx, meta, "resume", before, after)
		if !before {
			return "entries already active", nil
		}
		return "entries resumed", nil
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) operatorStatus() string {
	closed := a.manager.Closed()
	realized := 0.0
	for _, pos := range closed {
		realized += pos.RealizedPnL
	}
	return strings.Join([]string{
		fmt.Sprintf("paused: %t", a.isPaused()),
		fmt.Sprintf("gateway_mode: %s", a.cfg.Gateway.Mode),
		fmt.Sprintf("open_positions: %d/%d", a.manager.OpenCount(), a.cfg.Risk.MaxOpenPositions),
		fmt.Sprintf("closed_positions: %d", len(closed)),
		fmt.Sprintf("realized_pnl_eth: %.6f", realized),
	}, "\n")
}

func (a *App) operatorPositions() string {
	handles := a.manager.Handles()
	if len(handles) == 0 {
		return "no open positions"
	}
	lines := make([]string, 0, len(handles))
	for _, h := range handles {
		h.Lock()
		pos := h.Position()
		lines = append(lines, fmt.Sprintf("%s %s: remaining %.2f/%.2f, levels %d, pnl %.6f ETH, deadline %s",
			pos.Symbol,
			pos.Token.Hex(),
			pos.RemainingSize,
			pos.OriginalSize,
			len(pos.LevelsHit),
			pos.RealizedPnL,
			pos.MaxHoldDeadline.UTC().Format(time.RFC3339),
		))
		h.Unlock()
	}
	return strings.Join(lines, "\n")
}

func (a *App) operatorJournal(ctx context.Context) (string, error) {
	snapshots, err := state.LoadPositionSnapshots(ctx, a.store)
	if err != nil {
		return "", err
	}
	if len(snapshots) == 0 {
		return "journal empty", nil
	}
	lines := make([]string, 0, len(snapshots))
	for _, snap := range snapshots {
		lines = append(lines, fmt.Sprintf("%s %s: remaining %.2f, sold %.2f, updated %s",
			snap.Symbol,
			snap.Token,
			snap.RemainingSize,
			snap.TotalSold,
			snap.UpdatedAt.UTC().Format(time.RFC3339),
		))
	}
	return strings.Join(lines, "\n"), nil
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - bot status and realized pnl",
		"/positions - open positions",
		"/journal - persisted position journal",
		"/pause - stop opening new positions",
		"/resume - resume opening positions",
	}, "\n")
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, meta operatorMeta, action string, before, after bool) {
	event := operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         time.Now().UTC(),
		Action:       action,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		PausedBefore: before,
		PausedAfter:  after,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	_ = a.store.Set(ctx, key, string(payload))
}
