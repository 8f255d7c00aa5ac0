package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"launch-ladder-bot/internal/exec"
)

// fallbackMaxAge bounds how old a cached unit price may be before a failed
// quote becomes a hard error instead of a degraded answer.
const fallbackMaxAge = 2 * time.Minute

// Quote values referenceSize tokens in ETH. Confidence is 1 for a live venue
// quote and halves when the answer comes from the cached fallback.
type Quote struct {
	ValueETH   float64
	Confidence float64
	AsOf       time.Time
}

type Oracle interface {
	Quote(ctx context.Context, token common.Address, referenceSize float64) (Quote, error)
}

// GatewayOracle prices positions through the execution gateway's own quoting
// path, falling back to the last known unit price when the venue is briefly
// unreachable.
type GatewayOracle struct {
	gateway exec.Gateway
	log     *zap.Logger

	mu   sync.Mutex
	last map[common.Address]unitPrice
}

type unitPrice struct {
	perToken float64
	asOf     time.Time
}

func NewGatewayOracle(gateway exec.Gateway, log *zap.Logger) *GatewayOracle {
	return &GatewayOracle{gateway: gateway, log: log, last: make(map[common.Address]unitPrice)}
}

func (o *GatewayOracle) Quote(ctx context.Context, token common.Address, referenceSize float64) (Quote, error) {
	if referenceSize <= 0 {
		return Quote{}, fmt.Errorf("reference size must be > 0")
	}
	now := time.Now().UTC()
	value, err := o.gateway.Quote(ctx, token, referenceSize)
	if err == nil && value > 0 {
		o.mu.Lock()
		o.last[token] = unitPrice{perToken: value / referenceSize, asOf: now}
		o.mu.Unlock()
		return Quote{ValueETH: value, Confidence: 1, AsOf: now}, nil
	}
	o.mu.Lock()
	cached, ok := o.last[token]
	o.mu.Unlock()
	if !ok || now.Sub(cached.asOf) > fallbackMaxAge {
		if err == nil {
			err = fmt.Errorf("gateway quoted zero value")
		}
		return Quote{}, fmt.Errorf("quote %s: %w", token.Hex(), err)
	}
	o.log.Debug("gateway quote failed, using cached price",
		zap.String("token", token.Hex()),
		zap.Time("cached_at", cached.asOf),
		zap.Error(err),
	)
	return Quote{ValueETH: cached.perToken * referenceSize, Confidence: 0.5, AsOf: cached.asOf}, nil
}
