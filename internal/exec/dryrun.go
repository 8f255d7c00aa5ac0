package exec

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// driftCycle is the fixed price path every dry-run token walks, one step per
// quote. The values are arbitrary but stable, so replays are reproducible.
var driftCycle = []float64{1.12, 0.96, 1.25, 1.08, 0.85, 1.40, 1.02, 0.92}

// DryRun fabricates deterministic fills without any network access. The base
// price of a token is derived from its address, and each quote advances the
// token one step along driftCycle.
type DryRun struct {
	log *zap.Logger

	mu    sync.Mutex
	books map[common.Address]*dryBook
}

type dryBook struct {
	basePrice float64
	factor    float64
	step      int
}

func NewDryRun(log *zap.Logger) *DryRun {
	return &DryRun{log: log, books: make(map[common.Address]*dryBook)}
}

func (d *DryRun) Buy(ctx context.Context, order BuyOrder) (Fill, error) {
	_ = ctx
	if order.AmountETH <= 0 {
		return Fill{}, fmt.Errorf("buy amount must be > 0")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	book := d.book(order.Token)
	tokens := order.AmountETH / book.price()
	d.log.Debug("dry-run buy",
		zap.String("token", order.Token.Hex()),
		zap.Float64("eth_in", order.AmountETH),
		zap.Float64("tokens_out", tokens),
	)
	return Fill{AmountOut: tokens, TxRef: book.txRef(order.Token)}, nil
}

func (d *DryRun) Sell(ctx context.Context, order SellOrder) (Fill, error) {
	_ = ctx
	if order.AmountTokens <= 0 {
		return Fill{}, fmt.Errorf("sell amount must be > 0")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	book := d.book(order.Token)
	eth := order.AmountTokens * book.price()
	d.log.Debug("dry-run sell",
		zap.String("token", order.Token.Hex()),
		zap.Float64("tokens_in", order.AmountTokens),
		zap.Float64("eth_out", eth),
	)
	return Fill{AmountOut: eth, TxRef: book.txRef(order.Token)}, nil
}

func (d *DryRun) Quote(ctx context.Context, token common.Address, amountTokens float64) (float64, error) {
	_ = ctx
	if amountTokens <= 0 {
		return 0, fmt.Errorf("quote amount must be > 0")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	book := d.book(token)
	value := amountTokens * book.price()
	book.advance()
	return value, nil
}

func (d *DryRun) book(token common.Address) *dryBook {
	if book, ok := d.books[token]; ok {
		return book
	}
	seed := binary.BigEndian.Uint64(crypto.Keccak256(token.Bytes())[:8])
	book := &dryBook{
		basePrice: 1e-7 + float64(seed%9000)*1e-9,
		factor:    1.0,
	}
	d.books[token] = book
	return book
}

func (b *dryBook) price() float64 {
	return b.basePrice * b.factor
}

func (b *dryBook) advance() {
	b.factor *= driftCycle[b.step%len(driftCycle)]
	b.step++
}

func (b *dryBook) txRef(token common.Address) string {
	return fmt.Sprintf("dry-%s-%d", token.Hex()[2:10], b.step)
}
