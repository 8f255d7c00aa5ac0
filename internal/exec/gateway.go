package exec

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// BuyOrder spends AmountETH on the launch token.
type BuyOrder struct {
	Token     common.Address
	AmountETH float64
	ClientRef string
}

// SellOrder converts AmountTokens back into ETH.
type SellOrder struct {
	Token        common.Address
	AmountTokens float64
	ClientRef    string
}

// Fill is the venue's report of an executed swap. AmountOut is tokens for a
// buy and ETH for a sell.
type Fill struct {
	AmountOut float64
	TxRef     string
}

// Gateway is the single execution boundary: one concrete adapter per venue,
// selected by configuration. Quote prices a hypothetical sale of amountTokens
// and returns its current ETH value.
type Gateway interface {
	Buy(ctx context.Context, order BuyOrder) (Fill, error)
	Sell(ctx context.Context, order SellOrder) (Fill, error)
	Quote(ctx context.Context, token common.Address, amountTokens float64) (float64, error)
}
